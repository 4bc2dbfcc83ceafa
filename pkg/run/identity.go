package run

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// IdentityKey derives the stable identity of the report: a SHA-256 hex
// digest over a pipe-delimited canonical string of every report field,
// absent optional fields contributing an empty segment. Any field change
// therefore yields a new identity (and a new stored row) rather than an
// in-place update of the same (build_id, branch) pair.
//
// The derivation is pure and deterministic across process restarts.
func (r *Report) IdentityKey() string {
	start := ""
	if r.StartTime.Present() {
		start = r.StartTime.Format(time.RFC3339Nano)
	}

	end := ""
	if r.EndTime.Present() {
		end = r.EndTime.Format(time.RFC3339Nano)
	}

	canonical := strings.Join([]string{
		r.BuildID,
		r.Branch,
		start,
		end,
		string(r.Result),
		r.RepoName,
		r.CommitSHA,
		r.Runner,
		r.Workflow,
	}, "|")

	sum := sha256.Sum256([]byte(canonical))

	return hex.EncodeToString(sum[:])
}
