package run_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipewatch/pipewatch/pkg/run"
)

func baseReport() run.Report {
	return run.Report{
		BuildID:   "b1",
		Branch:    "main",
		Result:    run.ResultSuccess,
		StartTime: run.NewTimestamp(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
		EndTime:   run.NewTimestamp(time.Date(2025, 1, 1, 0, 5, 0, 0, time.UTC)),
		RepoName:  "repo1",
		CommitSHA: "abc123",
	}
}

func TestIdentityKey_Deterministic(t *testing.T) {
	a := baseReport()
	b := baseReport()

	require.Equal(t, a.IdentityKey(), b.IdentityKey())
	require.Equal(t, a.IdentityKey(), a.IdentityKey())
	assert.Len(t, a.IdentityKey(), 64)
	assert.Regexp(t, "^[0-9a-f]{64}$", a.IdentityKey())
}

func TestIdentityKey_SensitiveToEveryField(t *testing.T) {
	base := baseReport()
	baseKey := base.IdentityKey()

	mutations := map[string]func(*run.Report){
		"build_id": func(r *run.Report) { r.BuildID = "b2" },
		"branch":   func(r *run.Report) { r.Branch = "develop" },
		"result":   func(r *run.Report) { r.Result = run.ResultFailed },
		"start_time": func(r *run.Report) {
			r.StartTime = run.NewTimestamp(
				time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
			)
		},
		"end_time absent": func(r *run.Report) { r.EndTime = run.Timestamp{} },
		"repo_name":       func(r *run.Report) { r.RepoName = "repo2" },
		"commit_sha":      func(r *run.Report) { r.CommitSHA = "def456" },
		"runner":          func(r *run.Report) { r.Runner = "self-hosted" },
		"workflow":        func(r *run.Report) { r.Workflow = "nightly" },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			report := baseReport()
			mutate(&report)

			assert.NotEqual(t, baseKey, report.IdentityKey(),
				"changing %s must change the identity", name)
		})
	}
}

func TestIdentityKey_SameBuildBranchDifferentResult(t *testing.T) {
	first := baseReport()
	first.Result = run.ResultRunning
	first.EndTime = run.Timestamp{}

	second := baseReport()
	second.Result = run.ResultSuccess

	// Same (build_id, branch) pair, different report body: a new
	// identity, so storage appends rather than updates.
	assert.NotEqual(t, first.IdentityKey(), second.IdentityKey())
}
