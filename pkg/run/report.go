// Package run defines the inbound pipeline-run report, its validation
// rules, and the derivation of the stable identity key that storage
// upserts are keyed on.
package run

import (
	"encoding/json"
	"fmt"
	"time"
)

// Result is the closed set of pipeline run outcomes.
type Result string

const (
	ResultSuccess  Result = "success"
	ResultFailed   Result = "failed"
	ResultCanceled Result = "canceled"
	ResultRunning  Result = "running"
)

// Valid reports whether r is a member of the closed result set.
func (r Result) Valid() bool {
	switch r {
	case ResultSuccess, ResultFailed, ResultCanceled, ResultRunning:
		return true
	}

	return false
}

// Results returns all members of the result set.
func Results() []Result {
	return []Result{
		ResultSuccess, ResultFailed, ResultCanceled, ResultRunning,
	}
}

// Timestamp is a JSON timestamp that remembers whether the source text
// carried a UTC offset. Reports with offset-less timestamps must be
// rejected at validation time rather than silently assigned a zone, so
// decoding is lenient and Validate does the rejecting.
type Timestamp struct {
	time.Time

	present bool
	zoned   bool
}

// NewTimestamp builds a present, zone-carrying Timestamp from t.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t, present: true, zoned: true}
}

// Present reports whether a value was supplied.
func (t Timestamp) Present() bool { return t.present }

// Zoned reports whether the source text carried a UTC offset.
func (t Timestamp) Zoned() bool { return t.zoned }

// naiveLayouts are accepted during decoding only so that validation can
// name the offending field; a match here means the offset is missing.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// UnmarshalJSON decodes an RFC 3339 timestamp. Offset-less values are
// still parsed but flagged so Report.Validate can reject them.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Timestamp{}

		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}

	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		*t = Timestamp{Time: parsed, present: true, zoned: true}

		return nil
	}

	for _, layout := range naiveLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = Timestamp{Time: parsed, present: true, zoned: false}

			return nil
		}
	}

	return fmt.Errorf("invalid timestamp %q", s)
}

// MarshalJSON encodes the timestamp in RFC 3339 form, or null when absent.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if !t.present {
		return []byte("null"), nil
	}

	return json.Marshal(t.Format(time.RFC3339Nano))
}

// Report is one inbound description of a pipeline execution.
type Report struct {
	BuildID   string    `json:"build_id"`
	Branch    string    `json:"branch"`
	Result    Result    `json:"result"`
	StartTime Timestamp `json:"start_time"`
	EndTime   Timestamp `json:"end_time"`
	RepoName  string    `json:"repo_name,omitempty"`
	CommitSHA string    `json:"commit_sha,omitempty"`
	Runner    string    `json:"runner,omitempty"`
	Workflow  string    `json:"workflow,omitempty"`
}

// Validate checks the report against the data-model invariants and
// returns a field-naming *ValidationError on the first violation.
// It performs no I/O.
func (r *Report) Validate() error {
	if r.BuildID == "" {
		return newValidationError("build_id", "is required")
	}

	if r.Branch == "" {
		return newValidationError("branch", "is required")
	}

	if !r.Result.Valid() {
		return newValidationError("result",
			fmt.Sprintf("unrecognized value %q", string(r.Result)))
	}

	if !r.StartTime.Present() {
		return newValidationError("start_time", "is required")
	}

	if !r.StartTime.Zoned() {
		return newValidationError("start_time", "must be timezone-aware")
	}

	if r.EndTime.Present() {
		if !r.EndTime.Zoned() {
			return newValidationError("end_time", "must be timezone-aware")
		}

		if r.EndTime.Time.Before(r.StartTime.Time) {
			return newValidationError("end_time",
				"must be >= start_time")
		}
	}

	return nil
}
