package store

import (
	"time"

	"github.com/pipewatch/pipewatch/pkg/run"
)

// PipelineRun is the persisted record of one reported pipeline execution.
// identity_key is the sole uniqueness constraint; the surrogate id never
// changes once assigned.
type PipelineRun struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	IdentityKey string     `gorm:"uniqueIndex;not null;size:64" json:"identity_key"`
	BuildID     string     `gorm:"not null;index" json:"build_id"`
	Branch      string     `gorm:"not null;index" json:"branch"`
	Result      run.Result `gorm:"not null" json:"result"`
	StartTime   time.Time  `gorm:"not null;index" json:"start_time"`
	EndTime     *time.Time `json:"end_time"`
	RepoName    string     `json:"repo_name,omitempty"`
	CommitSHA   string     `json:"commit_sha,omitempty"`
	Runner      string     `json:"runner,omitempty"`
	Workflow    string     `json:"workflow,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// DurationSeconds computes end_time - start_time in seconds, or nil while
// the run has no end_time. It is never persisted; every read path calls
// this at response-construction time.
func (r *PipelineRun) DurationSeconds() *float64 {
	if r.EndTime == nil {
		return nil
	}

	d := r.EndTime.Sub(r.StartTime).Seconds()

	return &d
}
