// Package ingest applies batches of run reports to storage with
// insert-or-update semantics keyed on the derived identity.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/pipewatch/pipewatch/pkg/run"
	"github.com/pipewatch/pipewatch/pkg/store"
)

// Engine turns validated run reports into persisted rows, one logical
// upsert per report. It is stateless per call; any number of Ingest
// calls may run concurrently.
type Engine struct {
	log   logrus.FieldLogger
	store store.Store
}

// NewEngine creates a new ingestion engine.
func NewEngine(log logrus.FieldLogger, st store.Store) *Engine {
	return &Engine{
		log:   log.WithField("component", "ingest"),
		store: st,
	}
}

// Ingest validates every report, derives identities, and applies the
// whole batch in one storage transaction. The returned rows correspond
// to the inputs in order and carry post-write values, including the
// pre-existing id when a report collided with a stored identity.
//
// The first invalid report rejects the batch with a
// *run.ValidationError before any write is attempted; storage failures
// surface as store.ErrUnavailable or store.ErrIntegrity.
func (e *Engine) Ingest(
	ctx context.Context, reports []run.Report,
) ([]store.PipelineRun, error) {
	// Validation completes for the full batch before any write begins.
	for i := range reports {
		if err := reports[i].Validate(); err != nil {
			var verr *run.ValidationError
			if errors.As(err, &verr) {
				verr.Index = i
			}

			return nil, err
		}
	}

	rows := make([]*store.PipelineRun, len(reports))
	for i := range reports {
		rows[i] = toRow(&reports[i])
	}

	if err := e.store.UpsertRuns(ctx, rows); err != nil {
		if errors.Is(err, store.ErrIntegrity) {
			e.log.WithError(err).
				WithField("batch_size", len(reports)).
				Error("Batch rejected by storage constraint")
		}

		return nil, fmt.Errorf("ingesting %d reports: %w",
			len(reports), err)
	}

	out := make([]store.PipelineRun, len(rows))
	for i, r := range rows {
		out[i] = *r
	}

	e.log.WithField("count", len(out)).Debug("Ingested run reports")

	return out, nil
}

// toRow maps a validated report onto its persisted shape.
func toRow(r *run.Report) *store.PipelineRun {
	row := &store.PipelineRun{
		IdentityKey: r.IdentityKey(),
		BuildID:     r.BuildID,
		Branch:      r.Branch,
		Result:      r.Result,
		StartTime:   r.StartTime.Time,
		RepoName:    r.RepoName,
		CommitSHA:   r.CommitSHA,
		Runner:      r.Runner,
		Workflow:    r.Workflow,
	}

	if r.EndTime.Present() {
		end := r.EndTime.Time
		row.EndTime = &end
	}

	return row
}
