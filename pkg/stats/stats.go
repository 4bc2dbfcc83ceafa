// Package stats computes aggregated views over the stored pipeline runs.
package stats

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pipewatch/pipewatch/pkg/run"
	"github.com/pipewatch/pipewatch/pkg/store"
)

// Summary is the aggregated dashboard view, computed fresh on every call.
type Summary struct {
	// CountsByResult maps each observed result value to its row count.
	// Unobserved values are absent, not zero-filled.
	CountsByResult map[run.Result]int64

	// AvgDurationSecondsByBranch maps branch to the mean duration over
	// rows with a non-null end_time. Branches with no finished run are
	// absent.
	AvgDurationSecondsByBranch map[string]float64

	// LatestRunByBranch maps branch to the row with the greatest
	// start_time, ties resolved to the highest id.
	LatestRunByBranch map[string]store.PipelineRun
}

// Engine computes summaries against current storage state.
type Engine struct {
	log   logrus.FieldLogger
	store store.Store
}

// NewEngine creates a new aggregation engine.
func NewEngine(log logrus.FieldLogger, st store.Store) *Engine {
	return &Engine{
		log:   log.WithField("component", "stats"),
		store: st,
	}
}

// Summarize folds the three derived views out of two storage reads: a
// grouped count by result, and one scan ordered by branch then
// start_time descending that yields both the per-branch mean duration
// and the latest run per branch. The reads run concurrently.
func (e *Engine) Summarize(ctx context.Context) (*Summary, error) {
	var (
		counts  map[run.Result]int64
		ordered []store.PipelineRun
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		c, err := e.store.CountsByResult(gctx)
		if err != nil {
			return err
		}

		counts = c

		return nil
	})

	g.Go(func() error {
		runs, err := e.store.RunsByBranchStartDesc(gctx)
		if err != nil {
			return err
		}

		ordered = runs

		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("summarizing runs: %w", err)
	}

	type durationAcc struct {
		sum float64
		n   int64
	}

	avg := make(map[string]float64)
	latest := make(map[string]store.PipelineRun)
	accs := make(map[string]*durationAcc)

	for i := range ordered {
		r := &ordered[i]

		// First row per branch is the latest run: the scan orders by
		// start_time descending then id descending within each branch.
		if _, seen := latest[r.Branch]; !seen {
			latest[r.Branch] = *r
		}

		if d := r.DurationSeconds(); d != nil {
			acc := accs[r.Branch]
			if acc == nil {
				acc = &durationAcc{}
				accs[r.Branch] = acc
			}

			acc.sum += *d
			acc.n++
		}
	}

	for branch, acc := range accs {
		avg[branch] = acc.sum / float64(acc.n)
	}

	e.log.WithField("branches", len(latest)).
		WithField("runs", len(ordered)).
		Debug("Summary computed")

	return &Summary{
		CountsByResult:             counts,
		AvgDurationSecondsByBranch: avg,
		LatestRunByBranch:          latest,
	}, nil
}
