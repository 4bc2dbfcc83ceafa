package ingest_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipewatch/pipewatch/pkg/config"
	"github.com/pipewatch/pipewatch/pkg/ingest"
	"github.com/pipewatch/pipewatch/pkg/run"
	"github.com/pipewatch/pipewatch/pkg/store"
)

func setupEngine(t *testing.T) (*ingest.Engine, store.Store) {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: ":memory:"},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return ingest.NewEngine(log, s), s
}

func report(buildID, branch string, result run.Result, start time.Time) run.Report {
	return run.Report{
		BuildID:   buildID,
		Branch:    branch,
		Result:    result,
		StartTime: run.NewTimestamp(start),
	}
}

func TestEngine_IngestCreatesRow(t *testing.T) {
	engine, _ := setupEngine(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	saved, err := engine.Ingest(ctx, []run.Report{
		report("b1", "main", run.ResultRunning, start),
	})
	require.NoError(t, err)
	require.Len(t, saved, 1)

	assert.NotZero(t, saved[0].ID)
	assert.Len(t, saved[0].IdentityKey, 64)
	assert.Equal(t, "b1", saved[0].BuildID)
	assert.Equal(t, run.ResultRunning, saved[0].Result)
	assert.Nil(t, saved[0].EndTime)
	assert.Nil(t, saved[0].DurationSeconds())
}

func TestEngine_RepeatedIngestConverges(t *testing.T) {
	engine, s := setupEngine(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := report("b1", "main", run.ResultSuccess, start)

	var firstID uint

	// Submitting the same report N times leaves exactly one row whose
	// id is identical across all responses.
	for i := 0; i < 4; i++ {
		saved, err := engine.Ingest(ctx, []run.Report{r})
		require.NoError(t, err)
		require.Len(t, saved, 1)

		if i == 0 {
			firstID = saved[0].ID
		}

		assert.Equal(t, firstID, saved[0].ID)
	}

	rows, err := s.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestEngine_ChangedResultInsertsNewRow(t *testing.T) {
	engine, s := setupEngine(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	first, err := engine.Ingest(ctx, []run.Report{
		report("b1", "main", run.ResultRunning, start),
	})
	require.NoError(t, err)

	// Same (build_id, branch), different body: a corrected re-report
	// carries a new identity and appends rather than updates.
	second := report("b1", "main", run.ResultSuccess, start)
	second.EndTime = run.NewTimestamp(start.Add(5 * time.Minute))

	saved, err := engine.Ingest(ctx, []run.Report{second})
	require.NoError(t, err)
	require.Len(t, saved, 1)

	assert.NotEqual(t, first[0].ID, saved[0].ID)
	assert.NotEqual(t, first[0].IdentityKey, saved[0].IdentityKey)

	require.NotNil(t, saved[0].DurationSeconds())
	assert.Equal(t, 300.0, *saved[0].DurationSeconds())

	rows, err := s.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestEngine_BatchPreservesInputOrder(t *testing.T) {
	engine, _ := setupEngine(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	reports := []run.Report{
		report("b3", "dev", run.ResultFailed, start.Add(2*time.Hour)),
		report("b1", "main", run.ResultSuccess, start),
		report("b2", "main", run.ResultCanceled, start.Add(time.Hour)),
	}

	saved, err := engine.Ingest(ctx, reports)
	require.NoError(t, err)
	require.Len(t, saved, 3)

	for i := range reports {
		assert.Equal(t, reports[i].BuildID, saved[i].BuildID)
		assert.Equal(t, reports[i].Result, saved[i].Result)
	}
}

func TestEngine_InvalidReportRejectsWholeBatch(t *testing.T) {
	engine, s := setupEngine(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	bad := report("b2", "main", run.ResultSuccess, start)
	bad.EndTime = run.NewTimestamp(start.Add(-time.Minute))

	_, err := engine.Ingest(ctx, []run.Report{
		report("b1", "main", run.ResultSuccess, start),
		bad,
		report("b3", "main", run.ResultSuccess, start),
	})

	var verr *run.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 1, verr.Index)
	assert.Equal(t, "end_time", verr.Field)

	// Nothing was written for any report in the batch.
	rows, listErr := s.ListRecent(ctx, 10)
	require.NoError(t, listErr)
	assert.Empty(t, rows)
}

func TestEngine_NaiveTimestampRejected(t *testing.T) {
	engine, s := setupEngine(t)
	ctx := context.Background()

	naive := run.Report{
		BuildID: "b1",
		Branch:  "main",
		Result:  run.ResultSuccess,
	}
	require.NoError(t, naive.StartTime.UnmarshalJSON(
		[]byte(`"2025-01-01T00:00:00"`),
	))

	_, err := engine.Ingest(ctx, []run.Report{naive})

	var verr *run.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "start_time", verr.Field)

	rows, listErr := s.ListRecent(ctx, 10)
	require.NoError(t, listErr)
	assert.Empty(t, rows)
}

func TestEngine_ZeroDurationAccepted(t *testing.T) {
	engine, _ := setupEngine(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	r := report("b1", "main", run.ResultSuccess, start)
	r.EndTime = run.NewTimestamp(start)

	saved, err := engine.Ingest(ctx, []run.Report{r})
	require.NoError(t, err)
	require.Len(t, saved, 1)

	require.NotNil(t, saved[0].DurationSeconds())
	assert.Equal(t, 0.0, *saved[0].DurationSeconds())
}
