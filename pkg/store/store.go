// Package store persists pipeline runs in a relational database keyed by
// the derived identity, and serves the scans the read paths fold over.
package store

import (
	"context"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/pipewatch/pipewatch/pkg/config"
	"github.com/pipewatch/pipewatch/pkg/run"
)

// maxListLimit caps the recent-runs listing window.
const maxListLimit = 100

// Store provides persistence for pipeline runs.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// UpsertRuns applies every row in one transaction: insert, or on
	// identity_key conflict overwrite all non-key columns of the existing
	// row. Rows are reloaded in place so callers see post-write values
	// including the pre-existing id. All-or-nothing.
	UpsertRuns(ctx context.Context, runs []*PipelineRun) error

	// ListRecent returns up to limit runs ordered by start_time
	// descending. Limits outside (0, maxListLimit] are clamped.
	ListRecent(ctx context.Context, limit int) ([]PipelineRun, error)

	// CountsByResult groups stored rows by result value. Values with no
	// rows are absent from the map.
	CountsByResult(ctx context.Context) (map[run.Result]int64, error)

	// RunsByBranchStartDesc returns every run ordered by branch, then
	// start_time descending, then id descending, so the first row per
	// branch is the latest run with ties broken by highest id.
	RunsByBranchStartDesc(ctx context.Context) ([]PipelineRun, error)

	// Ping round-trips a trivial query against the database.
	Ping(ctx context.Context) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	if s.cfg.Driver == "sqlite" {
		// sqlite serializes writers anyway, and a single pooled
		// connection keeps :memory: databases shared across queries.
		sqlDB, err := s.db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&PipelineRun{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// upsertColumns are the columns overwritten when an incoming row collides
// on identity_key. The primary key, the identity itself, and created_at
// are preserved.
var upsertColumns = []string{
	"build_id", "branch", "result", "start_time", "end_time",
	"repo_name", "commit_sha", "runner", "workflow", "updated_at",
}

func (s *store) UpsertRuns(
	ctx context.Context, runs []*PipelineRun,
) error {
	if len(runs) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, r := range runs {
			// Single atomic insert-or-update statement; never a
			// separate existence check followed by a write.
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "identity_key"}},
				DoUpdates: clause.AssignmentColumns(upsertColumns),
			}).Create(r).Error; err != nil {
				return fmt.Errorf("upserting run: %w", err)
			}

			// Reload into a fresh value so the caller sees post-write
			// state, including the id of a pre-existing row on the
			// conflict path. Reloading through r would let a stale
			// auto-assigned id leak into the query conditions.
			var persisted PipelineRun
			if err := tx.
				Where("identity_key = ?", r.IdentityKey).
				First(&persisted).Error; err != nil {
				return fmt.Errorf("reloading upserted run: %w", err)
			}

			*r = persisted
		}

		return nil
	})
	if err != nil {
		return classify(err)
	}

	return nil
}

func (s *store) ListRecent(
	ctx context.Context, limit int,
) ([]PipelineRun, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	var runs []PipelineRun
	if err := s.db.WithContext(ctx).
		Order("start_time DESC").
		Limit(limit).
		Find(&runs).Error; err != nil {
		return nil, classify(fmt.Errorf("listing recent runs: %w", err))
	}

	return runs, nil
}

func (s *store) CountsByResult(
	ctx context.Context,
) (map[run.Result]int64, error) {
	var rows []struct {
		Result string
		Count  int64
	}

	if err := s.db.WithContext(ctx).
		Model(&PipelineRun{}).
		Select("result, count(*) AS count").
		Group("result").
		Scan(&rows).Error; err != nil {
		return nil, classify(fmt.Errorf("counting runs by result: %w", err))
	}

	counts := make(map[run.Result]int64, len(rows))
	for _, row := range rows {
		counts[run.Result(row.Result)] = row.Count
	}

	return counts, nil
}

func (s *store) RunsByBranchStartDesc(
	ctx context.Context,
) ([]PipelineRun, error) {
	var runs []PipelineRun
	if err := s.db.WithContext(ctx).
		Order("branch ASC, start_time DESC, id DESC").
		Find(&runs).Error; err != nil {
		return nil, classify(fmt.Errorf("scanning runs by branch: %w", err))
	}

	return runs, nil
}

func (s *store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.WithContext(ctx).
		Raw("SELECT 1").
		Scan(&one).Error; err != nil {
		return classify(fmt.Errorf("pinging database: %w", err))
	}

	return nil
}
