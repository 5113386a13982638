// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vikigenius/bugscraper/internal/store"
)

const defaultTable = "sweep_runs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// RunStoreConfig controls the Postgres connection pool used for sweep runs.
type RunStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// RunStore writes sweep run rows into Postgres.
type RunStore struct {
	pool  execCloser
	table string
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore creates a Postgres-backed RunStore using the provided config.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: pool, table: table}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool execCloser, table string) (*RunStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the run table when it does not exist.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id           TEXT PRIMARY KEY,
	subdomain        TEXT NOT NULL,
	kind             TEXT NOT NULL,
	status           TEXT NOT NULL,
	units            INTEGER NOT NULL,
	fetched          INTEGER NOT NULL,
	empty            INTEGER NOT NULL,
	transport_errors INTEGER NOT NULL,
	shape_errors     INTEGER NOT NULL,
	skipped          INTEGER NOT NULL,
	saved            INTEGER NOT NULL,
	started_at       TIMESTAMPTZ NOT NULL,
	finished_at      TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// RecordRun upserts one sweep run row.
func (s *RunStore) RecordRun(ctx context.Context, run store.SweepRun) error {
	if s == nil || s.pool == nil {
		return errors.New("run store is not configured")
	}
	if run.RunID == "" {
		return errors.New("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	subdomain,
	kind,
	status,
	units,
	fetched,
	empty,
	transport_errors,
	shape_errors,
	skipped,
	saved,
	started_at,
	finished_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (run_id) DO UPDATE SET
	status = EXCLUDED.status,
	units = EXCLUDED.units,
	fetched = EXCLUDED.fetched,
	empty = EXCLUDED.empty,
	transport_errors = EXCLUDED.transport_errors,
	shape_errors = EXCLUDED.shape_errors,
	skipped = EXCLUDED.skipped,
	saved = EXCLUDED.saved,
	finished_at = EXCLUDED.finished_at`, s.table)

	if _, err := s.pool.Exec(ctx, query,
		run.RunID,
		run.Subdomain,
		run.Kind,
		run.Status,
		run.Units,
		run.Fetched,
		run.Empty,
		run.TransportErrors,
		run.ShapeErrors,
		run.Skipped,
		run.Saved,
		run.StartedAt,
		run.FinishedAt,
	); err != nil {
		return fmt.Errorf("insert sweep run %s: %w", run.RunID, err)
	}
	return nil
}
