// Package postgres keeps fetch run history in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/gsc-tracker/internal/store"
)

const defaultTable = "fetch_runs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool behind FetchRunStore.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool the store needs.
type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// FetchRunStore implements store.FetchRunRepository.
type FetchRunStore struct {
	pool  pool
	table string
}

var _ store.FetchRunRepository = (*FetchRunStore)(nil)

// NewFetchRunStore connects to Postgres using cfg.
func NewFetchRunStore(ctx context.Context, cfg Config) (*FetchRunStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewFetchRunStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewFetchRunStoreWithPool wraps an existing pool, mainly for tests.
func NewFetchRunStoreWithPool(p pool, table string) (*FetchRunStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &FetchRunStore{pool: p, table: table}, nil
}

// EnsureSchema creates the runs table and its link index when missing.
func (s *FetchRunStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	id uuid PRIMARY KEY,
	link_id text NOT NULL,
	site text NOT NULL DEFAULT '',
	started_at timestamptz NOT NULL,
	finished_at timestamptz,
	status text NOT NULL,
	queries bigint NOT NULL DEFAULT 0,
	failed_queries bigint NOT NULL DEFAULT 0,
	raw_rows bigint NOT NULL DEFAULT 0,
	dates bigint NOT NULL DEFAULT 0,
	error_message text
);
CREATE INDEX IF NOT EXISTS %[1]s_link_started_idx ON %[1]s (link_id, started_at DESC);`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure %s schema: %w", s.table, err)
	}
	return nil
}

// Ping checks connectivity.
func (s *FetchRunStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *FetchRunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StartRun inserts a running row, leaving an existing row untouched.
func (s *FetchRunStore) StartRun(ctx context.Context, runID uuid.UUID, linkID, site string, startedAt time.Time) error {
	query := fmt.Sprintf(`INSERT INTO %s (id, link_id, site, started_at, status)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`, s.table)
	if _, err := s.pool.Exec(ctx, query, runID, linkID, site, startedAt, string(store.RunRunning)); err != nil {
		return fmt.Errorf("start fetch run: %w", err)
	}
	return nil
}

// AddQueries increments the query counters of a run.
func (s *FetchRunStore) AddQueries(ctx context.Context, runID uuid.UUID, delta store.QueryDelta) error {
	query := fmt.Sprintf(`UPDATE %s
SET queries = queries + $2, failed_queries = failed_queries + $3, raw_rows = raw_rows + $4
WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, runID, delta.Queries, delta.Failed, delta.Rows)
	if err != nil {
		return fmt.Errorf("add fetch run queries: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("add fetch run queries %s: %w", runID, store.ErrNotFound)
	}
	return nil
}

// CompleteRun stores the terminal status of a run.
func (s *FetchRunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	dates int64,
	errMsg *string,
) error {
	query := fmt.Sprintf(`UPDATE %s
SET finished_at = $2, status = $3, dates = $4, error_message = $5
WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, runID, finishedAt, string(status), dates, errMsg)
	if err != nil {
		return fmt.Errorf("complete fetch run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete fetch run %s: %w", runID, store.ErrNotFound)
	}
	return nil
}

func (s *FetchRunStore) selectColumns() string {
	return fmt.Sprintf(`SELECT id::text, link_id, site, started_at, finished_at, status,
	queries, failed_queries, raw_rows, dates, error_message
FROM %s`, s.table)
}

// GetRun loads a run by id.
func (s *FetchRunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.FetchRun, error) {
	query := s.selectColumns() + "\nWHERE id = $1"
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.FetchRun{}, store.ErrNotFound
	}
	if err != nil {
		return store.FetchRun{}, fmt.Errorf("get fetch run: %w", err)
	}
	return run, nil
}

// ListRuns pages through a link's runs, newest first.
func (s *FetchRunStore) ListRuns(ctx context.Context, linkID string, limit, offset int) ([]store.FetchRun, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := s.selectColumns() + "\nWHERE link_id = $1\nORDER BY started_at DESC\nLIMIT $2 OFFSET $3"
	rows, err := s.pool.Query(ctx, query, linkID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list fetch runs: %w", err)
	}
	defer rows.Close()

	runs := []store.FetchRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fetch run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list fetch runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.FetchRun, error) {
	var (
		run    store.FetchRun
		id     string
		status string
	)
	if err := row.Scan(
		&id,
		&run.LinkID,
		&run.Site,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.Queries,
		&run.FailedQueries,
		&run.RawRows,
		&run.Dates,
		&run.ErrorMessage,
	); err != nil {
		return store.FetchRun{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return store.FetchRun{}, fmt.Errorf("parse run id %q: %w", id, err)
	}
	run.ID = parsed
	run.Status = store.RunStatus(status)
	return run, nil
}
