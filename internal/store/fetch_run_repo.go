package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("fetch run not found")

// RunStatus mirrors the fetch_runs.status column.
type RunStatus string

// Fetch run statuses.
const (
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunError    RunStatus = "error"
	// RunSkipped marks runs whose link or cluster was trashed before they ran.
	RunSkipped RunStatus = "skipped"
)

// FetchRun is one background fetch of a link.
type FetchRun struct {
	ID         uuid.UUID  `json:"id"`
	LinkID     string     `json:"link_id"`
	Site       string     `json:"site"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     RunStatus  `json:"status"`
	// Queries and FailedQueries count Search Analytics calls.
	Queries       int64 `json:"queries"`
	FailedQueries int64 `json:"failed_queries"`
	// RawRows is the sum of rows returned across queries; Dates is the
	// number of merged dates written.
	RawRows      int64   `json:"raw_rows"`
	Dates        int64   `json:"dates"`
	ErrorMessage *string `json:"error_message,omitempty"`
}

// QueryDelta accumulates query outcomes for a run.
type QueryDelta struct {
	Queries int64
	Failed  int64
	Rows    int64
}

// FetchRunRepository persists fetch run history.
type FetchRunRepository interface {
	// StartRun records a running run; repeating it is a no-op.
	StartRun(ctx context.Context, runID uuid.UUID, linkID, site string, startedAt time.Time) error
	// AddQueries adds query counters to a run.
	AddQueries(ctx context.Context, runID uuid.UUID, delta QueryDelta) error
	// CompleteRun marks a run finished.
	CompleteRun(
		ctx context.Context,
		runID uuid.UUID,
		finishedAt time.Time,
		status RunStatus,
		dates int64,
		errMsg *string,
	) error
	// GetRun loads one run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (FetchRun, error)
	// ListRuns returns a link's runs, newest first.
	ListRuns(ctx context.Context, linkID string, limit, offset int) ([]FetchRun, error)
}
