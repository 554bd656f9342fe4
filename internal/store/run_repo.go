package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the runs.status column.
type RunStatus string

// Run statuses persisted in runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFatal   RunStatus = "fatal"
)

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunRunning, RunSuccess, RunPartial, RunFatal:
		return true
	default:
		return false
	}
}

// Run models one scrape run for API responses.
type Run struct {
	ID             uuid.UUID  `json:"id"`
	Board          string     `json:"board"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Status         RunStatus  `json:"status"`
	ThreadsPlanned int        `json:"threads_planned"`
	BatchesApplied int        `json:"batches_applied"`
	Errors         int64      `json:"errors"`
	// Note optionally stores the fatal error message.
	Note *string `json:"note,omitempty"`
}

// RunCompletion carries the final counters of a run.
type RunCompletion struct {
	FinishedAt     time.Time
	Status         RunStatus
	BatchesApplied int
	Errors         int64
	Note           *string
}

// RunRepository persists scrape run history.
type RunRepository interface {
	// StartRun inserts (or idempotently updates) a running run record.
	StartRun(ctx context.Context, id uuid.UUID, board string, startedAt time.Time, threadsPlanned int) error
	// CompleteRun marks the run finished with its final counters.
	CompleteRun(ctx context.Context, id uuid.UUID, done RunCompletion) error
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, id uuid.UUID) (Run, error)
	// ListRuns returns runs newest first, filtered by optional status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}
