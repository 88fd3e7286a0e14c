package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run not found")

// RunStatus mirrors the scrape_runs status column.
type RunStatus string

// Run statuses persisted in scrape_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run models one Scrape call.
type Run struct {
	ID         uuid.UUID  `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     RunStatus  `json:"status"`
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string `json:"error_message,omitempty"`
}

// ResourceTally aggregates task outcomes per resource within a run.
type ResourceTally struct {
	RunID      uuid.UUID `json:"run_id"`
	Resource   string    `json:"resource"`
	LastUpdate time.Time `json:"last_update"`
	Attempts   int64     `json:"attempts"`
	Found      int64     `json:"found"`
	NotFound   int64     `json:"not_found"`
	Failed     int64     `json:"failed"`
}

// TallyDelta is an increment applied to a ResourceTally.
type TallyDelta struct {
	Attempts int64
	Found    int64
	NotFound int64
	Failed   int64
}

// RunRepository persists run progress.
type RunRepository interface {
	// UpsertRunStart inserts the run, or leaves an existing row untouched.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// AddResourceTally applies a delta to the (run, resource) counters.
	AddResourceTally(ctx context.Context, runID uuid.UUID, resource string, delta TallyDelta, at time.Time) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs filtered by optional status plus limit/offset.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	// ListRunResources returns per-resource tallies for one run.
	ListRunResources(ctx context.Context, runID uuid.UUID) ([]ResourceTally, error)
}
