// Package scraper defines the core types and collaborator contracts shared by
// the orchestration subsystems.
package scraper

import (
	"time"

	"github.com/JakeFAU/isbn-scraper/internal/book"
	"github.com/JakeFAU/isbn-scraper/internal/queue"
)

// TaskStatus is the lifecycle state of one (isbn, resource) attempt.
type TaskStatus string

// Task status values.
const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
)

// Task is one attempt of an ISBN against a single resource. It is created by
// the orchestrator and mutated only by the worker executing it.
type Task struct {
	ID          string         `json:"id"`
	ISBN        string         `json:"isbn"`
	ResourceID  string         `json:"resource_id"`
	Trial       int            `json:"trial"`
	Priority    queue.Priority `json:"priority"`
	Status      TaskStatus     `json:"status"`
	Result      *book.Record   `json:"result,omitempty"`
	Err         error          `json:"-"`
	StartedAt   time.Time      `json:"started_at,omitempty"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`
}

// Elapsed returns the execution time of a finished task.
func (t *Task) Elapsed() time.Duration {
	if t.StartedAt.IsZero() || t.CompletedAt.IsZero() {
		return 0
	}
	return t.CompletedAt.Sub(t.StartedAt)
}

// RenderRequest asks a browser session to load a page.
type RenderRequest struct {
	URL          string
	WaitSelector string
	UserAgent    string
	Timeout      time.Duration
}

// Page is the rendered state of a browser tab.
type Page struct {
	URL        string
	StatusCode int
	HTML       string
	Duration   time.Duration
}

// RunResult is the outcome of one Scrape call handed to result sinks.
type RunResult struct {
	RunID      string         `json:"run_id" yaml:"run_id"`
	StartedAt  time.Time      `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time      `json:"finished_at" yaml:"finished_at"`
	ISBNs      []string       `json:"isbns" yaml:"isbns"`
	Records    []*book.Record `json:"records" yaml:"records"`
}

// Found returns the non-nil records in input order.
func (r RunResult) Found() []*book.Record {
	out := make([]*book.Record, 0, len(r.Records))
	for _, rec := range r.Records {
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out
}
