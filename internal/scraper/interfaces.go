package scraper

import (
	"context"
	"time"

	"github.com/JakeFAU/isbn-scraper/internal/book"
	"github.com/JakeFAU/isbn-scraper/internal/resource"
)

// Fetcher performs whatever navigation or request a resource needs and
// returns a partial record. A nil record with a nil error means the resource
// definitively does not know the ISBN. Session is nil for resources that do
// not require a rendering session.
type Fetcher interface {
	Fetch(ctx context.Context, session Session, isbn string, res resource.Descriptor) (*book.Record, error)
}

// Session is one browser execution context owned by a tab slot.
type Session interface {
	Render(ctx context.Context, req RenderRequest) (Page, error)
	// Reset returns the session to a blank page.
	Reset(ctx context.Context) error
	Close() error
}

// Browser creates sessions for the tab pool.
type Browser interface {
	NewSession(ctx context.Context) (Session, error)
	Close() error
}

// Validator normalizes raw ISBN input.
type Validator func(raw string) (string, error)

// ResultSink persists or publishes the outcome of a run.
type ResultSink interface {
	WriteRun(ctx context.Context, run RunResult) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task and run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
