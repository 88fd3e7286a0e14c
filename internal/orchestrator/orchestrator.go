// Package orchestrator turns a list of ISBNs into merged book records. Each
// ISBN walks through up to MaxTrials resources chosen by the health
// coordinator, one trial at a time, while a fixed set of workers drains the
// shared task queue.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/isbn-scraper/internal/book"
	"github.com/JakeFAU/isbn-scraper/internal/cache"
	"github.com/JakeFAU/isbn-scraper/internal/clock/system"
	"github.com/JakeFAU/isbn-scraper/internal/health"
	idgen "github.com/JakeFAU/isbn-scraper/internal/id/uuid"
	"github.com/JakeFAU/isbn-scraper/internal/isbn"
	"github.com/JakeFAU/isbn-scraper/internal/metrics"
	"github.com/JakeFAU/isbn-scraper/internal/progress"
	"github.com/JakeFAU/isbn-scraper/internal/queue"
	"github.com/JakeFAU/isbn-scraper/internal/queue/memory"
	"github.com/JakeFAU/isbn-scraper/internal/resource"
	"github.com/JakeFAU/isbn-scraper/internal/retry"
	"github.com/JakeFAU/isbn-scraper/internal/scraper"
	"github.com/JakeFAU/isbn-scraper/internal/tabs"
)

// ErrClosed is returned by Scrape after Close.
var ErrClosed = errors.New("orchestrator closed")

const tracerName = "github.com/JakeFAU/isbn-scraper/internal/orchestrator"

// Deps are the collaborators an Orchestrator coordinates. Registry,
// Coordinator, Executor and Fetcher are required; Pool is required when any
// registered resource needs a browser session.
type Deps struct {
	Registry    *resource.Registry
	Coordinator *health.Coordinator
	Executor    *retry.Executor
	Pool        *tabs.Pool
	Fetcher     scraper.Fetcher
	Validator   scraper.Validator
	Cache       *cache.Records
	Progress    *progress.Hub
	Sinks       []scraper.ResultSink
	Clock       scraper.Clock
	IDs         scraper.IDGenerator
	// Tracer defaults to the global OpenTelemetry provider's tracer.
	Tracer trace.Tracer
	Logger *zap.Logger
}

// Orchestrator owns the tab pool and progress hub it was given and releases
// them on Close.
type Orchestrator struct {
	cfg         Config
	maxTrials   int
	registry    *resource.Registry
	coordinator *health.Coordinator
	executor    *retry.Executor
	pool        *tabs.Pool
	fetcher     scraper.Fetcher
	validate    scraper.Validator
	cache       *cache.Records
	hub         *progress.Hub
	sinks       []scraper.ResultSink
	clock       scraper.Clock
	ids         scraper.IDGenerator
	tracer      trace.Tracer
	logger      *zap.Logger

	mu       sync.Mutex
	closed   bool
	active   sync.WaitGroup
	closeCtx context.Context
	shutdown context.CancelFunc
}

// New validates cfg and wires deps.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Registry == nil:
		return nil, fmt.Errorf("resource registry is required")
	case deps.Coordinator == nil:
		return nil, fmt.Errorf("health coordinator is required")
	case deps.Executor == nil:
		return nil, fmt.Errorf("retry executor is required")
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("fetcher is required")
	}
	if deps.Pool == nil {
		for _, d := range deps.Registry.All() {
			if d.RequiresSession() {
				return nil, fmt.Errorf("resource %s requires a tab pool", d.ID())
			}
		}
	}
	if deps.Validator == nil {
		deps.Validator = isbn.Normalize
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.IDs == nil {
		deps.IDs = idgen.New()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	closeCtx, shutdown := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:         cfg,
		maxTrials:   min(cfg.MaxTrials, deps.Registry.Len()),
		registry:    deps.Registry,
		coordinator: deps.Coordinator,
		executor:    deps.Executor,
		pool:        deps.Pool,
		fetcher:     deps.Fetcher,
		validate:    deps.Validator,
		cache:       deps.Cache,
		hub:         deps.Progress,
		sinks:       deps.Sinks,
		clock:       deps.Clock,
		ids:         deps.IDs,
		tracer:      deps.Tracer,
		logger:      deps.Logger,
		closeCtx:    closeCtx,
		shutdown:    shutdown,
	}, nil
}

// Scrape resolves every ISBN and returns one slot per input, in input order.
// A slot is nil when the ISBN was invalid or no resource produced a usable
// record. Resource failures never surface as errors; the returned error is
// non-nil only when ctx ends or the orchestrator closes mid-run, in which
// case the partial results gathered so far are still returned.
func (o *Orchestrator) Scrape(ctx context.Context, isbns []string) ([]*book.Record, error) {
	if err := o.begin(); err != nil {
		return nil, err
	}
	defer o.active.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(o.closeCtx, cancel)
	defer stop()

	r := o.newRun(isbns)
	ctx, span := o.tracer.Start(ctx, "orchestrator.scrape", trace.WithAttributes(
		attribute.String("run.id", r.id),
		attribute.Int("run.isbns", len(isbns)),
	))
	defer span.End()
	o.emit(r, progress.Event{Stage: progress.StageRunStart})
	o.logger.Info("scrape started",
		zap.String("run_id", r.id),
		zap.Int("isbns", len(isbns)),
		zap.Int("scheduled", len(r.pending)),
	)

	err := o.execute(ctx, r)
	results := r.results()
	finished := o.clock.Now()

	if err != nil {
		o.emit(r, progress.Event{Stage: progress.StageRunError, Dur: finished.Sub(r.startedAt), Note: err.Error()})
		o.logger.Warn("scrape interrupted", zap.String("run_id", r.id), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "scrape interrupted")
		return results, fmt.Errorf("scrape run %s: %w", r.id, err)
	}

	o.remember(r)
	o.emit(r, progress.Event{Stage: progress.StageRunDone, Dur: finished.Sub(r.startedAt)})
	o.writeSinks(ctx, scraper.RunResult{
		RunID:      r.id,
		StartedAt:  r.startedAt,
		FinishedAt: finished,
		ISBNs:      append([]string(nil), isbns...),
		Records:    results,
	})
	span.SetAttributes(attribute.Int("run.found", countFound(results)))
	o.logger.Info("scrape finished",
		zap.String("run_id", r.id),
		zap.Int("found", countFound(results)),
		zap.Duration("elapsed", finished.Sub(r.startedAt)),
	)
	return results, nil
}

// Stats returns per-resource health, ordered as registered.
func (o *Orchestrator) Stats() []health.Snapshot {
	return o.coordinator.Snapshot()
}

// Tabs returns the tab pool snapshot, or nil without a pool.
func (o *Orchestrator) Tabs() []tabs.SlotInfo {
	if o.pool == nil {
		return nil
	}
	return o.pool.Slots()
}

// Resources returns the registry the orchestrator schedules over.
func (o *Orchestrator) Resources() *resource.Registry {
	return o.registry
}

// ResetResource makes a resource Available again and closes its breaker.
func (o *Orchestrator) ResetResource(id string) error {
	if err := o.coordinator.ResetStatus(id); err != nil {
		return fmt.Errorf("reset resource: %w", err)
	}
	o.executor.Breakers().Get(id).RecordSuccess()
	return nil
}

// Close cancels running scrapes, waits for them to return, then shuts down
// the tab pool and flushes the progress hub. It is safe to call twice.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.shutdown()
	o.active.Wait()

	var errs []error
	if o.pool != nil {
		if err := o.pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close tab pool: %w", err))
		}
	}
	if err := o.hub.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close progress hub: %w", err))
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	o.active.Add(1)
	return nil
}

func (o *Orchestrator) newQueue() queue.Queue[*scraper.Task] {
	if o.cfg.Queue == QueueSimple {
		return memory.NewSimple[*scraper.Task]()
	}
	return memory.NewPriority[*scraper.Task]()
}

// execute seeds one task per pending ISBN, runs the workers and waits for
// the queue to drain.
func (o *Orchestrator) execute(ctx context.Context, r *run) error {
	if len(r.pending) == 0 {
		return nil
	}
	q := o.newQueue()
	for _, st := range r.pending {
		o.schedule(q, st)
	}

	var g errgroup.Group
	for i := 0; i < o.cfg.MaxConcurrentTasks; i++ {
		g.Go(func() error {
			o.work(ctx, r, q)
			return nil
		})
	}

	joinErr := q.Join(ctx)
	if dropped := q.Close(); len(dropped) > 0 {
		o.logger.Info("dropped queued tasks", zap.String("run_id", r.id), zap.Int("count", len(dropped)))
	}
	_ = g.Wait()
	if joinErr != nil {
		return joinErr
	}
	return ctx.Err()
}

// schedule picks the next untried resource for st and enqueues a task. It
// reports false when the ISBN is finished.
func (o *Orchestrator) schedule(q queue.Queue[*scraper.Task], st *isbnState) bool {
	st.mu.Lock()
	if st.record.Complete() || len(st.tried) >= o.maxTrials {
		st.mu.Unlock()
		return false
	}
	id, ok := o.coordinator.NextResource(st.isbn, st.tried)
	if !ok {
		st.mu.Unlock()
		return false
	}
	st.tried = append(st.tried, id)
	trial := len(st.tried)
	st.mu.Unlock()

	desc, _ := o.registry.Get(id)
	task := &scraper.Task{
		ID:         o.newTaskID(),
		ISBN:       st.isbn,
		ResourceID: id,
		Trial:      trial,
		Priority:   queue.FromResourcePriority(desc.Priority()),
		Status:     scraper.TaskPending,
	}
	if err := q.Enqueue(task, task.Priority); err != nil {
		o.logger.Debug("task not scheduled", zap.String("isbn", st.isbn), zap.Error(err))
		return false
	}
	return true
}

func (o *Orchestrator) newTaskID() string {
	id, err := o.ids.NewID()
	if err != nil {
		return uuid.NewString()
	}
	return id
}

// remember caches the complete records of a finished run.
func (o *Orchestrator) remember(r *run) {
	for _, st := range r.states {
		if st.cached {
			metrics.ObserveISBN("cached")
			continue
		}
		st.mu.Lock()
		rec := st.record
		st.mu.Unlock()
		if !rec.Usable() {
			metrics.ObserveISBN("not_found")
			continue
		}
		metrics.ObserveISBN("found")
		o.cache.Add(st.isbn, rec)
	}
}

// writeSinks fans the run out to every sink. Failures are logged only.
func (o *Orchestrator) writeSinks(ctx context.Context, result scraper.RunResult) {
	if len(o.sinks) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.sinkTimeout())
	defer cancel()

	var g errgroup.Group
	for _, sink := range o.sinks {
		g.Go(func() error {
			if err := sink.WriteRun(ctx, result); err != nil {
				o.logger.Error("result sink failed",
					zap.String("run_id", result.RunID),
					zap.String("sink", fmt.Sprintf("%T", sink)),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) sinkTimeout() time.Duration {
	if o.cfg.SinkTimeout > 0 {
		return o.cfg.SinkTimeout
	}
	return 30 * time.Second
}

func (o *Orchestrator) emit(r *run, evt progress.Event) {
	evt.RunID = r.uuid
	if evt.TS.IsZero() {
		evt.TS = o.clock.Now()
	}
	o.hub.Emit(evt)
}

func countFound(records []*book.Record) int {
	n := 0
	for _, rec := range records {
		if rec != nil {
			n++
		}
	}
	return n
}
