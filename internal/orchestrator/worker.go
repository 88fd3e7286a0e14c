package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/isbn-scraper/internal/book"
	"github.com/JakeFAU/isbn-scraper/internal/metrics"
	"github.com/JakeFAU/isbn-scraper/internal/progress"
	"github.com/JakeFAU/isbn-scraper/internal/queue"
	"github.com/JakeFAU/isbn-scraper/internal/resource"
	"github.com/JakeFAU/isbn-scraper/internal/retry"
	"github.com/JakeFAU/isbn-scraper/internal/scraper"
	"github.com/JakeFAU/isbn-scraper/internal/tabs"
)

var rateLimitMarkers = []string{"rate limit", "too many requests", "429", "blocked", "captcha"}

// work consumes tasks until the queue closes or ctx ends. The follow-up
// trial for an ISBN is enqueued before the finished task is marked done so
// Join cannot return between the two.
func (o *Orchestrator) work(ctx context.Context, r *run, q queue.Queue[*scraper.Task]) {
	byISBN := make(map[string]*isbnState, len(r.states))
	for _, st := range r.states {
		byISBN[st.isbn] = st
	}
	for {
		task, err := q.Dequeue(ctx)
		if err != nil {
			return
		}
		metrics.IncActiveWorkers()
		o.runTask(ctx, r, byISBN[task.ISBN], task)
		metrics.DecActiveWorkers()
		if ctx.Err() == nil {
			o.schedule(q, byISBN[task.ISBN])
		}
		if err := q.MarkDone(); err != nil {
			o.logger.Error("queue mark done failed", zap.Error(err))
		}
	}
}

// runTask executes one trial through the retry executor and folds its
// outcome into the ISBN state and the health coordinator.
func (o *Orchestrator) runTask(ctx context.Context, r *run, st *isbnState, task *scraper.Task) {
	logger := o.logger.With(
		zap.String("task_id", task.ID),
		zap.String("isbn", task.ISBN),
		zap.String("resource", task.ResourceID),
		zap.Int("trial", task.Trial),
	)
	ctx, span := o.tracer.Start(ctx, "orchestrator.trial", trace.WithAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("isbn", task.ISBN),
		attribute.String("resource.id", task.ResourceID),
		attribute.Int("trial", task.Trial),
	))
	defer span.End()
	task.Status = scraper.TaskRunning
	task.StartedAt = o.clock.Now()
	o.emit(r, progress.Event{
		Stage:    progress.StageTaskStart,
		ISBN:     task.ISBN,
		Resource: task.ResourceID,
		Trial:    task.Trial,
	})

	var (
		rec *book.Record
		err error
	)
	if desc, ok := o.registry.Get(task.ResourceID); !ok {
		err = fmt.Errorf("invalid resource %q: not registered", task.ResourceID)
	} else {
		err = o.executor.Execute(ctx, task.ResourceID, func(opCtx context.Context) error {
			got, err := o.fetchOnce(opCtx, task, desc)
			if err != nil {
				return err
			}
			rec = got
			return nil
		})
	}
	task.CompletedAt = o.clock.Now()
	elapsed := task.Elapsed()

	var outcome progress.Outcome
	switch {
	case errors.Is(err, retry.ErrCircuitOpen):
		task.Status = scraper.TaskSkipped
		task.Err = err
		outcome = progress.OutcomeCircuitOpen
		logger.Debug("resource circuit open, skipping trial")
	case err != nil:
		task.Status = scraper.TaskFailed
		task.Err = err
		outcome = progress.OutcomeFailed
		if ctx.Err() == nil {
			o.coordinator.UpdateStats(task.ResourceID, false, elapsed, err.Error(), rateLimited(err))
		}
		logger.Info("trial failed", zap.Duration("elapsed", elapsed), zap.Error(err))
	case !rec.Usable():
		task.Status = scraper.TaskCompleted
		outcome = progress.OutcomeNotFound
		o.coordinator.UpdateStats(task.ResourceID, true, elapsed, "", false)
		logger.Debug("resource does not know isbn", zap.Duration("elapsed", elapsed))
	default:
		task.Status = scraper.TaskCompleted
		task.Result = rec
		outcome = progress.OutcomeFound
		o.coordinator.UpdateStats(task.ResourceID, true, elapsed, "", false)
		st.merge(rec)
		logger.Debug("trial found record",
			zap.Duration("elapsed", elapsed),
			zap.Bool("complete", rec.Complete()),
		)
	}

	span.SetAttributes(attribute.String("outcome", string(outcome)))
	if task.Err != nil {
		span.RecordError(task.Err)
		if task.Status == scraper.TaskFailed {
			span.SetStatus(codes.Error, "trial failed")
		}
	}
	metrics.ObserveTask(task.ResourceID, string(outcome), elapsed)
	evt := progress.Event{
		Stage:    progress.StageTaskDone,
		ISBN:     task.ISBN,
		Resource: task.ResourceID,
		Trial:    task.Trial,
		Outcome:  outcome,
		Dur:      max(elapsed, 0),
	}
	if task.Err != nil {
		evt.Note = task.Err.Error()
	}
	o.emit(r, evt)
}

// fetchOnce is a single attempt: API resources fetch directly, web resources
// fetch on a claimed tab.
func (o *Orchestrator) fetchOnce(ctx context.Context, task *scraper.Task, desc resource.Descriptor) (*book.Record, error) {
	if !desc.RequiresSession() {
		return o.fetcher.Fetch(ctx, nil, task.ISBN, desc) //nolint:wrapcheck
	}

	slot, err := o.acquireSlot(ctx)
	if err != nil {
		return nil, err
	}
	var rec *book.Record
	job := tabs.Job{TaskID: task.ID, ISBN: task.ISBN, ResourceID: task.ResourceID}
	err = o.pool.Assign(ctx, slot, job, func(ctx context.Context, session scraper.Session) error {
		got, err := o.fetcher.Fetch(ctx, session, task.ISBN, desc)
		rec = got
		return err //nolint:wrapcheck
	})
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	return rec, nil
}

// acquireSlot polls the pool until a tab frees up. The pool never queues
// callers itself.
func (o *Orchestrator) acquireSlot(ctx context.Context) (*tabs.Slot, error) {
	for {
		slot, err := o.pool.Acquire()
		if err == nil {
			return slot, nil
		}
		if !errors.Is(err, tabs.ErrNoFreeSlot) {
			return nil, fmt.Errorf("acquire tab: %w", err)
		}
		timer := time.NewTimer(o.cfg.AcquirePollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("acquire tab: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// rateLimited reports whether err signals throttling or blocking.
func rateLimited(err error) bool {
	var blocked *scraper.BlockedError
	if errors.As(err, &blocked) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
