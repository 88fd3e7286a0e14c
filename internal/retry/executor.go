package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/isbn-scraper/internal/metrics"
)

// ErrCircuitOpen is returned without attempting the operation when the
// resource's breaker refuses calls.
var ErrCircuitOpen = errors.New("circuit open")

// Error is returned once an operation's retry budget is spent, or
// immediately for non-retryable categories.
type Error struct {
	Resource string
	Category Category
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("resource %s: %s error after %d attempt(s): %v", e.Resource, e.Category, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Pauser suspends the caller for a backoff delay.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration) error
}

type timerPauser struct{}

func (timerPauser) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Option customizes an Executor.
type Option func(*Executor)

// WithPauser replaces the timer-based backoff sleeper.
func WithPauser(p Pauser) Option {
	return func(e *Executor) { e.pauser = p }
}

// WithRand replaces the jitter source; fn must return values in [0,1).
func WithRand(fn func() float64) Option {
	return func(e *Executor) { e.rnd = fn }
}

// WithClock replaces the time source used by breakers.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// Executor is the single retry loop used for every resource call.
type Executor struct {
	cfg      Config
	breakers *Breakers
	pauser   Pauser
	rnd      func() float64
	now      func() time.Time
	logger   *zap.Logger
}

// NewExecutor builds an executor with its own breaker registry.
func NewExecutor(cfg Config, logger *zap.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		cfg:    cfg,
		pauser: timerPauser{},
		rnd:    rand.Float64,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.breakers = NewBreakers(cfg.BreakerThreshold, cfg.BreakerReset, e.now)
	return e
}

// Breakers exposes the executor's breaker registry.
func (e *Executor) Breakers() *Breakers {
	return e.breakers
}

// Execute runs op for resource. The breaker is consulted once up front; the
// category of the first failure fixes the policy for the remaining attempts,
// so an always-failing op runs exactly 1+MaxRetries times.
func (e *Executor) Execute(ctx context.Context, resource string, op func(ctx context.Context) error) error {
	breaker := e.breakers.Get(resource)
	if !breaker.CanExecute() {
		metrics.ObserveCircuitOpen(resource)
		return fmt.Errorf("resource %s: %w", resource, ErrCircuitOpen)
	}

	var (
		category Category
		policy   Policy
		budget   int
	)
	for attempt := 0; ; attempt++ {
		err := e.attempt(ctx, op)
		if err == nil {
			breaker.RecordSuccess()
			return nil
		}
		if ctx.Err() != nil {
			breaker.Abandon()
			return fmt.Errorf("resource %s: %w", resource, ctx.Err())
		}
		breaker.RecordFailure()

		if attempt == 0 {
			category = Classify(err)
			policy = e.cfg.PolicyFor(category)
			budget = e.cfg.Budget(category)
		}
		if attempt >= budget {
			metrics.ObserveRetryExhausted(resource, string(category))
			return &Error{Resource: resource, Category: category, Attempts: attempt + 1, Err: err}
		}

		delay := policy.Delay(attempt, e.rnd, e.cfg.MinDelay)
		metrics.ObserveRetry(resource, string(category))
		e.logger.Debug("retrying operation",
			zap.String("resource", resource),
			zap.String("category", string(category)),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := e.pauser.Pause(ctx, delay); err != nil {
			breaker.Abandon()
			return fmt.Errorf("resource %s: %w", resource, err)
		}
	}
}

func (e *Executor) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	if e.cfg.OperationTimeout <= 0 {
		return op(ctx)
	}
	opCtx, cancel := context.WithTimeout(ctx, e.cfg.OperationTimeout)
	defer cancel()
	return op(opCtx)
}
