package retry

import (
	"sync"
	"time"

	"github.com/JakeFAU/isbn-scraper/internal/metrics"
)

// State is a circuit breaker state.
type State string

// Breaker states.
const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

func (s State) gauge() float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}

// Breaker stops calls to a resource after threshold consecutive failures
// until resetTimeout has elapsed, then admits a single trial call.
type Breaker struct {
	mu           sync.Mutex
	resource     string
	threshold    int
	resetTimeout time.Duration
	now          func() time.Time

	state       State
	failures    int
	lastFailure time.Time
	trialIssued bool
}

// NewBreaker constructs a closed breaker.
func NewBreaker(resource string, threshold int, resetTimeout time.Duration, now func() time.Time) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if now == nil {
		now = time.Now
	}
	return &Breaker{
		resource:     resource,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		now:          now,
		state:        StateClosed,
	}
}

// CanExecute reports whether a call may proceed. Once the reset timeout has
// elapsed on an open breaker it moves to half-open and returns true exactly
// once; further calls are refused until the trial is recorded.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.resetTimeout {
			return false
		}
		b.setStateLocked(StateHalfOpen)
		b.trialIssued = true
		return true
	case StateHalfOpen:
		if b.trialIssued {
			return false
		}
		b.trialIssued = true
		return true
	}
	return false
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.trialIssued = false
	b.setStateLocked(StateClosed)
}

// RecordFailure counts a failure and opens the breaker at the threshold. A
// failed half-open trial reopens it immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.now()
	b.trialIssued = false
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.setStateLocked(StateOpen)
	}
}

// Abandon releases a trial that ended without an outcome, such as a canceled
// caller. A half-open breaker returns to open with its last failure time
// unchanged, so the next call after the reset timeout gets a fresh trial.
func (b *Breaker) Abandon() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialIssued = false
	if b.state == StateHalfOpen {
		b.setStateLocked(StateOpen)
	}
}

// State returns the current state without transitioning it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) setStateLocked(s State) {
	if b.state == s {
		return
	}
	b.state = s
	metrics.SetBreakerState(b.resource, s.gauge())
}

// Breakers lazily creates and caches one Breaker per resource id.
type Breakers struct {
	mu           sync.Mutex
	byResource   map[string]*Breaker
	threshold    int
	resetTimeout time.Duration
	now          func() time.Time
}

// NewBreakers returns an empty registry whose breakers share the settings.
func NewBreakers(threshold int, resetTimeout time.Duration, now func() time.Time) *Breakers {
	return &Breakers{
		byResource:   make(map[string]*Breaker),
		threshold:    threshold,
		resetTimeout: resetTimeout,
		now:          now,
	}
}

// Get returns the breaker for resource, creating it on first use.
func (r *Breakers) Get(resource string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byResource[resource]
	if !ok {
		b = NewBreaker(resource, r.threshold, r.resetTimeout, r.now)
		r.byResource[resource] = b
	}
	return b
}

// States snapshots the state of every breaker created so far.
func (r *Breakers) States() map[string]State {
	r.mu.Lock()
	breakers := make(map[string]*Breaker, len(r.byResource))
	for id, b := range r.byResource {
		breakers[id] = b
	}
	r.mu.Unlock()

	out := make(map[string]State, len(breakers))
	for id, b := range breakers {
		out[id] = b.State()
	}
	return out
}
