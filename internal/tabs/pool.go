// Package tabs manages the fixed pool of browser execution slots shared by
// the scrape workers.
package tabs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/isbn-scraper/internal/metrics"
	"github.com/JakeFAU/isbn-scraper/internal/scraper"
)

var (
	// ErrNoFreeSlot is returned by Acquire when every slot is claimed.
	ErrNoFreeSlot = errors.New("no free tab slot")
	// ErrPoolClosed is returned once Close has been called.
	ErrPoolClosed = errors.New("tab pool closed")
)

// State is the lifecycle state of one slot.
type State string

// Slot states.
const (
	StateInit      State = "init"
	StateReady     State = "ready"
	StateBusy      State = "busy"
	StateWaiting   State = "waiting"
	StateError     State = "error"
	StateCompleted State = "completed"
	StateTimeout   State = "timeout"
)

// Config sizes the pool and tunes the monitor.
type Config struct {
	MaxTabs              int           `mapstructure:"max_tabs"`
	MonitorInterval      time.Duration `mapstructure:"monitor_interval"`
	StuckTimeout         time.Duration `mapstructure:"stuck_timeout"`
	LoadWarningThreshold float64       `mapstructure:"load_warning_threshold"`
	// RecoveryTimeout bounds a single session reset.
	RecoveryTimeout time.Duration `mapstructure:"recovery_timeout"`
}

// DefaultConfig returns the stock pool settings.
func DefaultConfig() Config {
	return Config{
		MaxTabs:              3,
		MonitorInterval:      time.Second,
		StuckTimeout:         30 * time.Second,
		LoadWarningThreshold: 0.8,
		RecoveryTimeout:      10 * time.Second,
	}
}

// Validate checks the configuration for obviously invalid values.
func (c Config) Validate() error {
	switch {
	case c.MaxTabs <= 0:
		return fmt.Errorf("tabs.max_tabs must be > 0")
	case c.MonitorInterval <= 0:
		return fmt.Errorf("tabs.monitor_interval must be > 0")
	case c.StuckTimeout <= 0:
		return fmt.Errorf("tabs.stuck_timeout must be > 0")
	case c.LoadWarningThreshold <= 0 || c.LoadWarningThreshold > 1:
		return fmt.Errorf("tabs.load_warning_threshold must be in (0,1]")
	}
	return nil
}

// Job identifies the work assigned to a slot.
type Job struct {
	TaskID     string
	ISBN       string
	ResourceID string
}

// Slot is one browser execution context. Callers hold a *Slot between
// Acquire and Assign/Release; all state lives behind the pool lock.
type Slot struct {
	id      int
	session scraper.Session

	state     State
	job       Job
	startedAt time.Time
	lastErr   error
	// gen changes whenever the monitor takes a slot away from its holder, so a
	// late Assign completion cannot clobber the recovered state.
	gen    uint64
	cancel context.CancelFunc
}

// ID returns the slot index.
func (s *Slot) ID() int { return s.id }

// SlotInfo is a point-in-time view of a slot.
type SlotInfo struct {
	ID         int       `json:"id"`
	State      State     `json:"state"`
	TaskID     string    `json:"task_id,omitempty"`
	ISBN       string    `json:"isbn,omitempty"`
	ResourceID string    `json:"resource_id,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Pool owns MaxTabs slots for its whole lifetime.
type Pool struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	slots  []*Slot
	closed bool

	stop      context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Option customizes a Pool.
type Option func(*Pool)

// WithClock replaces the time source used for stuck detection.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// New opens MaxTabs sessions from browser and starts the monitor loop.
func New(ctx context.Context, browser scraper.Browser, cfg Config, logger *zap.Logger, opts ...Option) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if browser == nil {
		return nil, fmt.Errorf("browser is required")
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	for i := 0; i < cfg.MaxTabs; i++ {
		slot := &Slot{id: i, state: StateInit}
		session, err := browser.NewSession(ctx)
		if err != nil {
			p.closeSessions()
			return nil, fmt.Errorf("open tab %d: %w", i, err)
		}
		slot.session = session
		slot.state = StateReady
		p.slots = append(p.slots, slot)
	}
	metrics.SetTabLoad(0, cfg.MaxTabs)

	monitorCtx, stop := context.WithCancel(context.Background())
	p.stop = stop
	go p.monitor(monitorCtx)

	p.logger.Info("tab pool started",
		zap.Int("max_tabs", cfg.MaxTabs),
		zap.Duration("stuck_timeout", cfg.StuckTimeout),
	)
	return p, nil
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return p.cfg.MaxTabs
}

// Acquire claims a Ready slot, or returns ErrNoFreeSlot without waiting.
func (p *Pool) Acquire() (*Slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	for _, s := range p.slots {
		if s.state == StateReady {
			s.state = StateWaiting
			s.job = Job{}
			s.lastErr = nil
			return s, nil
		}
	}
	return nil, ErrNoFreeSlot
}

// Release hands a claimed slot back without running anything on it.
func (p *Pool) Release(s *Slot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.state == StateWaiting {
		s.state = StateReady
	}
}

// Assign runs fn on the slot's session and returns the slot to Ready. The
// slot is Busy while fn runs; if the monitor times it out, fn's context is
// canceled and Assign reports a deadline error.
func (p *Pool) Assign(ctx context.Context, s *Slot, job Job, fn func(ctx context.Context, session scraper.Session) error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if s.state != StateWaiting {
		state := s.state
		p.mu.Unlock()
		return fmt.Errorf("tab %d: assign in state %s", s.id, state)
	}
	s.state = StateBusy
	s.job = job
	s.startedAt = p.now()
	s.cancel = cancel
	gen := s.gen
	session := s.session
	p.mu.Unlock()

	err := fn(runCtx, session)

	p.mu.Lock()
	defer p.mu.Unlock()
	if s.gen != gen {
		return fmt.Errorf("tab %d timed out after %s: %w", s.id, p.cfg.StuckTimeout, context.DeadlineExceeded)
	}
	s.cancel = nil
	s.lastErr = err
	if err != nil {
		s.state = StateError
	} else {
		s.state = StateCompleted
	}
	if !p.closed {
		s.state = StateReady
	}
	return err
}

// Recover resets an Error slot's session and returns it to Ready.
func (p *Pool) Recover(ctx context.Context, id int) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if id < 0 || id >= len(p.slots) {
		p.mu.Unlock()
		return fmt.Errorf("unknown tab %d", id)
	}
	s := p.slots[id]
	if s.state != StateError {
		state := s.state
		p.mu.Unlock()
		return fmt.Errorf("tab %d is %s, not %s", id, state, StateError)
	}
	s.state = StateTimeout
	p.mu.Unlock()
	return p.recoverSlot(ctx, s)
}

// Slots returns a snapshot of every slot.
func (p *Pool) Slots() []SlotInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SlotInfo, 0, len(p.slots))
	for _, s := range p.slots {
		info := SlotInfo{
			ID:         s.id,
			State:      s.state,
			TaskID:     s.job.TaskID,
			ISBN:       s.job.ISBN,
			ResourceID: s.job.ResourceID,
		}
		if s.state == StateBusy {
			info.StartedAt = s.startedAt
		}
		if s.lastErr != nil {
			info.LastError = s.lastErr.Error()
		}
		out = append(out, info)
	}
	return out
}

// Load returns the share of slots that are claimed or busy.
func (p *Pool) Load() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	busy, total := p.loadLocked()
	return float64(busy) / float64(total)
}

func (p *Pool) loadLocked() (busy, total int) {
	for _, s := range p.slots {
		if s.state == StateBusy || s.state == StateWaiting {
			busy++
		}
	}
	return busy, len(p.slots)
}

// Close stops the monitor, cancels running work and closes every session.
// It is safe to call more than once.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		for _, s := range p.slots {
			if s.cancel != nil {
				s.cancel()
			}
		}
		p.mu.Unlock()

		p.stop()
		<-p.done
		p.closeErr = p.closeSessions()
		p.logger.Info("tab pool closed")
	})
	return p.closeErr
}

func (p *Pool) closeSessions() error {
	var errs []error
	for _, s := range p.slots {
		if s.session == nil {
			continue
		}
		if err := s.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close tab %d: %w", s.id, err))
		}
	}
	return errors.Join(errs...)
}
