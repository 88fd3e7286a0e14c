package health

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/isbn-scraper/internal/metrics"
	"github.com/JakeFAU/isbn-scraper/internal/resource"
)

// Selection chooses how NextResource picks among eligible candidates.
type Selection string

// Selection strategies.
const (
	// SelectWeighted draws candidates at random proportionally to weight.
	SelectWeighted Selection = "weighted"
	// SelectOrdered always takes the lowest priority hint, then registry order.
	SelectOrdered Selection = "ordered"
)

// Config tunes status transitions and selection.
type Config struct {
	// ErrorThreshold moves a resource to Error after more than this many
	// consecutive failures.
	ErrorThreshold int `mapstructure:"error_threshold"`
	// RecoveryCooldown returns Error/RateLimited resources to Available once
	// this long has passed since they entered that status. Zero disables
	// automatic recovery.
	RecoveryCooldown time.Duration `mapstructure:"recovery_cooldown"`
	Selection        Selection     `mapstructure:"selection"`
}

// DefaultConfig returns the stock tracker settings.
func DefaultConfig() Config {
	return Config{
		ErrorThreshold:   5,
		RecoveryCooldown: 5 * time.Minute,
		Selection:        SelectWeighted,
	}
}

type entry struct {
	desc        resource.Descriptor
	stats       Stats
	status      Status
	statusSince time.Time
}

// Snapshot is a read-only view of one resource's health.
type Snapshot struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Kind         resource.Kind `json:"kind"`
	Priority     int           `json:"priority"`
	Status       Status        `json:"status"`
	StatusSince  time.Time     `json:"status_since,omitempty"`
	Stats        Stats         `json:"stats"`
	SuccessRate  float64       `json:"success_rate"`
	AvgResponse  time.Duration `json:"avg_response"`
	Availability float64       `json:"availability"`
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithRand replaces the selection random source; fn must return values in [0,1).
func WithRand(fn func() float64) Option {
	return func(c *Coordinator) { c.rnd = fn }
}

// Coordinator owns the stats and status of every registered resource.
type Coordinator struct {
	mu      sync.Mutex
	cfg     Config
	order   []string
	entries map[string]*entry
	now     func() time.Time
	rnd     func() float64
	logger  *zap.Logger
}

// NewCoordinator starts every registered resource as Available with empty stats.
func NewCoordinator(registry *resource.Registry, cfg Config, logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = 5
	}
	if cfg.Selection == "" {
		cfg.Selection = SelectWeighted
	}
	c := &Coordinator{
		cfg:     cfg,
		entries: make(map[string]*entry, registry.Len()),
		now:     time.Now,
		rnd:     rand.Float64,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, d := range registry.All() {
		c.order = append(c.order, d.ID())
		c.entries[d.ID()] = &entry{desc: d, status: StatusAvailable}
		metrics.SetResourceStatus(d.ID(), string(StatusAvailable), AllStatuses)
	}
	return c
}

// NextResource returns an Available resource not present in tried, or false
// when every Available resource has already been tried.
func (c *Coordinator) NextResource(isbn string, tried []string) (string, bool) {
	skip := make(map[string]struct{}, len(tried))
	for _, id := range tried {
		skip[id] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.recoverLocked(now)

	var candidates []*entry
	for _, id := range c.order {
		e := c.entries[id]
		if _, done := skip[id]; done || e.status != StatusAvailable {
			continue
		}
		candidates = append(candidates, e)
	}
	switch len(candidates) {
	case 0:
		return "", false
	case 1:
		return candidates[0].desc.ID(), true
	}

	var picked *entry
	if c.cfg.Selection == SelectOrdered {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].desc.Priority() < candidates[j].desc.Priority()
		})
		picked = candidates[0]
	} else {
		picked = c.pickWeightedLocked(candidates, now)
	}
	c.logger.Debug("resource selected",
		zap.String("isbn", isbn),
		zap.String("resource", picked.desc.ID()),
		zap.Int("candidates", len(candidates)),
	)
	return picked.desc.ID(), true
}

func (c *Coordinator) pickWeightedLocked(candidates []*entry, now time.Time) *entry {
	maxAttempts := 0
	for _, e := range c.entries {
		maxAttempts = max(maxAttempts, e.stats.Attempts)
	}
	weights := make([]float64, len(candidates))
	total := 0.0
	for i, e := range candidates {
		weights[i] = weight(e, maxAttempts, now)
		total += weights[i]
	}
	if total <= 0 {
		return candidates[0]
	}
	target := c.rnd() * total
	for i, w := range weights {
		if target < w {
			return candidates[i]
		}
		target -= w
	}
	return candidates[len(candidates)-1]
}

// weight is 60 points of availability, up to 20 points for the priority
// hint and up to 20 points for carrying less of the load.
func weight(e *entry, maxAttempts int, now time.Time) float64 {
	w := e.stats.Availability(now) * 60
	switch p := e.desc.Priority(); {
	case p <= 1:
		w += 20
	case p == 2:
		w += 10
	default:
		w += 5
	}
	if e.stats.Attempts == 0 || maxAttempts == 0 {
		w += 20
	} else {
		w += 20 * (1 - float64(e.stats.Attempts)/float64(maxAttempts))
	}
	return w
}

// UpdateStats records the outcome of one resource trial. A rate-limit signal
// forces RateLimited; more than ErrorThreshold consecutive failures force
// Error. Success never clears either status.
func (c *Coordinator) UpdateStats(id string, success bool, responseTime time.Duration, errMsg string, rateLimited bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		c.logger.Warn("stats update for unknown resource", zap.String("resource", id))
		return
	}
	now := c.now()
	s := &e.stats
	s.Attempts++
	s.TotalResponseTime += responseTime
	s.LastUsed = now
	if success {
		s.Successes++
		s.ConsecutiveErrors = 0
	} else {
		s.Failures++
		s.ConsecutiveErrors++
		s.LastError = errMsg
	}

	switch {
	case e.status == StatusDisabled:
	case rateLimited:
		s.RateLimitEvents++
		if e.status != StatusRateLimited {
			c.setStatusLocked(e, StatusRateLimited, now)
			c.logger.Warn("resource rate limited",
				zap.String("resource", id),
				zap.String("error", errMsg),
			)
		}
	case !success && s.ConsecutiveErrors > c.cfg.ErrorThreshold && e.status == StatusAvailable:
		c.setStatusLocked(e, StatusError, now)
		c.logger.Warn("resource disabled after consecutive failures",
			zap.String("resource", id),
			zap.Int("consecutive_errors", s.ConsecutiveErrors),
			zap.String("last_error", errMsg),
		)
	}
	metrics.SetResourceAvailability(id, s.Availability(now))
}

// ResetStatus returns a resource to Available and clears its consecutive
// error count. Disabled resources are re-enabled too.
func (c *Coordinator) ResetStatus(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return fmt.Errorf("unknown resource %q", id)
	}
	e.stats.ConsecutiveErrors = 0
	c.setStatusLocked(e, StatusAvailable, c.now())
	return nil
}

// Disable removes a resource from selection until ResetStatus is called.
func (c *Coordinator) Disable(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return fmt.Errorf("unknown resource %q", id)
	}
	c.setStatusLocked(e, StatusDisabled, c.now())
	return nil
}

// Status returns the current status of a resource.
func (c *Coordinator) Status(id string) (Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recoverLocked(c.now())
	e, ok := c.entries[id]
	if !ok {
		return "", false
	}
	return e.status, true
}

// Stats returns a copy of the counters for a resource.
func (c *Coordinator) Stats(id string) (Stats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return Stats{}, false
	}
	return e.stats, true
}

// Snapshot returns the health of every resource in registry order.
func (c *Coordinator) Snapshot() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.recoverLocked(now)
	out := make([]Snapshot, 0, len(c.order))
	for _, id := range c.order {
		e := c.entries[id]
		out = append(out, Snapshot{
			ID:           id,
			Name:         e.desc.Name(),
			Kind:         e.desc.Kind(),
			Priority:     e.desc.Priority(),
			Status:       e.status,
			StatusSince:  e.statusSince,
			Stats:        e.stats,
			SuccessRate:  e.stats.SuccessRate(),
			AvgResponse:  e.stats.AvgResponseTime(),
			Availability: e.stats.Availability(now),
		})
	}
	return out
}

// recoverLocked applies the time-boxed recovery policy.
func (c *Coordinator) recoverLocked(now time.Time) {
	if c.cfg.RecoveryCooldown <= 0 {
		return
	}
	for _, id := range c.order {
		e := c.entries[id]
		if e.status != StatusError && e.status != StatusRateLimited {
			continue
		}
		if now.Sub(e.statusSince) < c.cfg.RecoveryCooldown {
			continue
		}
		c.logger.Info("resource recovered after cooldown",
			zap.String("resource", id),
			zap.String("from", string(e.status)),
			zap.Duration("cooldown", c.cfg.RecoveryCooldown),
		)
		e.stats.ConsecutiveErrors = 0
		c.setStatusLocked(e, StatusAvailable, now)
	}
}

func (c *Coordinator) setStatusLocked(e *entry, s Status, now time.Time) {
	e.status = s
	e.statusSince = now
	metrics.SetResourceStatus(e.desc.ID(), string(s), AllStatuses)
}
