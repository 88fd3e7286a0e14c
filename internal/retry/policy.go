package retry

import (
	"fmt"
	"math"
	"time"
)

// Policy controls how one error category is retried.
type Policy struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	BaseDelay    time.Duration `mapstructure:"base_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	GrowthFactor float64       `mapstructure:"growth_factor"`
	Jitter       float64       `mapstructure:"jitter"`
	Retryable    bool          `mapstructure:"retryable"`
}

// Config holds the default policy, per-category overrides, and breaker settings.
type Config struct {
	Default          Policy              `mapstructure:"default"`
	Categories       map[Category]Policy `mapstructure:"categories"`
	OperationTimeout time.Duration       `mapstructure:"operation_timeout"`
	MinDelay         time.Duration       `mapstructure:"min_delay"`
	BreakerThreshold int                 `mapstructure:"breaker_threshold"`
	BreakerReset     time.Duration       `mapstructure:"breaker_reset"`
}

// DefaultConfig returns the stock retry configuration: network, resource and
// unknown failures are retried, parsing and validation failures are not.
func DefaultConfig() Config {
	base := Policy{
		MaxRetries:   3,
		BaseDelay:    time.Second,
		MaxDelay:     60 * time.Second,
		GrowthFactor: 2,
		Jitter:       0.1,
		Retryable:    true,
	}
	with := func(retries int, delay time.Duration, retryable bool) Policy {
		p := base
		p.MaxRetries = retries
		p.BaseDelay = delay
		p.Retryable = retryable
		return p
	}
	return Config{
		Default: base,
		Categories: map[Category]Policy{
			CategoryNetwork:    with(5, 2*time.Second, true),
			CategoryResource:   with(3, 3*time.Second, true),
			CategoryParsing:    with(0, time.Second, false),
			CategoryValidation: with(0, time.Second, false),
			CategoryUnknown:    with(2, 1500*time.Millisecond, true),
		},
		MinDelay:         100 * time.Millisecond,
		BreakerThreshold: 5,
		BreakerReset:     60 * time.Second,
	}
}

// PolicyFor resolves the policy for a category, falling back to Default.
func (c Config) PolicyFor(cat Category) Policy {
	if p, ok := c.Categories[cat]; ok {
		return p
	}
	return c.Default
}

// Budget returns the number of retries a failure of cat may consume.
func (c Config) Budget(cat Category) int {
	p := c.PolicyFor(cat)
	if !p.Retryable || p.MaxRetries < 0 {
		return 0
	}
	return p.MaxRetries
}

// Validate checks the configuration for impossible values.
func (c Config) Validate() error {
	if c.BreakerThreshold <= 0 {
		return fmt.Errorf("retry.breaker_threshold must be > 0")
	}
	if c.BreakerReset <= 0 {
		return fmt.Errorf("retry.breaker_reset must be > 0")
	}
	check := func(name string, p Policy) error {
		if p.MaxRetries < 0 {
			return fmt.Errorf("retry.%s.max_retries must be >= 0", name)
		}
		if p.GrowthFactor < 1 {
			return fmt.Errorf("retry.%s.growth_factor must be >= 1", name)
		}
		if p.Jitter < 0 || p.Jitter >= 1 {
			return fmt.Errorf("retry.%s.jitter must be in [0,1)", name)
		}
		if p.MaxDelay > 0 && p.BaseDelay > p.MaxDelay {
			return fmt.Errorf("retry.%s.base_delay must be <= max_delay", name)
		}
		return nil
	}
	if err := check("default", c.Default); err != nil {
		return err
	}
	for cat, p := range c.Categories {
		if err := check(string(cat), p); err != nil {
			return err
		}
	}
	return nil
}

// Delay computes the wait before retry number attempt (zero-based):
// min(base*growth^attempt, max), jittered by ±Jitter using rnd in [0,1),
// and never below floor.
func (p Policy) Delay(attempt int, rnd func() float64, floor time.Duration) time.Duration {
	growth := p.GrowthFactor
	if growth < 1 {
		growth = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(growth, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter > 0 && rnd != nil {
		delay *= 1 + p.Jitter*(2*rnd()-1)
	}
	if d := time.Duration(delay); d > floor {
		return d
	}
	return floor
}
