package orchestrator

import (
	"fmt"
	"time"
)

// Queue strategies.
const (
	QueueSimple   = "simple"
	QueuePriority = "priority"
)

// Config tunes the worker pool and the per-ISBN trial budget.
type Config struct {
	// MaxConcurrentTasks is the exact number of worker loops per Scrape call.
	MaxConcurrentTasks int `mapstructure:"max_concurrent_tasks"`
	// MaxTrials caps how many resources are tried per ISBN. The effective cap
	// is min(MaxTrials, number of registered resources).
	MaxTrials int    `mapstructure:"max_trials"`
	Queue     string `mapstructure:"queue"`
	// AcquirePollInterval is the back-off between tab acquisition attempts.
	AcquirePollInterval time.Duration `mapstructure:"acquire_poll_interval"`
	// SinkTimeout bounds result sink fan-out after a run.
	SinkTimeout time.Duration `mapstructure:"sink_timeout"`
}

// DefaultConfig returns five workers, three trials and the priority queue.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTasks:  5,
		MaxTrials:           3,
		Queue:               QueuePriority,
		AcquirePollInterval: 50 * time.Millisecond,
		SinkTimeout:         30 * time.Second,
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("orchestrator.max_concurrent_tasks must be > 0")
	}
	if c.MaxTrials <= 0 {
		return fmt.Errorf("orchestrator.max_trials must be > 0")
	}
	switch c.Queue {
	case QueueSimple, QueuePriority:
	default:
		return fmt.Errorf("orchestrator.queue must be %q or %q, got %q", QueueSimple, QueuePriority, c.Queue)
	}
	if c.AcquirePollInterval <= 0 {
		return fmt.Errorf("orchestrator.acquire_poll_interval must be > 0")
	}
	return nil
}
