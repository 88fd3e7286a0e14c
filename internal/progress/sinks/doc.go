// Package sinks contains progress.Sink implementations: structured logs,
// Prometheus counters and a run repository writer.
package sinks
