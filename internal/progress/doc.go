// Package progress carries scrape lifecycle events from the orchestrator to
// pluggable sinks. Emit never blocks; a background goroutine batches events
// and fans them out to sinks such as logs, Prometheus or a run repository.
package progress
