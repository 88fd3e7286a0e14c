// Package metrics exposes Prometheus collectors for the scraper.
//
// Collectors are created by Init. Every Observe helper is a no-op until Init
// has run, so library users and tests that never call Init pay nothing.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksTotal                 *prometheus.CounterVec
	taskDurationSeconds        *prometheus.HistogramVec
	retriesTotal               *prometheus.CounterVec
	retryExhaustedTotal        *prometheus.CounterVec
	circuitOpenTotal           *prometheus.CounterVec
	breakerState               *prometheus.GaugeVec
	resourceStatus             *prometheus.GaugeVec
	resourceAvailability       *prometheus.GaugeVec
	blocksDetectedTotal        *prometheus.CounterVec
	isbnsTotal                 *prometheus.CounterVec
	tabsBusy                   prometheus.Gauge
	tabsLoad                   prometheus.Gauge
	tabTimeoutsTotal           prometheus.Counter
	tabRecoveriesTotal         *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_tasks_total",
				Help: "Total number of resource trials, labeled by resource and outcome.",
			},
			[]string{"resource", "outcome"},
		)

		taskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_task_duration_seconds",
				Help:    "Histogram of resource trial latencies including retries.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"resource"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_retries_total",
				Help: "Total number of scheduled retries, labeled by resource and error category.",
			},
			[]string{"resource", "category"},
		)

		retryExhaustedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_retry_exhausted_total",
				Help: "Operations that failed after their retry budget, labeled by resource and category.",
			},
			[]string{"resource", "category"},
		)

		circuitOpenTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_circuit_open_total",
				Help: "Calls rejected because the resource circuit breaker was open.",
			},
			[]string{"resource"},
		)

		breakerState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scraper_breaker_state",
				Help: "Circuit breaker state per resource (0 closed, 1 half-open, 2 open).",
			},
			[]string{"resource"},
		)

		resourceStatus = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scraper_resource_status",
				Help: "1 for the current status of each resource, 0 otherwise.",
			},
			[]string{"resource", "status"},
		)

		resourceAvailability = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scraper_resource_availability",
				Help: "Availability score in [0,1] per resource.",
			},
			[]string{"resource"},
		)

		blocksDetectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_blocks_detected_total",
				Help: "Anti-bot responses detected, labeled by resource and kind.",
			},
			[]string{"resource", "kind"},
		)

		isbnsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_isbns_total",
				Help: "ISBNs processed, labeled by outcome (found, exhausted, invalid, cached).",
			},
			[]string{"outcome"},
		)

		tabsBusy = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_tabs_busy",
				Help: "Number of tab slots currently executing a task.",
			},
		)

		tabsLoad = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_tabs_load",
				Help: "Busy tab slots divided by total tab slots.",
			},
		)

		tabTimeoutsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_tab_timeouts_total",
				Help: "Tab slots forced into timeout by the pool monitor.",
			},
		)

		tabRecoveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_tab_recoveries_total",
				Help: "Tab recovery attempts, labeled by result.",
			},
			[]string{"result"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_workers",
				Help: "Number of workers currently processing a task.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_rate_limit_delays_seconds",
				Help:    "Histogram of per-resource rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"resource"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTask records a finished resource trial.
func ObserveTask(resource, outcome string, duration time.Duration) {
	if tasksTotal == nil {
		return
	}
	tasksTotal.WithLabelValues(resource, outcome).Inc()
	taskDurationSeconds.WithLabelValues(resource).Observe(duration.Seconds())
}

// ObserveRetry increments the retry counter.
func ObserveRetry(resource, category string) {
	if retriesTotal == nil {
		return
	}
	retriesTotal.WithLabelValues(resource, category).Inc()
}

// ObserveRetryExhausted records an operation that ran out of attempts.
func ObserveRetryExhausted(resource, category string) {
	if retryExhaustedTotal == nil {
		return
	}
	retryExhaustedTotal.WithLabelValues(resource, category).Inc()
}

// ObserveCircuitOpen records a fast-failed call.
func ObserveCircuitOpen(resource string) {
	if circuitOpenTotal == nil {
		return
	}
	circuitOpenTotal.WithLabelValues(resource).Inc()
}

// SetBreakerState publishes the numeric breaker state.
func SetBreakerState(resource string, state float64) {
	if breakerState == nil {
		return
	}
	breakerState.WithLabelValues(resource).Set(state)
}

// SetResourceStatus marks status as the current one for resource.
func SetResourceStatus(resource, status string, all []string) {
	if resourceStatus == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == status {
			v = 1
		}
		resourceStatus.WithLabelValues(resource, s).Set(v)
	}
}

// SetResourceAvailability publishes the availability score.
func SetResourceAvailability(resource string, score float64) {
	if resourceAvailability == nil {
		return
	}
	resourceAvailability.WithLabelValues(resource).Set(score)
}

// ObserveBlock records an anti-bot detection.
func ObserveBlock(resource, kind string) {
	if blocksDetectedTotal == nil {
		return
	}
	blocksDetectedTotal.WithLabelValues(resource, kind).Inc()
}

// ObserveISBN records the outcome for one input ISBN.
func ObserveISBN(outcome string) {
	if isbnsTotal == nil {
		return
	}
	isbnsTotal.WithLabelValues(outcome).Inc()
}

// SetTabLoad publishes pool occupancy.
func SetTabLoad(busy, total int) {
	if tabsBusy == nil {
		return
	}
	tabsBusy.Set(float64(busy))
	if total > 0 {
		tabsLoad.Set(float64(busy) / float64(total))
	}
}

// ObserveTabTimeout increments the stuck-slot counter.
func ObserveTabTimeout() {
	if tabTimeoutsTotal == nil {
		return
	}
	tabTimeoutsTotal.Inc()
}

// ObserveTabRecovery records a recovery attempt result ("ok" or "failed").
func ObserveTabRecovery(result string) {
	if tabRecoveriesTotal == nil {
		return
	}
	tabRecoveriesTotal.WithLabelValues(result).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(resource string, duration time.Duration) {
	if rateLimitDelaysSeconds == nil {
		return
	}
	rateLimitDelaysSeconds.WithLabelValues(resource).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
