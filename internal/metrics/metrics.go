// Package metrics exposes Prometheus collectors for the statement pipeline.
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

// Task outcomes.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var (
	tasksEnqueuedTotal         *prometheus.CounterVec
	tasksTotal                 *prometheus.CounterVec
	listingErrorsTotal         *prometheus.CounterVec
	extractDurationSeconds     *prometheus.HistogramVec
	sessionLaunchesTotal       *prometheus.CounterVec
	sessionRestartsTotal       prometheus.Counter
	activeWorkers              prometheus.Gauge
	ledgerAppendsTotal         *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		tasksEnqueuedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statement_tasks_enqueued_total",
				Help: "Tasks handed to workers, labeled by judge.",
			},
			[]string{"judge"},
		)

		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statement_tasks_total",
				Help: "Tasks processed by workers, labeled by judge and status.",
			},
			[]string{"judge", "status"},
		)

		listingErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statement_listing_errors_total",
				Help: "Judge listings abandoned after an error.",
			},
			[]string{"judge"},
		)

		extractDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "statement_extract_duration_seconds",
				Help:    "Time spent extracting one statement, labeled by judge.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
			},
			[]string{"judge"},
		)

		sessionLaunchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statement_session_launches_total",
				Help: "Browser session launch attempts, labeled by result.",
			},
			[]string{"result"},
		)

		sessionRestartsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "statement_session_restarts_total",
				Help: "Periodic browser session refreshes.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "statement_active_workers",
				Help: "Workers that have not yet received their terminate message.",
			},
		)

		ledgerAppendsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statement_ledger_appends_total",
				Help: "Ledger append attempts, labeled by status.",
			},
			[]string{"status"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "statement_rate_limit_delay_seconds",
				Help:    "Time listing requests spent waiting on the per-host limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"host"},
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
	Init()
	return promhttp.Handler()
}

// ObserveEnqueued counts a task sent to the workers.
func ObserveEnqueued(judge string) {
	Init()
	tasksEnqueuedTotal.WithLabelValues(judge).Inc()
}

// ObserveTask records the outcome and duration of one extraction.
func ObserveTask(judge, status string, duration time.Duration) {
	Init()
	tasksTotal.WithLabelValues(judge, status).Inc()
	extractDurationSeconds.WithLabelValues(judge).Observe(duration.Seconds())
}

// ObserveListingError counts an abandoned judge listing.
func ObserveListingError(judge string) {
	Init()
	listingErrorsTotal.WithLabelValues(judge).Inc()
}

// ObserveSessionLaunch counts a launch attempt.
func ObserveSessionLaunch(ok bool) {
	Init()
	result := "success"
	if !ok {
		result = "failure"
	}
	sessionLaunchesTotal.WithLabelValues(result).Inc()
}

// ObserveSessionRestart counts a periodic session refresh.
func ObserveSessionRestart() {
	Init()
	sessionRestartsTotal.Inc()
}

// ObserveLedgerAppend counts a ledger write.
func ObserveLedgerAppend(ok bool) {
	Init()
	status := "ok"
	if !ok {
		status = "error"
	}
	ledgerAppendsTotal.WithLabelValues(status).Inc()
}

// ObserveRateLimitDelay records how long a request waited for its host's limiter.
func ObserveRateLimitDelay(host string, d time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
