// Package metrics exposes Prometheus collectors for the frontier service.
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
	admissionsTotal            *prometheus.CounterVec
	dispatchedTotal            prometheus.Counter
	completedTotal             prometheus.Counter
	hostReleasesTotal          *prometheus.CounterVec
	filterErrorsTotal          prometheus.Counter
	pendingURIs                prometheus.Gauge
	blockedHosts               prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	workerFetchesTotal         *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		admissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontier_admissions_total",
				Help: "URIs offered for admission, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		dispatchedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "frontier_dispatched_uris_total",
				Help: "URIs handed to workers.",
			},
		)

		completedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "frontier_completed_uris_total",
				Help: "URIs reported as crawled by workers.",
			},
		)

		hostReleasesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontier_host_releases_total",
				Help: "Host release attempts, labeled by result (released, not_busy, stale).",
			},
			[]string{"result"},
		)

		filterErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "frontier_filter_errors_total",
				Help: "Known-URI filter store failures.",
			},
		)

		pendingURIs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "frontier_pending_uris",
				Help: "URIs admitted but not yet dispatched.",
			},
		)

		blockedHosts = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "frontier_blocked_hosts",
				Help: "Hosts with a URI currently in flight.",
			},
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
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"method", "route"},
		)

		workerFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_fetches_total",
				Help: "Fetches performed by the reference worker, labeled by result.",
			},
			[]string{"result"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAdmission counts one admission outcome.
func ObserveAdmission(outcome string) {
	Init()
	admissionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDispatch counts URIs handed out in one batch.
func ObserveDispatch(n int) {
	Init()
	dispatchedTotal.Add(float64(n))
}

// ObserveCompleted counts URIs reported as done.
func ObserveCompleted(n int) {
	Init()
	completedTotal.Add(float64(n))
}

// ObserveHostRelease counts a release attempt.
func ObserveHostRelease(result string) {
	Init()
	hostReleasesTotal.WithLabelValues(result).Inc()
}

// ObserveFilterError counts a known-URI store failure.
func ObserveFilterError() {
	Init()
	filterErrorsTotal.Inc()
}

// SetQueueState publishes the queue gauges.
func SetQueueState(pending, blocked int) {
	Init()
	pendingURIs.Set(float64(pending))
	blockedHosts.Set(float64(blocked))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveWorkerFetch counts one worker fetch by result.
func ObserveWorkerFetch(result string) {
	Init()
	workerFetchesTotal.WithLabelValues(result).Inc()
}
