// Package metrics exposes Prometheus collectors for the tracker service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	gscQueriesTotal            *prometheus.CounterVec
	gscRowsTotal               *prometheus.CounterVec
	fetchJobsTotal             *prometheus.CounterVec
	fetchActiveWorkers         prometheus.Gauge
	gscRateLimitDelaySeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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

		gscQueriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gsc_queries_total",
				Help: "Search Console analytics queries, labeled by site and result.",
			},
			[]string{"site", "result"},
		)

		gscRowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gsc_rows_total",
				Help: "Raw rows returned by Search Console, labeled by site.",
			},
			[]string{"site"},
		)

		fetchJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gsc_fetch_jobs_total",
				Help: "Background fetch jobs processed, labeled by status.",
			},
			[]string{"status"},
		)

		fetchActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gsc_fetch_active_workers",
				Help: "Number of workers currently running a fetch.",
			},
		)

		gscRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gsc_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations before Search Console calls.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"site"},
		)
	})
}

// SanitizeSite reduces a Search Console property to a low-cardinality label:
// the bare domain for sc-domain properties, the lowercase host otherwise.
// It returns "unknown" if nothing usable remains.
func SanitizeSite(site string) string {
	if domain, ok := strings.CutPrefix(site, "sc-domain:"); ok {
		if domain == "" {
			return "unknown"
		}
		return strings.ToLower(domain)
	}
	if !strings.HasPrefix(site, "http") {
		site = "http://" + site
	}
	u, err := url.Parse(site)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveQuery records one Search Console query and the rows it returned.
func ObserveQuery(site string, err error, rows int) {
	if gscQueriesTotal == nil {
		return
	}
	label := SanitizeSite(site)
	result := "ok"
	if err != nil {
		result = "error"
	}
	gscQueriesTotal.WithLabelValues(label, result).Inc()
	if rows > 0 {
		gscRowsTotal.WithLabelValues(label).Add(float64(rows))
	}
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	if fetchJobsTotal == nil {
		return
	}
	fetchJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if fetchActiveWorkers != nil {
		fetchActiveWorkers.Inc()
	}
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if fetchActiveWorkers != nil {
		fetchActiveWorkers.Dec()
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(site string, duration time.Duration) {
	if gscRateLimitDelaySeconds == nil {
		return
	}
	gscRateLimitDelaySeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}
