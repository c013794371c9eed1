// Package metrics exposes Prometheus collectors for the search service.
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

// Record outcomes used as label values.
const (
	OutcomeSuccess    = "success"
	OutcomeInvalidURL = "invalid_url"
	OutcomeTimeout    = "timeout"
)

var (
	searchRecordsTotal         *prometheus.CounterVec
	searchBytesTotal           *prometheus.CounterVec
	searchRecordSeconds        prometheus.Histogram
	searchJobsTotal            *prometheus.CounterVec
	searchActiveWorkers        prometheus.Gauge
	rateLimitDelaySeconds      *prometheus.HistogramVec
	searchJobDurationSeconds   *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		searchRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_records_total",
				Help: "Total number of result records emitted, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		searchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_bytes_total",
				Help: "Total number of page source bytes captured, labeled by site.",
			},
			[]string{"site"},
		)

		searchRecordSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_record_seconds",
				Help:    "Histogram of time spent producing one result record.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		)

		searchJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_jobs_total",
				Help: "Total number of jobs processed, labeled by final status.",
			},
			[]string{"status"},
		)

		searchActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "search_active_workers",
				Help: "Number of workers currently running a job.",
			},
		)

		searchJobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_job_duration_seconds",
				Help:    "Wall time of finished search jobs by final status.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"status"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_ratelimit_delay_seconds",
				Help:    "Time spent waiting on the per-host rate limiter before a page load.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"site"},
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

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRecord counts one emitted record and the time it took to produce.
func ObserveRecord(site, outcome string, bodyBytes int, elapsed time.Duration) {
	sanitizedSite := SanitizeSite(site)
	searchRecordsTotal.WithLabelValues(sanitizedSite, outcome).Inc()
	if bodyBytes > 0 {
		searchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bodyBytes))
	}
	searchRecordSeconds.Observe(elapsed.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	searchJobsTotal.WithLabelValues(status).Inc()
}

// ObserveJobDuration records the wall time of a finished job.
func ObserveJobDuration(status string, elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}
	searchJobDurationSeconds.WithLabelValues(status).Observe(elapsed.Seconds())
}

// ObserveRateLimitDelay records how long a fetch waited for its host's rate limit.
func ObserveRateLimitDelay(site string, delay time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(SanitizeSite(site)).Observe(delay.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	searchActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	searchActiveWorkers.Dec()
}
