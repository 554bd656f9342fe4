// Package metrics exposes Prometheus collectors for board fetches and the API.
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

// Fetch kinds reported by ClassifyURL.
const (
	KindIndex   = "index"
	KindJSON    = "json"
	KindRead    = "read"
	KindUnknown = "unknown"
)

var (
	fetchRequestsTotal           *prometheus.CounterVec
	fetchBytesTotal              *prometheus.CounterVec
	fetchDurationSeconds         *prometheus.HistogramVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec
	scrapeActiveWorkers          prometheus.Gauge
	scrapeRateLimitDelaysSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boardscrape_fetch_requests_total",
				Help: "Total number of board fetches, labeled by payload kind and status.",
			},
			[]string{"kind", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boardscrape_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by payload kind.",
			},
			[]string{"kind"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "boardscrape_fetch_duration_seconds",
				Help:    "Histogram of board fetch latencies, labeled by payload kind.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"kind"},
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

		scrapeActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "boardscrape_active_workers",
				Help: "Number of workers currently processing a thread.",
			},
		)

		scrapeRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "boardscrape_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)
	})
}

// ClassifyURL maps a board URL onto the payload kind it serves: the subject
// index, the structured thread view, or the markup thread view.
func ClassifyURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return KindUnknown
	}
	p := u.Path
	switch {
	case strings.HasSuffix(p, "/subject.txt"):
		return KindIndex
	case strings.HasPrefix(p, "/json/"):
		return KindJSON
	case strings.HasPrefix(p, "/read/"):
		return KindRead
	default:
		return KindUnknown
	}
}

// SanitizeHost extracts a lowercase hostname, or "unknown" if rawURL is invalid.
func SanitizeHost(rawURL string) string {
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

// ObserveFetch records one board fetch. status is "ok" or the HTTP status
// code, or "error" for transport failures.
func ObserveFetch(rawURL, status string, bytesFetched int, duration time.Duration) {
	Init()
	kind := ClassifyURL(rawURL)
	fetchRequestsTotal.WithLabelValues(kind, status).Inc()
	fetchDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(kind).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	scrapeActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	scrapeActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	scrapeRateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}
