// Package metrics exposes Prometheus collectors for the article tracker.
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
	trackerCrawlsTotal            *prometheus.CounterVec
	trackerCrawlDurationSeconds   *prometheus.HistogramVec
	trackerBytesTotal             *prometheus.CounterVec
	trackerFetchRetriesTotal      *prometheus.CounterVec
	trackerVersionsTotal          *prometheus.CounterVec
	trackerDiscoveredTotal        prometheus.Counter
	trackerActiveWorkers          prometheus.Gauge
	trackerDueBacklog             prometheus.Gauge
	trackerRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		trackerCrawlsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_crawls_total",
				Help: "Total number of crawl cycles, labeled by site and result.",
			},
			[]string{"site", "result"},
		)

		trackerCrawlDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracker_crawl_duration_seconds",
				Help:    "Histogram of crawl cycle durations, labeled by result.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"result"},
		)

		trackerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		trackerFetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_fetch_retries_total",
				Help: "Total number of fetch retries after transient failures, labeled by site.",
			},
			[]string{"site"},
		)

		trackerVersionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_versions_total",
				Help: "Total number of article versions persisted, labeled by site.",
			},
			[]string{"site"},
		)

		trackerDiscoveredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tracker_discovered_articles_total",
				Help: "Total number of articles registered by overview discovery.",
			},
		)

		trackerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracker_active_workers",
				Help: "Number of workers currently crawling an article.",
			},
		)

		trackerDueBacklog = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracker_due_backlog",
				Help: "Number of articles that were due but waiting for a free worker at the last dispatch.",
			},
		)

		trackerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracker_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// ObserveCrawl records the result and duration of one crawl cycle.
func ObserveCrawl(site, result string, bytesFetched int, duration time.Duration) {
	Init()
	sanitizedSite := SanitizeSite(site)
	trackerCrawlsTotal.WithLabelValues(sanitizedSite, result).Inc()
	trackerCrawlDurationSeconds.WithLabelValues(result).Observe(duration.Seconds())
	if bytesFetched > 0 {
		trackerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveFetchRetry counts one retried fetch attempt.
func ObserveFetchRetry(site string) {
	Init()
	trackerFetchRetriesTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveVersion counts a persisted version.
func ObserveVersion(site string) {
	Init()
	trackerVersionsTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveDiscovered adds newly registered articles from discovery.
func ObserveDiscovered(n int) {
	Init()
	if n > 0 {
		trackerDiscoveredTotal.Add(float64(n))
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
	trackerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	trackerActiveWorkers.Dec()
}

// SetDueBacklog records how many due articles are waiting for a worker.
func SetDueBacklog(n int) {
	Init()
	trackerDueBacklog.Set(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	trackerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
