// Package metrics exposes Prometheus collectors for the monitor service.
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
	monitorRunsTotal           *prometheus.CounterVec
	monitorRunDurationSeconds  *prometheus.HistogramVec
	monitorFetchesTotal        *prometheus.CounterVec
	monitorMatchesTotal        *prometheus.CounterVec
	monitorDeliveriesTotal     *prometheus.CounterVec
	monitorActiveRuns          prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		monitorRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_runs_total",
				Help: "Total number of monitoring runs, labeled by terminal status.",
			},
			[]string{"status"},
		)

		monitorRunDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "monitor_run_duration_seconds",
				Help:    "Histogram of full run durations, labeled by terminal status.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"status"},
		)

		monitorFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_fetches_total",
				Help: "Total number of page fetches, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		monitorMatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_matches_total",
				Help: "Total number of confirmed watch-phrase matches, labeled by site.",
			},
			[]string{"site"},
		)

		monitorDeliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_deliveries_total",
				Help: "Total number of notification deliveries, labeled by channel and outcome.",
			},
			[]string{"channel", "outcome"},
		)

		monitorActiveRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "monitor_active_runs",
				Help: "Number of runs currently executing.",
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

// ObserveRun records one finished run.
func ObserveRun(status string, duration time.Duration) {
	monitorRunsTotal.WithLabelValues(status).Inc()
	monitorRunDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveFetch increments the fetch counter for the given site and outcome.
func ObserveFetch(site, outcome string) {
	monitorFetchesTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveMatches adds confirmed match hits for a site.
func ObserveMatches(site string, count int) {
	if count > 0 {
		monitorMatchesTotal.WithLabelValues(SanitizeSite(site)).Add(float64(count))
	}
}

// ObserveDelivery increments the notification delivery counter.
func ObserveDelivery(channel, outcome string) {
	monitorDeliveriesTotal.WithLabelValues(channel, outcome).Inc()
}

// IncActiveRuns increments the active run gauge.
func IncActiveRuns() {
	monitorActiveRuns.Inc()
}

// DecActiveRuns decrements the active run gauge.
func DecActiveRuns() {
	monitorActiveRuns.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
