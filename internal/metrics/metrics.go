// Package metrics exposes Prometheus collectors for the scraper.
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
	fetchesTotal               *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	recordsSavedTotal          *prometheus.CounterVec
	checkpointsTotal           *prometheus.CounterVec
	ledgerEntries              prometheus.Gauge
	sweepsTotal                *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bugscraper_fetches_total",
				Help: "Total number of tracker requests, labeled by tracker, entity kind, and outcome.",
			},
			[]string{"tracker", "kind", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bugscraper_fetch_duration_seconds",
				Help:    "Histogram of tracker request latencies, labeled by entity kind.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"kind"},
		)

		recordsSavedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bugscraper_records_saved_total",
				Help: "Total number of records appended to partition files, labeled by entity kind.",
			},
			[]string{"kind"},
		)

		checkpointsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bugscraper_checkpoints_total",
				Help: "Total number of ledger checkpoints, labeled by status.",
			},
			[]string{"status"},
		)

		ledgerEntries = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bugscraper_ledger_entries",
				Help: "Number of bugs tracked by the ledger at the last checkpoint.",
			},
		)

		sweepsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bugscraper_sweeps_total",
				Help: "Total number of finished sweeps, labeled by entity kind and status.",
			},
			[]string{"kind", "status"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bugscraper_rate_limit_delay_seconds",
				Help:    "Histogram of throttle wait durations, labeled by tracker.",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"tracker"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of status server requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of status server latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch counts one tracker request and records its latency.
func ObserveFetch(tracker, kind, outcome string, duration time.Duration) {
	Init()
	fetchesTotal.WithLabelValues(tracker, kind, outcome).Inc()
	if duration > 0 {
		fetchDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// AddRecordsSaved adds n to the saved-records counter for kind.
func AddRecordsSaved(kind string, n int) {
	Init()
	if n > 0 {
		recordsSavedTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// ObserveCheckpoint counts a ledger checkpoint and records the ledger size.
func ObserveCheckpoint(status string, entries int) {
	Init()
	checkpointsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		ledgerEntries.Set(float64(entries))
	}
}

// ObserveSweep counts a finished sweep.
func ObserveSweep(kind, status string) {
	Init()
	sweepsTotal.WithLabelValues(kind, status).Inc()
}

// ObserveRateLimitDelay records the duration of a throttle wait.
func ObserveRateLimitDelay(tracker string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(tracker).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the status server request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
