// Package telemetry exposes Prometheus metrics for the ingestion pipeline.
package telemetry

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	feedRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cti_feed_runs_total",
			Help: "Total feed executions, labeled by feed and outcome.",
		},
		[]string{"feed", "outcome"},
	)

	itemsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cti_items_ingested_total",
			Help: "Total items persisted after deduplication, labeled by feed and content class.",
		},
		[]string{"feed", "class"},
	)

	dedupDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cti_dedup_dropped_total",
			Help: "Total items rejected by the deduplication cache.",
		},
	)

	fetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cti_fetch_requests_total",
			Help: "Total upstream HTTP fetches, labeled by host and status.",
		},
		[]string{"host", "status"},
	)

	fetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cti_fetch_bytes_total",
			Help: "Total bytes fetched from upstream sources, labeled by host.",
		},
		[]string{"host"},
	)

	fetchRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cti_fetch_retries_total",
			Help: "Total fetch retry attempts, labeled by host.",
		},
		[]string{"host"},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cti_rate_limit_delay_seconds",
			Help:    "Histogram of per-host rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	activeFeedRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cti_active_feed_runs",
			Help: "Number of feed executions currently in flight.",
		},
	)
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SanitizeHost lower-cases a host label and collapses empties to "unknown".
func SanitizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return "unknown"
	}
	return host
}

// ObserveFeedRun records the outcome of one feed execution.
func ObserveFeedRun(feed string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	feedRunsTotal.WithLabelValues(feed, outcome).Inc()
}

// ObserveIngested records items persisted for a feed.
func ObserveIngested(feed, class string, count int) {
	if count > 0 {
		itemsIngestedTotal.WithLabelValues(feed, class).Add(float64(count))
	}
}

// ObserveDedupDropped records items rejected as duplicates.
func ObserveDedupDropped(count int) {
	if count > 0 {
		dedupDroppedTotal.Add(float64(count))
	}
}

// ObserveFetch records one upstream fetch attempt.
func ObserveFetch(host, status string, bytesFetched int) {
	h := SanitizeHost(host)
	fetchRequestsTotal.WithLabelValues(h, status).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(h).Add(float64(bytesFetched))
	}
}

// ObserveFetchRetry records one retry attempt against a host.
func ObserveFetchRetry(host string) {
	fetchRetriesTotal.WithLabelValues(SanitizeHost(host)).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	if duration > time.Millisecond {
		rateLimitDelaySeconds.WithLabelValues(SanitizeHost(host)).Observe(duration.Seconds())
	}
}

// IncActiveRuns increments the in-flight feed run gauge.
func IncActiveRuns() { activeFeedRuns.Inc() }

// DecActiveRuns decrements the in-flight feed run gauge.
func DecActiveRuns() { activeFeedRuns.Dec() }
