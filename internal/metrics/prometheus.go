package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the feed cache

var (
	// Upstream fetch metrics
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedcache_fetches_total",
			Help: "Total number of upstream fetch attempts by outcome",
		},
		[]string{"source", "outcome"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedcache_fetch_duration_seconds",
			Help:    "Duration of upstream fetches in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// Scheduler metrics
	TicksSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedcache_ticks_skipped_total",
			Help: "Total number of scheduler ticks skipped without fetching",
		},
		[]string{"source", "reason"},
	)

	ResultsDiscardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedcache_results_discarded_total",
			Help: "Total number of completed fetches discarded because a newer result was already cached",
		},
		[]string{"source"},
	)

	RegisteredSources = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedcache_registered_sources",
			Help: "Number of sources with an active timer",
		},
	)

	RateLimitUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedcache_rate_limit_requests_in_window",
			Help: "Requests issued in the current rate limit window",
		},
		[]string{"source"},
	)

	LastSuccessfulFetch = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedcache_last_successful_fetch_timestamp",
			Help: "Timestamp of the last successful fetch per source",
		},
		[]string{"source"},
	)

	// Cache metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedcache_cache_hits_total",
			Help: "Total number of read API cache hits",
		},
		[]string{"freshness"},
	)

	CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedcache_cache_misses_total",
			Help: "Total number of read API cache misses",
		},
	)

	FallbacksServedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedcache_fallbacks_served_total",
			Help: "Total number of fallback payloads served",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedcache_cache_entries",
			Help: "Number of entries in the cache store",
		},
	)

	// Sink metrics
	SinkWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedcache_sink_writes_total",
			Help: "Total number of cache writes forwarded to sinks",
		},
		[]string{"sink", "status"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedcache_http_requests_total",
			Help: "Total number of read API HTTP requests",
		},
		[]string{"route", "code"},
	)

	// Error metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedcache_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// System metrics
	SystemUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedcache_system_uptime_seconds",
			Help: "System uptime in seconds",
		},
	)
)

// RecordFetch records an upstream fetch attempt
func RecordFetch(source, outcome string, duration float64) {
	FetchesTotal.WithLabelValues(source, outcome).Inc()
	FetchDuration.WithLabelValues(source).Observe(duration)
}

// RecordSkip records a tick that did not fetch
func RecordSkip(source, reason string) {
	TicksSkippedTotal.WithLabelValues(source, reason).Inc()
}

// RecordDiscard records an out-of-order result that was dropped
func RecordDiscard(source string) {
	ResultsDiscardedTotal.WithLabelValues(source).Inc()
}

// RecordCacheWrite records a successful cache write for a source
func RecordCacheWrite(source string, entries int) {
	LastSuccessfulFetch.WithLabelValues(source).SetToCurrentTime()
	CacheEntries.Set(float64(entries))
}

// RecordCacheHit records a cache hit
func RecordCacheHit(fresh bool) {
	if fresh {
		CacheHitsTotal.WithLabelValues("fresh").Inc()
		return
	}
	CacheHitsTotal.WithLabelValues("stale").Inc()
}

// RecordCacheMiss records a cache miss
func RecordCacheMiss() {
	CacheMissesTotal.Inc()
}

// RecordFallback records a fallback payload served
func RecordFallback() {
	FallbacksServedTotal.Inc()
}

// RecordSinkWrite records a sink write
func RecordSinkWrite(sink string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	SinkWritesTotal.WithLabelValues(sink, status).Inc()
}

// RecordHTTPRequest records a read API request
func RecordHTTPRequest(route, code string) {
	HTTPRequestsTotal.WithLabelValues(route, code).Inc()
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// UpdateRateLimitUsage updates the rate limit gauge for a source
func UpdateRateLimitUsage(source string, count int) {
	RateLimitUsage.WithLabelValues(source).Set(float64(count))
}

// UpdateRegisteredSources updates the active timer gauge
func UpdateRegisteredSources(n int) {
	RegisteredSources.Set(float64(n))
}
