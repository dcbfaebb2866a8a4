// Package metrics exposes Prometheus collectors for the leaderboard service:
// HTTP traffic, Stripe fetches, cache efficiency, background jobs and catalog sizes.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "trustmymrr"

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds all Prometheus metric collectors
type Metrics struct {
	// HTTP Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	HTTPResponseSize     *prometheus.HistogramVec

	// Stripe Metrics
	StripeFetchesTotal   *prometheus.CounterVec
	StripeFetchDuration  *prometheus.HistogramVec
	StripeWebhooksTotal  *prometheus.CounterVec
	CheckoutSessionTotal *prometheus.CounterVec

	// Catalog Metrics
	StartupsGauge  prometheus.Gauge
	FoundersGauge  prometheus.Gauge
	AdsGauge       *prometheus.GaugeVec
	TrackedMRR     *prometheus.GaugeVec
	MetricsErrored prometheus.Gauge

	// Job Metrics
	JobRunsTotal   *prometheus.CounterVec
	JobRunDuration *prometheus.HistogramVec

	// Cache Metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// WebSocket Metrics
	WebSocketConnections prometheus.Gauge
	WebSocketBroadcasts  prometheus.Counter

	// Database Metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// System Metrics
	BuildInfo    *prometheus.GaugeVec
	StartupTime  prometheus.Gauge
	GoroutineNum prometheus.Gauge
}

// Get returns the singleton Metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{}

	m.HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by endpoint, method, and status code",
		},
		[]string{"endpoint", "method", "status"},
	)

	m.HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "method"},
	)

	m.HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)

	m.HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 7),
		},
		[]string{"endpoint"},
	)

	m.StripeFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stripe",
			Name:      "fetches_total",
			Help:      "Stripe aggregation calls by operation and outcome",
		},
		[]string{"operation", "status"},
	)

	m.StripeFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stripe",
			Name:      "fetch_duration_seconds",
			Help:      "Wall time of Stripe aggregation calls",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)

	m.StripeWebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stripe",
			Name:      "webhooks_total",
			Help:      "Stripe webhook deliveries by event type and outcome",
		},
		[]string{"event_type", "status"},
	)

	m.CheckoutSessionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stripe",
			Name:      "checkout_sessions_total",
			Help:      "Ad checkout sessions created by spot and outcome",
		},
		[]string{"spot", "status"},
	)

	m.StartupsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "startups",
			Help:      "Registered startups",
		},
	)

	m.FoundersGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "founders",
			Help:      "Distinct founder handles",
		},
	)

	m.AdsGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "ads",
			Help:      "Ads by status",
		},
		[]string{"status"},
	)

	m.TrackedMRR = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "tracked_mrr",
			Help:      "Sum of MRR across startups from the last warm cycle, by currency",
		},
		[]string{"currency"},
	)

	m.MetricsErrored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "metrics_unavailable",
			Help:      "Startups whose metrics could not be fetched in the last warm cycle",
		},
	)

	m.JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Background job runs by job and outcome",
		},
		[]string{"job", "status"},
	)

	m.JobRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "run_duration_seconds",
			Help:      "Background job run duration",
			Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 300},
		},
		[]string{"job"},
	)

	m.CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total cache hits",
		},
		[]string{"cache"},
	)

	m.CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total cache misses",
		},
		[]string{"cache"},
	)

	m.WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections",
			Help:      "Open leaderboard feed connections",
		},
	)

	m.WebSocketBroadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "broadcasts_total",
			Help:      "Leaderboard snapshots pushed to subscribers",
		},
	)

	m.DBConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "connections_active",
			Help:      "Number of active database connections",
		},
	)

	m.DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "connections_idle",
			Help:      "Number of idle database connections",
		},
	)

	m.BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit"},
	)

	m.StartupTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "startup_time_seconds",
			Help:      "Unix timestamp of process start",
		},
	)

	m.GoroutineNum = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines",
			Help:      "Number of goroutines",
		},
	)

	m.StartupTime.Set(float64(time.Now().Unix()))

	return m
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(endpoint, method string, statusCode int, duration time.Duration, responseSize int) {
	status := statusCodeToLabel(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(endpoint).Observe(float64(responseSize))
}

// RecordStripeFetch records one aggregation call against a connected account.
func (m *Metrics) RecordStripeFetch(operation string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StripeFetchesTotal.WithLabelValues(operation, status).Inc()
	m.StripeFetchDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordWebhook records a processed webhook event
func (m *Metrics) RecordWebhook(eventType string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StripeWebhooksTotal.WithLabelValues(eventType, status).Inc()
}

// RecordCheckout records an ad checkout attempt
func (m *Metrics) RecordCheckout(spotID string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.CheckoutSessionTotal.WithLabelValues(spotID, status).Inc()
}

// RecordJobRun records a background job execution
func (m *Metrics) RecordJobRun(job string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.JobRunsTotal.WithLabelValues(job, status).Inc()
	m.JobRunDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordCacheOperation records a cache hit or miss
func (m *Metrics) RecordCacheOperation(cacheName string, hit bool) {
	if hit {
		m.CacheHitsTotal.WithLabelValues(cacheName).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(cacheName).Inc()
	}
}

// SetTrackedMRR replaces the per-currency MRR totals from a warm cycle.
func (m *Metrics) SetTrackedMRR(totals map[string]float64, unavailable int) {
	m.TrackedMRR.Reset()
	for currency, total := range totals {
		m.TrackedMRR.WithLabelValues(currency).Set(total)
	}
	m.MetricsErrored.Set(float64(unavailable))
}

// SetBuildInfo sets build information
func (m *Metrics) SetBuildInfo(version, commit string) {
	m.BuildInfo.WithLabelValues(version, commit).Set(1)
}

func statusCodeToLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
