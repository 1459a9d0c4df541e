package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	streamDuration  *prometheus.HistogramVec
	cacheLatency    *prometheus.HistogramVec
	cacheWrite      *prometheus.HistogramVec
	cacheHitRatio   prometheus.Gauge
	cacheLookups    *prometheus.CounterVec
	ledgerCommands  *prometheus.CounterVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	commandCount         uint64
}

// MetricsSnapshot is a compact view of the process counters.
type MetricsSnapshot struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	LedgerCommands           uint64    `json:"ledger_commands"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	streamDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "live_stream_duration_seconds",
		Help:    "Lifetime of live update streams in seconds",
		Buckets: []float64{1, 10, 60, 300, 900, 3600, 14400},
	}, []string{"path", "status"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups by key family",
		Buckets: prometheus.DefBuckets,
	}, []string{"family"})

	cacheWrite := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache writes by key family",
		Buckets: prometheus.DefBuckets,
	}, []string{"family"})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "Cache lookups by key family and result",
	}, []string{"family", "result"})

	ledgerCommands := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_commands_total",
		Help: "Student ledger commands by outcome",
	}, []string{"command", "outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, streamDuration, cacheLatency, cacheWrite, cacheHitRatio, cacheLookups, ledgerCommands, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		streamDuration:  streamDuration,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheLookups:    cacheLookups,
		ledgerCommands:  ledgerCommands,
	}
}

// RegisterSubscriberGauge exposes the live subscription count reported by count.
func (m *MetricsService) RegisterSubscriberGauge(count func() int) error {
	if m == nil || count == nil {
		return nil
	}
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "live_subscribers",
		Help: "Open live update subscriptions",
	}, func() float64 {
		return float64(count())
	}))
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// ObserveStream records a finished live update stream. Streams stay out of the request
// histogram and the snapshot average.
func (m *MetricsService) ObserveStream(path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.streamDuration.WithLabelValues(path, strconv.Itoa(status)).Observe(duration.Seconds())
}

// RecordCacheOperation records a cache lookup for a key family and updates the hit ratio.
func (m *MetricsService) RecordCacheOperation(family string, hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.WithLabelValues(family).Observe(duration.Seconds())
	if hit {
		m.cacheLookups.WithLabelValues(family, "hit").Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheLookups.WithLabelValues(family, "miss").Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration of a cache write for a key family.
func (m *MetricsService) ObserveCacheWrite(family string, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.WithLabelValues(family).Observe(duration.Seconds())
}

// ObserveLedgerCommand counts a student command by outcome.
func (m *MetricsService) ObserveLedgerCommand(command, outcome string) {
	if m == nil {
		return
	}
	m.ledgerCommands.WithLabelValues(command, outcome).Inc()
	atomic.AddUint64(&m.commandCount, 1)
}

// Snapshot returns aggregated counters.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	if total := hits + misses; total > 0 {
		cacheRatio = float64(hits) / float64(total)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return MetricsSnapshot{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		LedgerCommands:           atomic.LoadUint64(&m.commandCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
