// Package metrics exposes the engine's Prometheus surface: HTTP request
// metrics for the embedded health/metrics server, system metrics (memory,
// goroutines), and domain counters for the import pipeline, chunk cache,
// and playback engine.
//
// Grounded on the teacher's internal/metrics/metrics.go (metric
// definitions via promauto.With, http handler, system metrics collector
// goroutine), re-targeted from S3/encryption-gateway metrics to this
// engine's own domain.
package metrics

import (
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var defaultRegistry = prometheus.DefaultRegisterer

// Config holds metrics configuration.
type Config struct {
	EnablePathLabel bool
}

// Metrics holds every Prometheus collector this process exposes.
type Metrics struct {
	config Config

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestBytes    *prometheus.CounterVec

	chunkCacheHits        *prometheus.CounterVec
	chunkCacheMisses      *prometheus.CounterVec
	chunkCacheEvictions   prometheus.Counter
	chunkCacheGraduations prometheus.Counter
	chunkFetchDuration    *prometheus.HistogramVec

	importChunksUploaded  *prometheus.CounterVec
	importBytesUploaded   *prometheus.CounterVec
	importTracksCompleted prometheus.Counter
	importReleasesFailed  prometheus.Counter

	playbackStateTransitions *prometheus.CounterVec
	playbackSeeks            *prometheus.CounterVec

	activeConnections prometheus.Gauge
	goroutines        prometheus.Gauge
	memoryAllocBytes  prometheus.Gauge
	memorySysBytes    prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered against the default
// Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWithConfig(Config{EnablePathLabel: true})
}

// NewMetricsWithConfig creates a Metrics instance with cfg against the
// default registry.
func NewMetricsWithConfig(cfg Config) *Metrics {
	return newMetricsWithRegistry(defaultRegistry, cfg)
}

// NewMetricsWithRegistry creates a Metrics instance against a caller-owned
// registry, avoiding duplicate-registration panics across repeated test
// runs.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetricsWithRegistry(reg, Config{EnablePathLabel: true})
}

func newMetricsWithRegistry(reg prometheus.Registerer, cfg Config) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		config: cfg,
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		httpRequestBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_request_bytes_total",
				Help: "Total bytes transferred in HTTP requests",
			},
			[]string{"method", "path"},
		),
		chunkCacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chunk_cache_hits_total",
				Help: "Total number of on-disk chunk cache hits",
			},
			[]string{"policy"},
		),
		chunkCacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chunk_cache_misses_total",
				Help: "Total number of on-disk chunk cache misses",
			},
			[]string{"policy"},
		),
		chunkCacheEvictions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chunk_cache_evictions_total",
				Help: "Total number of chunks evicted from the on-disk cache",
			},
		),
		chunkCacheGraduations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chunk_cache_graduations_total",
				Help: "Total number of bypass-fetched chunks graduated into the cache",
			},
		),
		chunkFetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chunk_fetch_duration_seconds",
				Help:    "Chunk fetch+decrypt duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"source"}, // "cache" or "store"
		),
		importChunksUploaded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "import_chunks_uploaded_total",
				Help: "Total number of chunks uploaded during import",
			},
			[]string{"release_id"},
		),
		importBytesUploaded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "import_bytes_uploaded_total",
				Help: "Total encrypted bytes uploaded during import",
			},
			[]string{"release_id"},
		),
		importTracksCompleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "import_tracks_completed_total",
				Help: "Total number of tracks that finished import",
			},
		),
		importReleasesFailed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "import_releases_failed_total",
				Help: "Total number of releases that failed import",
			},
		),
		playbackStateTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playback_state_transitions_total",
				Help: "Total number of playback engine state transitions",
			},
			[]string{"state"},
		),
		playbackSeeks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playback_seeks_total",
				Help: "Total number of playback seek requests by outcome",
			},
			[]string{"outcome"}, // "seeked", "skipped", "error"
		),
		activeConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_connections",
				Help: "Number of active HTTP connections",
			},
		),
		goroutines: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "goroutines_total",
				Help: "Number of goroutines",
			},
		),
		memoryAllocBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "memory_alloc_bytes",
				Help: "Number of bytes allocated and not yet freed",
			},
		),
		memorySysBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "memory_sys_bytes",
				Help: "Total bytes of memory obtained from OS",
			},
		),
	}
}

// RecordHTTPRequest records one HTTP request/response cycle.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration, bytes int64) {
	label := path
	if m.config.EnablePathLabel {
		label = sanitizePathLabel(path)
	} else {
		label = "*"
	}
	statusLabel := http.StatusText(status)
	m.httpRequestsTotal.WithLabelValues(method, label, statusLabel).Inc()
	m.httpRequestDuration.WithLabelValues(method, label, statusLabel).Observe(duration.Seconds())
	m.httpRequestBytes.WithLabelValues(method, label).Add(float64(bytes))
}

// sanitizePathLabel reduces high-cardinality paths to stable labels, e.g.
// "/metrics" => "/metrics", "/healthz/extra" => "/healthz/*".
func sanitizePathLabel(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	segs := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(segs) <= 1 {
		return "/" + segs[0]
	}
	return "/" + segs[0] + "/*"
}

// RecordChunkCacheHit records a cache hit under cache_policy.
func (m *Metrics) RecordChunkCacheHit(policy string) {
	m.chunkCacheHits.WithLabelValues(policy).Inc()
}

// RecordChunkCacheMiss records a cache miss under cache_policy.
func (m *Metrics) RecordChunkCacheMiss(policy string) {
	m.chunkCacheMisses.WithLabelValues(policy).Inc()
}

// RecordChunkCacheEviction records one chunk evicted from the on-disk cache.
func (m *Metrics) RecordChunkCacheEviction() {
	m.chunkCacheEvictions.Inc()
}

// RecordChunkCacheGraduation records one bypass-fetched chunk graduated
// into the cache.
func (m *Metrics) RecordChunkCacheGraduation() {
	m.chunkCacheGraduations.Inc()
}

// RecordChunkFetch records a chunk fetch's duration, tagged by whether it
// was served from the on-disk cache or fetched from the object store.
func (m *Metrics) RecordChunkFetch(source string, duration time.Duration) {
	m.chunkFetchDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordChunkUploaded records one chunk persisted during import for releaseID.
func (m *Metrics) RecordChunkUploaded(releaseID string, encryptedSize int64) {
	m.importChunksUploaded.WithLabelValues(releaseID).Inc()
	m.importBytesUploaded.WithLabelValues(releaseID).Add(float64(encryptedSize))
}

// RecordTrackCompleted records one track finishing import.
func (m *Metrics) RecordTrackCompleted() {
	m.importTracksCompleted.Inc()
}

// RecordReleaseFailed records one release failing import.
func (m *Metrics) RecordReleaseFailed() {
	m.importReleasesFailed.Inc()
}

// RecordPlaybackStateTransition records the playback engine entering state.
func (m *Metrics) RecordPlaybackStateTransition(state string) {
	m.playbackStateTransitions.WithLabelValues(state).Inc()
}

// RecordPlaybackSeek records a seek request's outcome ("seeked", "skipped",
// or "error").
func (m *Metrics) RecordPlaybackSeek(outcome string) {
	m.playbackSeeks.WithLabelValues(outcome).Inc()
}

// UpdateSystemMetrics refreshes goroutine and memory gauges.
func (m *Metrics) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAllocBytes.Set(float64(memStats.Alloc))
	m.memorySysBytes.Set(float64(memStats.Sys))
}

// IncrementActiveConnections increments the active connections gauge.
func (m *Metrics) IncrementActiveConnections() { m.activeConnections.Inc() }

// DecrementActiveConnections decrements the active connections gauge.
func (m *Metrics) DecrementActiveConnections() { m.activeConnections.Dec() }

// StartSystemMetricsCollector starts a goroutine that periodically
// refreshes system metrics until stop is closed.
func (m *Metrics) StartSystemMetricsCollector(stop <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.UpdateSystemMetrics()
			}
		}
	}()
}

// Handler returns the HTTP handler serving this process's metrics in the
// Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
