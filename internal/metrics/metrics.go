// Package metrics provides Prometheus metrics collection and reporting for the gateway.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all Prometheus metrics.
type Registry struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Upload metrics
	UploadSessionsActive prometheus.Gauge
	UploadSessionsReaped prometheus.Counter
	ChunksReceivedTotal  prometheus.Counter
	ChunkBytesTotal      prometheus.Counter
	UploadsCompleted     *prometheus.CounterVec

	// Send metrics
	SendsInFlight      prometheus.Gauge
	SendDuration       *prometheus.HistogramVec
	SendBytesTotal     prometheus.Counter
	SendFallbacksTotal prometheus.Counter
	SendTimeoutsTotal  *prometheus.CounterVec
	FloodWaitsTotal    prometheus.Counter

	// Download metrics
	DownloadsTotal     *prometheus.CounterVec
	DownloadBytesTotal prometheus.Counter

	// Eviction metrics
	EvictionRunsTotal  *prometheus.CounterVec
	EvictionBytesFreed prometheus.Counter
	EvictionFilesFreed prometheus.Counter

	// Error metrics
	ErrorsByType      *prometheus.CounterVec
	ErrorsByComponent *prometheus.CounterVec

	registry *prometheus.Registry
}

func createHTTPMetrics(factory promauto.Factory) (*prometheus.CounterVec, *prometheus.HistogramVec, prometheus.Gauge) {
	reqTotal := factory.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudvault_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"route", "status"})
	reqDuration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cloudvault_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})
	reqInFlight := factory.NewGauge(prometheus.GaugeOpts{
		Name: "cloudvault_requests_in_flight",
		Help: "Number of requests currently being processed",
	})

	return reqTotal, reqDuration, reqInFlight
}

func createUploadMetrics(factory promauto.Factory) (
	prometheus.Gauge,
	prometheus.Counter,
	prometheus.Counter,
	prometheus.Counter,
	*prometheus.CounterVec,
) {
	sessionsActive := factory.NewGauge(prometheus.GaugeOpts{
		Name: "cloudvault_upload_sessions_active",
		Help: "Number of open chunked upload sessions",
	})
	sessionsReaped := factory.NewCounter(prometheus.CounterOpts{
		Name: "cloudvault_upload_sessions_reaped_total",
		Help: "Total number of idle upload sessions reaped",
	})
	chunksReceived := factory.NewCounter(prometheus.CounterOpts{
		Name: "cloudvault_upload_chunks_received_total",
		Help: "Total number of upload chunks received",
	})
	chunkBytes := factory.NewCounter(prometheus.CounterOpts{
		Name: "cloudvault_upload_chunk_bytes_total",
		Help: "Total upload chunk bytes received",
	})
	completed := factory.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudvault_uploads_completed_total",
		Help: "Total completed uploads by outcome",
	}, []string{"outcome"})

	return sessionsActive, sessionsReaped, chunksReceived, chunkBytes, completed
}

func createSendMetrics(factory promauto.Factory) (
	prometheus.Gauge,
	*prometheus.HistogramVec,
	prometheus.Counter,
	prometheus.Counter,
	*prometheus.CounterVec,
	prometheus.Counter,
) {
	inFlight := factory.NewGauge(prometheus.GaugeOpts{
		Name: "cloudvault_sends_in_flight",
		Help: "Number of protocol sends currently in flight",
	})
	duration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cloudvault_send_duration_seconds",
		Help:    "Protocol send duration in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
	}, []string{"shape", "outcome"})
	bytes := factory.NewCounter(prometheus.CounterOpts{
		Name: "cloudvault_send_bytes_total",
		Help: "Total bytes handed to the protocol client for sending",
	})
	fallbacks := factory.NewCounter(prometheus.CounterOpts{
		Name: "cloudvault_send_fallbacks_total",
		Help: "Total sends retried as generic documents after media rejection",
	})
	timeouts := factory.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudvault_send_timeouts_total",
		Help: "Total sends abandoned by the watchdog",
	}, []string{"reason"})
	floodWaits := factory.NewCounter(prometheus.CounterOpts{
		Name: "cloudvault_flood_waits_total",
		Help: "Total provider flood-control responses",
	})

	return inFlight, duration, bytes, fallbacks, timeouts, floodWaits
}

func createDownloadMetrics(factory promauto.Factory) (*prometheus.CounterVec, prometheus.Counter) {
	downloads := factory.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudvault_downloads_total",
		Help: "Total downloads by auth mode and range usage",
	}, []string{"auth", "ranged"})
	bytes := factory.NewCounter(prometheus.CounterOpts{
		Name: "cloudvault_download_bytes_total",
		Help: "Total bytes streamed to download callers",
	})

	return downloads, bytes
}

func createEvictionMetrics(factory promauto.Factory) (*prometheus.CounterVec, prometheus.Counter, prometheus.Counter) {
	runs := factory.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudvault_eviction_runs_total",
		Help: "Total storage eviction runs by outcome",
	}, []string{"outcome"})
	bytesFreed := factory.NewCounter(prometheus.CounterOpts{
		Name: "cloudvault_eviction_bytes_freed_total",
		Help: "Total bytes freed from the protocol client cache",
	})
	filesFreed := factory.NewCounter(prometheus.CounterOpts{
		Name: "cloudvault_eviction_files_freed_total",
		Help: "Total files removed from the protocol client cache",
	})

	return runs, bytesFreed, filesFreed
}

func createErrorMetrics(factory promauto.Factory) (*prometheus.CounterVec, *prometheus.CounterVec) {
	byType := factory.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudvault_errors_total",
		Help: "Total errors by type",
	}, []string{"type"})
	byComponent := factory.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudvault_errors_by_component_total",
		Help: "Total errors by component",
	}, []string{"component"})

	return byType, byComponent
}

// NewRegistry creates and configures a metrics collection registry.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Registry{registry: reg}

	r.RequestsTotal, r.RequestDuration, r.RequestsInFlight = createHTTPMetrics(factory)
	r.UploadSessionsActive, r.UploadSessionsReaped, r.ChunksReceivedTotal, r.ChunkBytesTotal, r.UploadsCompleted =
		createUploadMetrics(factory)
	r.SendsInFlight, r.SendDuration, r.SendBytesTotal, r.SendFallbacksTotal, r.SendTimeoutsTotal, r.FloodWaitsTotal =
		createSendMetrics(factory)
	r.DownloadsTotal, r.DownloadBytesTotal = createDownloadMetrics(factory)
	r.EvictionRunsTotal, r.EvictionBytesFreed, r.EvictionFilesFreed = createEvictionMetrics(factory)
	r.ErrorsByType, r.ErrorsByComponent = createErrorMetrics(factory)

	return r
}

// PrometheusRegistry exposes the underlying registry for the /metrics handler.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// ObserveRequest records a completed HTTP request.
func (r *Registry) ObserveRequest(route string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	r.RequestsTotal.WithLabelValues(route, code).Inc()
	r.RequestDuration.WithLabelValues(route, code).Observe(elapsed.Seconds())
}

// RecordError records an error occurrence by type and component.
func (r *Registry) RecordError(errType, component string) {
	r.ErrorsByType.WithLabelValues(errType).Inc()

	if component != "" {
		r.ErrorsByComponent.WithLabelValues(component).Inc()
	}
}
