package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for adcraft
type Metrics struct {
	// Render pipeline
	AssetsRenderedTotal   *prometheus.CounterVec
	RenderDurationSeconds *prometheus.HistogramVec
	JobsTotal             *prometheus.CounterVec
	JobDurationSeconds    prometheus.Histogram
	ArchiveBytesTotal     prometheus.Counter

	// Job queue gauges
	JobsQueued  prometheus.Gauge
	JobsRunning prometheus.Gauge

	// Tracking
	TrackingEventsTotal  *prometheus.CounterVec
	TrackingDroppedTotal prometheus.Counter

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		AssetsRenderedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adcraft_assets_rendered_total",
				Help: "Total number of rendered assets by outcome",
			},
			[]string{"format", "status"},
		),
		RenderDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "adcraft_render_duration_seconds",
				Help:    "Time spent rendering a single still",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"format"},
		),
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adcraft_jobs_total",
				Help: "Total number of finished generation jobs by status",
			},
			[]string{"status"},
		),
		JobDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "adcraft_job_duration_seconds",
				Help:    "Generation job duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		),
		ArchiveBytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "adcraft_archive_bytes_total",
				Help: "Total bytes of ZIP archives written",
			},
		),

		JobsQueued: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "adcraft_jobs_queued",
				Help: "Number of generation jobs waiting to run",
			},
		),
		JobsRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "adcraft_jobs_running",
				Help: "Number of generation jobs currently running",
			},
		),

		TrackingEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adcraft_tracking_events_total",
				Help: "Total number of tracking deliveries by backend and result",
			},
			[]string{"backend", "result"},
		),
		TrackingDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "adcraft_tracking_dropped_total",
				Help: "Tracking events dropped because too many sends were in flight",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adcraft_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "adcraft_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adcraft_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "adcraft_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "adcraft_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "adcraft_storage_used_bytes",
				Help: "SQLite database file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.AssetsRenderedTotal,
		m.RenderDurationSeconds,
		m.JobsTotal,
		m.JobDurationSeconds,
		m.ArchiveBytesTotal,
		m.JobsQueued,
		m.JobsRunning,
		m.TrackingEventsTotal,
		m.TrackingDroppedTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// ObserveRender records the outcome and duration of one render
func ObserveRender(format, status string, seconds float64) {
	m := Global()
	if m != nil {
		m.AssetsRenderedTotal.WithLabelValues(format, status).Inc()
		m.RenderDurationSeconds.WithLabelValues(format).Observe(seconds)
	}
}

// ObserveJob records a finished generation job
func ObserveJob(status string, seconds float64) {
	m := Global()
	if m != nil {
		m.JobsTotal.WithLabelValues(status).Inc()
		m.JobDurationSeconds.Observe(seconds)
	}
}

// AddArchiveBytes adds the size of a written archive
func AddArchiveBytes(n int64) {
	m := Global()
	if m != nil && n > 0 {
		m.ArchiveBytesTotal.Add(float64(n))
	}
}

// IncTrackingEvent increments the tracking delivery counter
func IncTrackingEvent(backend, result string) {
	m := Global()
	if m != nil {
		m.TrackingEventsTotal.WithLabelValues(backend, result).Inc()
	}
}

// IncTrackingDropped increments the dropped tracking event counter
func IncTrackingDropped() {
	m := Global()
	if m != nil {
		m.TrackingDroppedTotal.Inc()
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
