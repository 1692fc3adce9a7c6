package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Render sites
const (
	SitePreview = "preview"
	SiteExport  = "export"
	SiteSave    = "save"
	SiteSend    = "send"
	SiteLayout  = "layout"
)

// Metrics holds all Prometheus metrics for mailforge
type Metrics struct {
	// Rendering
	RendersTotal            *prometheus.CounterVec
	RenderDurationSeconds   *prometheus.HistogramVec
	ValidationFailuresTotal *prometheus.CounterVec
	ExportsTotal            *prometheus.CounterVec

	// Collaborators
	UploadsTotal        *prometheus.CounterVec
	TemplatesSavedTotal prometheus.Counter
	TemplatesStored     prometheus.Gauge
	TestSendsTotal      *prometheus.CounterVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry

	// counters restorable from a persisted snapshot, by metric name
	counterVecs map[string]*prometheus.CounterVec
	counters    map[string]prometheus.Counter
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RendersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailforge_renders_total",
				Help: "Total number of rendered documents",
			},
			[]string{"format", "site"},
		),
		RenderDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailforge_render_duration_seconds",
				Help:    "Document render duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
			},
			[]string{"site"},
		),
		ValidationFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailforge_validation_failures_total",
				Help: "Total number of rejected template inputs",
			},
			[]string{"field"},
		),
		ExportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailforge_exports_total",
				Help: "Total number of exported documents",
			},
			[]string{"source"},
		),

		UploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailforge_uploads_total",
				Help: "Total number of image uploads",
			},
			[]string{"backend", "result"},
		),
		TemplatesSavedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mailforge_templates_saved_total",
				Help: "Total number of saved templates",
			},
		),
		TemplatesStored: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailforge_templates_stored",
				Help: "Number of templates currently stored",
			},
		),
		TestSendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailforge_test_sends_total",
				Help: "Total number of test sends",
			},
			[]string{"result"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailforge_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailforge_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailforge_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailforge_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailforge_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailforge_storage_used_bytes",
				Help: "BoltDB file size in bytes",
			},
		),

		registry: reg,
	}

	m.counterVecs = map[string]*prometheus.CounterVec{
		"mailforge_renders_total":             m.RendersTotal,
		"mailforge_validation_failures_total": m.ValidationFailuresTotal,
		"mailforge_exports_total":             m.ExportsTotal,
		"mailforge_uploads_total":             m.UploadsTotal,
		"mailforge_test_sends_total":          m.TestSendsTotal,
		"mailforge_api_requests_total":        m.APIRequestsTotal,
		"mailforge_api_errors_total":          m.APIErrorsTotal,
	}
	m.counters = map[string]prometheus.Counter{
		"mailforge_templates_saved_total": m.TemplatesSavedTotal,
	}

	reg.MustRegister(
		m.RendersTotal,
		m.RenderDurationSeconds,
		m.ValidationFailuresTotal,
		m.ExportsTotal,
		m.UploadsTotal,
		m.TemplatesSavedTotal,
		m.TemplatesStored,
		m.TestSendsTotal,
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

// ObserveRender records one render at site.
func ObserveRender(format, site string, d time.Duration) {
	m := Global()
	if m != nil {
		m.RendersTotal.WithLabelValues(format, site).Inc()
		m.RenderDurationSeconds.WithLabelValues(site).Observe(d.Seconds())
	}
}

// IncValidationFailures increments the rejected input counter
func IncValidationFailures(field string) {
	m := Global()
	if m != nil {
		m.ValidationFailuresTotal.WithLabelValues(field).Inc()
	}
}

// IncExports increments the export counter
func IncExports(source string) {
	m := Global()
	if m != nil {
		m.ExportsTotal.WithLabelValues(source).Inc()
	}
}

// IncUploads increments the upload counter
func IncUploads(backend, result string) {
	m := Global()
	if m != nil {
		m.UploadsTotal.WithLabelValues(backend, result).Inc()
	}
}

// IncTemplatesSaved increments the saved template counter
func IncTemplatesSaved() {
	m := Global()
	if m != nil {
		m.TemplatesSavedTotal.Inc()
	}
}

// IncTestSends increments the test send counter
func IncTestSends(result string) {
	m := Global()
	if m != nil {
		m.TestSendsTotal.WithLabelValues(result).Inc()
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
