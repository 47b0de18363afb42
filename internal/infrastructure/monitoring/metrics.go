package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels shared by batch, pipeline and operation metrics
const (
	OutcomeSuccess  = "success"
	OutcomeFailed   = "failed"
	OutcomeCanceled = "canceled"
	OutcomeSkipped  = "skipped"
)

// Metrics holds all Prometheus collectors for one client
type Metrics struct {
	registry *prometheus.Registry

	// Processing service metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	UploadBytes     prometheus.Counter

	// Pipeline metrics
	BatchesTotal      *prometheus.CounterVec
	PipelineRuns      *prometheus.CounterVec
	PipelineProgress  prometheus.Gauge
	PipelineBatchSize prometheus.Histogram

	// Orchestrator metrics
	OperationsTotal *prometheus.CounterVec

	// Session metrics
	DisplayHandles prometheus.Gauge
	SessionResets  prometheus.Counter
}

// NewMetrics creates a collector set on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mosaic_service_requests_total",
				Help: "Requests sent to the processing service",
			},
			[]string{"endpoint", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mosaic_service_request_duration_seconds",
				Help:    "Processing service request duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint"},
		),
		UploadBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mosaic_upload_bytes_total",
				Help: "Image bytes uploaded to the processing service",
			},
		),

		BatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mosaic_analyze_batches_total",
				Help: "Analyze batches by outcome",
			},
			[]string{"outcome"},
		),
		PipelineRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mosaic_pipeline_runs_total",
				Help: "Chunked upload pipeline runs by outcome",
			},
			[]string{"outcome"},
		),
		PipelineProgress: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mosaic_pipeline_progress_percent",
				Help: "Progress of the current or last pipeline run",
			},
		),
		PipelineBatchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mosaic_analyze_batch_bytes",
				Help:    "Payload size of analyze batches",
				Buckets: prometheus.ExponentialBuckets(64<<10, 2, 10),
			},
		),

		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mosaic_operations_total",
				Help: "Analyze, preview and generate actions by outcome",
			},
			[]string{"operation", "outcome"},
		),

		DisplayHandles: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mosaic_display_handles_live",
				Help: "Display handles currently allocated",
			},
		),
		SessionResets: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mosaic_session_resets_total",
				Help: "Session resets (session id rotations)",
			},
		),
	}
}

// Registry returns the registry the collectors are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest records one processing service request
func (m *Metrics) RecordRequest(endpoint, status string, duration time.Duration, uploaded int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.RequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
	if uploaded > 0 {
		m.UploadBytes.Add(float64(uploaded))
	}
}

// ObserveBatch records one analyze batch
func (m *Metrics) ObserveBatch(outcome string, size int64) {
	if m == nil {
		return
	}
	m.BatchesTotal.WithLabelValues(outcome).Inc()
	m.PipelineBatchSize.Observe(float64(size))
}

// ObservePipelineRun records a finished pipeline run
func (m *Metrics) ObservePipelineRun(outcome string) {
	if m == nil {
		return
	}
	m.PipelineRuns.WithLabelValues(outcome).Inc()
}

// SetProgress records pipeline progress
func (m *Metrics) SetProgress(percent int) {
	if m == nil {
		return
	}
	m.PipelineProgress.Set(float64(percent))
}

// ObserveOperation records a composite action outcome
func (m *Metrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// SetDisplayHandles records the number of live display handles
func (m *Metrics) SetDisplayHandles(count int) {
	if m == nil {
		return
	}
	m.DisplayHandles.Set(float64(count))
}

// IncSessionResets counts a session reset
func (m *Metrics) IncSessionResets() {
	if m == nil {
		return
	}
	m.SessionResets.Inc()
}

// Timer measures one processing service request
type Timer struct {
	start    time.Time
	metrics  *Metrics
	endpoint string
	uploaded int64
}

// NewTimer creates a new timer
func NewTimer(metrics *Metrics, endpoint string) *Timer {
	return &Timer{
		start:    time.Now(),
		metrics:  metrics,
		endpoint: endpoint,
	}
}

// Uploaded sets the request payload size recorded on Stop
func (t *Timer) Uploaded(n int64) *Timer {
	t.uploaded = n
	return t
}

// Stop stops the timer and records the request
func (t *Timer) Stop(status string) {
	t.metrics.RecordRequest(t.endpoint, status, time.Since(t.start), t.uploaded)
}
