package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice gateway
type Metrics struct {
	// Media frame metrics
	FramesReceived  prometheus.Counter
	FramesProcessed prometheus.Counter
	FramesDropped   *prometheus.CounterVec
	ProtocolErrors  prometheus.Counter

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsEnded   prometheus.Counter
	SessionDuration prometheus.Histogram

	// Pipeline stage metrics
	StageDuration    *prometheus.HistogramVec
	StageErrors      *prometheus.CounterVec
	FallbacksEmitted prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all gateway metrics and registers them with reg.
// Tests pass their own registry so parallel test binaries never collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Media frame metrics
		FramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_frames_received_total",
			Help: "Total number of media frames received over the stream transport",
		}),
		FramesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_frames_processed_total",
			Help: "Total number of media frames fully processed by the pipeline",
		}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_frames_dropped_total",
			Help: "Total number of media frames dropped before processing",
		}, []string{"reason"}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_protocol_errors_total",
			Help: "Total number of malformed or invalid stream messages",
		}),

		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_active_sessions",
			Help: "Current number of active call sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_sessions_created_total",
			Help: "Total number of call sessions created",
		}),
		SessionsEnded: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_sessions_ended_total",
			Help: "Total number of call sessions ended",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_session_duration_seconds",
			Help:    "Duration of call sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		// Pipeline stage metrics
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_pipeline_stage_duration_seconds",
			Help:    "Duration of individual pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}, []string{"stage"}),
		StageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_pipeline_stage_errors_total",
			Help: "Total number of pipeline stage failures",
		}, []string{"stage"}),
		FallbacksEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_fallbacks_emitted_total",
			Help: "Total number of fallback apologies spoken to callers",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordFrameReceived increments the frames received counter
func (m *Metrics) RecordFrameReceived() {
	m.FramesReceived.Inc()
}

// RecordFrameProcessed increments the frames processed counter
func (m *Metrics) RecordFrameProcessed() {
	m.FramesProcessed.Inc()
}

// RecordFrameDropped records a dropped frame with the drop reason
func (m *Metrics) RecordFrameDropped(reason string) {
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// RecordProtocolError increments the protocol errors counter
func (m *Metrics) RecordProtocolError() {
	m.ProtocolErrors.Inc()
}

// SetActiveSessions sets the current number of active sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionEnded increments the sessions ended counter and records duration
func (m *Metrics) RecordSessionEnded(durationSeconds float64) {
	m.SessionsEnded.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordStageSuccess records a completed pipeline stage
func (m *Metrics) RecordStageSuccess(stage string, durationSeconds float64) {
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordStageError records a failed pipeline stage
func (m *Metrics) RecordStageError(stage string, durationSeconds float64) {
	m.StageErrors.WithLabelValues(stage).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordFallbackEmitted increments the fallback counter
func (m *Metrics) RecordFallbackEmitted() {
	m.FallbacksEmitted.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
