package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the application
type Metrics struct {
	// Pipeline metrics
	PipelineRuns       *prometheus.CounterVec
	PipelineRunLatency prometheus.Histogram
	EventsCompleted    *prometheus.CounterVec
	CooldownRejections prometheus.Counter

	// Model call metrics
	GeminiRequests        *prometheus.CounterVec
	GeminiRetries         prometheus.Counter
	TranscriptionFailures prometheus.Counter
	CommentGenerationRuns *prometheus.CounterVec
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics
func InitMetrics() *Metrics {
	metrics := &Metrics{
		// Pipeline runs by mode (single, batch, mixed)
		PipelineRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "eggbook_pipeline_runs_total",
			Help: "Total number of AI pipeline runs by mode",
		}, []string{"mode"}),

		// Pipeline run latency histogram
		PipelineRunLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "eggbook_pipeline_run_duration_seconds",
			Help:    "AI pipeline run latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300}, // up to 5 minutes for batch runs
		}),

		// Events reaching a terminal status, by outcome
		EventsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "eggbook_events_completed_total",
			Help: "Total number of events reaching a terminal status by outcome",
		}, []string{"outcome"}), // outcome: "processed" or "failed"

		CooldownRejections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eggbook_cooldown_rejections_total",
			Help: "Total number of pipeline runs deferred by the per-user cooldown gate",
		}),

		// Gemini calls by kind (stt, extraction, comments)
		GeminiRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "eggbook_gemini_requests_total",
			Help: "Total number of Gemini API requests by kind",
		}, []string{"kind"}),

		GeminiRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eggbook_gemini_retries_total",
			Help: "Total number of Gemini API retry attempts",
		}),

		TranscriptionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eggbook_transcription_failures_total",
			Help: "Total number of speech-to-text failures",
		}),

		CommentGenerationRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "eggbook_comment_generation_runs_total",
			Help: "Total number of daily comment generation runs by outcome",
		}, []string{"outcome"}), // outcome: "ready", "failed", "skipped"
	}

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

// PipelineRunObserved records a completed pipeline run
func (m *Metrics) PipelineRunObserved(mode string, duration time.Duration, processed, failed int) {
	m.PipelineRuns.WithLabelValues(mode).Inc()
	m.PipelineRunLatency.Observe(duration.Seconds())
	if processed > 0 {
		m.EventsCompleted.WithLabelValues("processed").Add(float64(processed))
	}
	if failed > 0 {
		m.EventsCompleted.WithLabelValues("failed").Add(float64(failed))
	}
}

// CooldownRejected records a run deferred by the cooldown gate
func (m *Metrics) CooldownRejected() {
	m.CooldownRejections.Inc()
}

// TranscriptionFailed records a speech-to-text failure
func (m *Metrics) TranscriptionFailed() {
	m.TranscriptionFailures.Inc()
}

// RecordGeminiRequest records an outbound Gemini request
func (m *Metrics) RecordGeminiRequest(kind string) {
	m.GeminiRequests.WithLabelValues(kind).Inc()
}

// RecordGeminiRetry records a Gemini retry attempt
func (m *Metrics) RecordGeminiRetry() {
	m.GeminiRetries.Inc()
}

// RecordCommentGeneration records a comment generation outcome
func (m *Metrics) RecordCommentGeneration(outcome string) {
	m.CommentGenerationRuns.WithLabelValues(outcome).Inc()
}
