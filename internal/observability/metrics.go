package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for Mioo.
// Uses a custom registry, no global state. A nil *Metrics is valid: every
// recording method is a no-op on nil, so callers never guard.
type Metrics struct {
	Registry *prometheus.Registry

	// Decision engine metrics.
	DecisionsTotal *prometheus.CounterVec

	// LLM metrics.
	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	LLMTokensUsed      *prometheus.CounterVec

	// History store metrics.
	StoreOpsTotal *prometheus.CounterVec

	// Telegram delivery metrics.
	TelegramSendsTotal *prometheus.CounterVec

	// Rendering and media metrics.
	RenderJobsTotal   *prometheus.CounterVec
	VideoFetchesTotal *prometheus.CounterVec

	// System metrics.
	ActiveEvaluations prometheus.Gauge
}

// NewMetrics creates a Metrics set registered on a custom prometheus.Registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mioo",
			Subsystem: "engine",
			Name:      "decisions_total",
			Help:      "Reply decisions by outcome.",
		}, []string{"outcome"}),

		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mioo",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total LLM API requests.",
		}, []string{"provider", "status"}),

		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mioo",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "LLM API request duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),

		LLMTokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mioo",
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Total LLM tokens consumed.",
		}, []string{"provider", "direction"}),

		StoreOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mioo",
			Subsystem: "history",
			Name:      "store_ops_total",
			Help:      "History store operations.",
		}, []string{"op", "status"}),

		TelegramSendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mioo",
			Subsystem: "telegram",
			Name:      "sends_total",
			Help:      "Outbound Telegram deliveries.",
		}, []string{"status"}),

		RenderJobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mioo",
			Subsystem: "render",
			Name:      "jobs_total",
			Help:      "Markdown and text rendering jobs.",
		}, []string{"kind", "status"}),

		VideoFetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mioo",
			Subsystem: "video",
			Name:      "fetches_total",
			Help:      "Video link downloads.",
		}, []string{"site", "status"}),

		ActiveEvaluations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mioo",
			Name:      "active_evaluations",
			Help:      "Number of reply evaluations in flight.",
		}),
	}

	reg.MustRegister(
		m.DecisionsTotal,
		m.LLMRequestsTotal,
		m.LLMRequestDuration,
		m.LLMTokensUsed,
		m.StoreOpsTotal,
		m.TelegramSendsTotal,
		m.RenderJobsTotal,
		m.VideoFetchesTotal,
		m.ActiveEvaluations,
	)

	return m
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

// RecordDecision counts one evaluation outcome.
func (m *Metrics) RecordDecision(outcome string) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(outcome).Inc()
}

// RecordLLMRequest records one provider call with its duration and token usage.
func (m *Metrics) RecordLLMRequest(provider string, dur time.Duration, inputTokens, outputTokens int, ok bool) {
	if m == nil {
		return
	}
	m.LLMRequestsTotal.WithLabelValues(provider, statusLabel(ok)).Inc()
	m.LLMRequestDuration.WithLabelValues(provider).Observe(dur.Seconds())
	if inputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, "output").Add(float64(outputTokens))
	}
}

// RecordStoreOp counts one history store operation.
func (m *Metrics) RecordStoreOp(op string, ok bool) {
	if m == nil {
		return
	}
	m.StoreOpsTotal.WithLabelValues(op, statusLabel(ok)).Inc()
}

// RecordTelegramSend counts one outbound delivery attempt.
func (m *Metrics) RecordTelegramSend(ok bool) {
	if m == nil {
		return
	}
	m.TelegramSendsTotal.WithLabelValues(statusLabel(ok)).Inc()
}

// RecordRenderJob counts one rendering job ("markdown" or "text").
func (m *Metrics) RecordRenderJob(kind string, ok bool) {
	if m == nil {
		return
	}
	m.RenderJobsTotal.WithLabelValues(kind, statusLabel(ok)).Inc()
}

// RecordVideoFetch counts one video download attempt.
func (m *Metrics) RecordVideoFetch(site string, ok bool) {
	if m == nil {
		return
	}
	m.VideoFetchesTotal.WithLabelValues(site, statusLabel(ok)).Inc()
}

// EvaluationStarted marks one evaluation in flight.
func (m *Metrics) EvaluationStarted() {
	if m == nil {
		return
	}
	m.ActiveEvaluations.Inc()
}

// EvaluationFinished marks one evaluation done.
func (m *Metrics) EvaluationFinished() {
	if m == nil {
		return
	}
	m.ActiveEvaluations.Dec()
}
