// Package telemetry wires Prometheus metrics and OpenTelemetry tracing for
// the conversation cache, the assistant and the provider chain.
package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flemzord/parley/internal/conversation"
	"github.com/flemzord/parley/internal/provider"
)

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path"`
}

// Defaults fills zero-value fields.
func (c *MetricsConfig) Defaults() {
	if c.Namespace == "" {
		c.Namespace = "parley"
	}
	if c.Path == "" {
		c.Path = "/metrics"
	}
}

// Reply outcomes recorded by ObserveReply.
const (
	OutcomeOK        = "ok"
	OutcomeCleared   = "cleared"
	OutcomeApology   = "apology"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// providerLatencyBuckets cover typical language-model call latencies.
var providerLatencyBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}

// Metrics holds every Prometheus collector the service exports.
// It implements conversation.Observer and provider.CallObserver.
type Metrics struct {
	registry *prometheus.Registry

	sessions       prometheus.Gauge
	turnsRecorded  prometheus.Counter
	turnsEvicted   prometheus.Counter
	sessionsClear  prometheus.Counter
	replies        *prometheus.CounterVec
	replyDuration  *prometheus.HistogramVec
	tokens         *prometheus.CounterVec
	providerCalls  *prometheus.CounterVec
	providerErrors *prometheus.CounterVec
	providerLat    *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them, together with the
// Go runtime and process collectors, on a fresh registry.
func NewMetrics(cfg MetricsConfig) *Metrics {
	cfg.Defaults()
	ns := cfg.Namespace

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "conversation", Name: "sessions",
			Help: "Number of users with a cached conversation.",
		}),
		turnsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "conversation", Name: "turns_recorded_total",
			Help: "Turns appended to conversation sessions.",
		}),
		turnsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "conversation", Name: "turns_evicted_total",
			Help: "Turns dropped to keep sessions within the prompt budget.",
		}),
		sessionsClear: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "conversation", Name: "sessions_cleared_total",
			Help: "Sessions cleared by command or sign-out.",
		}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "assistant", Name: "replies_total",
			Help: "Replies by kind and outcome.",
		}, []string{"kind", "outcome"}),
		replyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "assistant", Name: "reply_duration_seconds",
			Help:    "End-to-end reply latency.",
			Buckets: providerLatencyBuckets,
		}, []string{"kind"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "assistant", Name: "tokens_total",
			Help: "Tokens reported by the provider, by type.",
		}, []string{"type"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "provider", Name: "calls_total",
			Help: "Provider calls by provider and operation.",
		}, []string{"provider", "op"}),
		providerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "provider", Name: "errors_total",
			Help: "Provider call failures by provider and error type.",
		}, []string{"provider", "error_type"}),
		providerLat: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "provider", Name: "latency_seconds",
			Help:    "Provider call latency.",
			Buckets: providerLatencyBuckets,
		}, []string{"provider", "op"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessions,
		m.turnsRecorded,
		m.turnsEvicted,
		m.sessionsClear,
		m.replies,
		m.replyDuration,
		m.tokens,
		m.providerCalls,
		m.providerErrors,
		m.providerLat,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving the registry in exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetSessions sets the cached-sessions gauge.
func (m *Metrics) SetSessions(n int) {
	m.sessions.Set(float64(n))
}

// TurnRecorded implements conversation.Observer.
func (m *Metrics) TurnRecorded(string, int) {
	m.turnsRecorded.Inc()
}

// TurnsEvicted implements conversation.Observer.
func (m *Metrics) TurnsEvicted(_ string, n int) {
	m.turnsEvicted.Add(float64(n))
}

// SessionCleared implements conversation.Observer.
func (m *Metrics) SessionCleared(string) {
	m.sessionsClear.Inc()
}

// ObserveReply records the outcome and latency of one assistant reply.
func (m *Metrics) ObserveReply(kind, outcome string, elapsed time.Duration) {
	m.replies.WithLabelValues(kind, outcome).Inc()
	m.replyDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveUsage adds provider-reported token usage.
func (m *Metrics) ObserveUsage(u provider.TokenUsage) {
	m.tokens.WithLabelValues("prompt").Add(float64(u.PromptTokens))
	m.tokens.WithLabelValues("completion").Add(float64(u.CompletionTokens))
}

// ProviderCall implements provider.CallObserver.
func (m *Metrics) ProviderCall(name, op string, elapsed time.Duration, err error) {
	m.providerCalls.WithLabelValues(name, op).Inc()
	m.providerLat.WithLabelValues(name, op).Observe(elapsed.Seconds())
	if err != nil {
		m.providerErrors.WithLabelValues(name, errorType(err)).Inc()
	}
}

// errorType maps a provider error to a low-cardinality label.
func errorType(err error) string {
	switch {
	case errors.Is(err, provider.ErrRateLimit):
		return "rate_limit"
	case errors.Is(err, provider.ErrProviderDown):
		return "unavailable"
	case errors.Is(err, provider.ErrAuthentication):
		return "auth"
	case errors.Is(err, provider.ErrContextLength):
		return "context_length"
	case errors.Is(err, provider.ErrNoChoices), errors.Is(err, provider.ErrNoText), errors.Is(err, provider.ErrNoImage):
		return "malformed"
	default:
		return "other"
	}
}

// Interface guards.
var (
	_ conversation.Observer = (*Metrics)(nil)
	_ provider.CallObserver = (*Metrics)(nil)
)
