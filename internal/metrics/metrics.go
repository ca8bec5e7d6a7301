// Package metrics exposes the Prometheus collectors for turns, stages,
// caches and external providers. All recording methods accept a nil
// receiver so components can run without metrics in tests and tools.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	TurnsTotal     *prometheus.CounterVec
	TurnDuration   *prometheus.HistogramVec
	StageDuration  *prometheus.HistogramVec
	FailuresTotal  *prometheus.CounterVec
	DecisionsTotal *prometheus.CounterVec
	CacheTotal     *prometheus.CounterVec
	ProviderTotal  *prometheus.CounterVec
	ActiveCalls    prometheus.Gauge
	WebhooksTotal  *prometheus.CounterVec
}

// New creates a Metrics instance with every collector registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "twin"
	}

	registry := prometheus.NewRegistry()

	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed conversation turns",
		},
		[]string{"channel", "decision", "pattern"},
	)

	turnDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "End-to-end turn latency",
			Buckets:   []float64{0.25, 0.5, 1, 1.5, 2, 2.5, 4, 6, 8, 12},
		},
		[]string{"channel"},
	)

	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Latency of individual turn stages",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		},
		[]string{"stage"},
	)

	failuresTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_failures_total",
			Help:      "Recovered turn failures by kind",
		},
		[]string{"kind"},
	)

	decisionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Routing decisions by kind and pattern",
		},
		[]string{"kind", "pattern", "escalated"},
	)

	cacheTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Cache lookups and writes by category and result",
		},
		[]string{"category", "op", "result"},
	)

	providerTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Calls to external speech and language providers",
		},
		[]string{"service", "provider", "result"},
	)

	activeCalls := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Phone calls currently in progress",
		},
	)

	webhooksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "Telephony webhook deliveries",
		},
		[]string{"endpoint", "outcome"},
	)

	registry.MustRegister(
		turnsTotal,
		turnDuration,
		stageDuration,
		failuresTotal,
		decisionsTotal,
		cacheTotal,
		providerTotal,
		activeCalls,
		webhooksTotal,
	)

	return &Metrics{
		registry:       registry,
		TurnsTotal:     turnsTotal,
		TurnDuration:   turnDuration,
		StageDuration:  stageDuration,
		FailuresTotal:  failuresTotal,
		DecisionsTotal: decisionsTotal,
		CacheTotal:     cacheTotal,
		ProviderTotal:  providerTotal,
		ActiveCalls:    activeCalls,
		WebhooksTotal:  webhooksTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTurn records a completed turn.
func (m *Metrics) RecordTurn(channel, decision, pattern string, d time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(channel, decision, pattern).Inc()
	m.TurnDuration.WithLabelValues(channel).Observe(d.Seconds())
}

func (m *Metrics) RecordStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) RecordFailure(kind string) {
	if m == nil || kind == "" {
		return
	}
	m.FailuresTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordDecision(kind, pattern string, escalated bool) {
	if m == nil {
		return
	}
	esc := "false"
	if escalated {
		esc = "true"
	}
	m.DecisionsTotal.WithLabelValues(kind, pattern, esc).Inc()
}

// RecordCache records a cache operation; result is "hit", "miss", "ok" or "error".
func (m *Metrics) RecordCache(category, op, result string) {
	if m == nil {
		return
	}
	m.CacheTotal.WithLabelValues(category, op, result).Inc()
}

// RecordProvider records a provider call; service is "stt", "tts" or "llm".
func (m *Metrics) RecordProvider(service, provider, result string) {
	if m == nil {
		return
	}
	m.ProviderTotal.WithLabelValues(service, provider, result).Inc()
}

func (m *Metrics) CallStarted() {
	if m == nil {
		return
	}
	m.ActiveCalls.Inc()
}

func (m *Metrics) CallEnded() {
	if m == nil {
		return
	}
	m.ActiveCalls.Dec()
}

func (m *Metrics) RecordWebhook(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.WebhooksTotal.WithLabelValues(endpoint, outcome).Inc()
}
