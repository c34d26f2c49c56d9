// Package metrics exposes Prometheus collectors for the analysis pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all pipeline collectors. A nil *Metrics is safe to use;
// every record method is a no-op on nil.
type Metrics struct {
	registry *prometheus.Registry

	turnsTotal      *prometheus.CounterVec
	llmCallsTotal   *prometheus.CounterVec
	executionsTotal *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datapulse_turns_total",
			Help: "Analysis turns by classified intent.",
		}, []string{"intent"}),
		llmCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datapulse_llm_calls_total",
			Help: "LLM completions by outcome.",
		}, []string{"outcome"}),
		executionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datapulse_sql_executions_total",
			Help: "SQL executions by outcome.",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "datapulse_stage_duration_seconds",
			Help:    "Wall-clock duration of pipeline stages.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"stage"}),
	}

	reg.MustRegister(m.turnsTotal, m.llmCallsTotal, m.executionsTotal, m.stageDuration)
	return m
}

// Registry returns the backing registry for the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordTurn counts a turn by intent label.
func (m *Metrics) RecordTurn(intent string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(intent).Inc()
}

// RecordLLMCall counts an LLM completion by outcome ("ok", "transport",
// "timeout", "quota", "empty").
func (m *Metrics) RecordLLMCall(outcome string) {
	if m == nil {
		return
	}
	m.llmCallsTotal.WithLabelValues(outcome).Inc()
}

// RecordExecution counts a SQL execution by outcome ("ok", "error").
func (m *Metrics) RecordExecution(outcome string) {
	if m == nil {
		return
	}
	m.executionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records the duration of a pipeline stage in seconds.
func (m *Metrics) ObserveStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(seconds)
}
