// Package metrics exposes Prometheus counters for the orchestration loop.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	TurnsTotal     *prometheus.CounterVec
	LLMCallsTotal  prometheus.Counter
	ToolCallsTotal *prometheus.CounterVec
	CacheHitsTotal *prometheus.CounterVec
}

// New creates a metrics set backed by its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_turns_total",
			Help: "Completed conversation turns by outcome.",
		}, []string{"outcome"}),
		LLMCallsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "agent_llm_calls_total",
			Help: "LLM completion requests issued.",
		}),
		ToolCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_tool_calls_total",
			Help: "Tool executions by tool name and status.",
		}, []string{"tool", "status"}),
		CacheHitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_cache_hits_total",
			Help: "Short-circuits served from session memory.",
		}, []string{"kind"}),
	}
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
