// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ai_tokens_total",
			Help: "Tokens reported by the completion endpoint",
		},
		[]string{"provider", "model", "direction"}, // direction: input, output
	)

	CostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ai_cost_total",
			Help: "Billed cost recorded in the usage ledger",
		},
		[]string{"provider", "model"},
	)

	AgentRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_agent_runs_total",
			Help: "Agent invocations by outcome",
		},
		[]string{"agent", "outcome"}, // outcome: ok, degraded, error, panic
	)

	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_turn_duration_seconds",
			Help:    "Wall time to fully process one user message",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		},
		[]string{"mode"},
	)

	StreamRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_stream_retries_total",
			Help: "Transient completion failures retried by the single-agent streamer",
		},
	)

	PushDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_push_dropped_total",
			Help: "Events dropped because a subscriber buffer was full",
		},
	)

	ProgressConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_progress_update_conflicts_total",
			Help: "Optimistic-lock conflicts on intimacy_progress",
		},
	)
)

func ObserveUsage(provider, model string, in, out int, cost float64) {
	TokensTotal.WithLabelValues(provider, model, "input").Add(float64(in))
	TokensTotal.WithLabelValues(provider, model, "output").Add(float64(out))
	CostTotal.WithLabelValues(provider, model).Add(cost)
}
