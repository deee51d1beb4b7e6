// Package observability collects runtime metrics: planner invocations,
// tool executions, compressions, and interrupts. Metrics are served by
// the CLI's optional promhttp endpoint.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the Prometheus instrument set for the agent runtime.
type Metrics struct {
	// PlannerInvocations counts model calls made by the planner.
	// Labels: provider, model, status (success|error)
	PlannerInvocations *prometheus.CounterVec

	// PlannerDuration measures model call latency in seconds.
	// Labels: provider, model
	PlannerDuration *prometheus.HistogramVec

	// TokensUsed counts tokens by direction.
	// Labels: model, type (prompt|completion)
	TokensUsed *prometheus.CounterVec

	// ToolExecutions counts dispatched tool calls.
	// Labels: tool, status (success|error|rejected)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// Compressions counts history compressions by strategy and outcome.
	// Labels: strategy (compact|summarize), outcome (compressed|truncated)
	Compressions *prometheus.CounterVec

	// Interrupts counts graph suspensions.
	// Labels: type (tool_approval|user_input_request)
	Interrupts *prometheus.CounterVec

	// SubagentRuns counts delegated child loops.
	// Labels: status (success|error)
	SubagentRuns *prometheus.CounterVec
}

// NewMetrics registers the instrument set with the given registerer.
// Passing nil uses the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		PlannerInvocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_planner_invocations_total",
				Help: "Total planner model calls by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		PlannerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loom_planner_duration_seconds",
				Help:    "Duration of planner model calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_tokens_total",
				Help: "Total tokens consumed by model and type",
			},
			[]string{"model", "type"},
		),
		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_tool_executions_total",
				Help: "Total tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),
		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loom_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		Compressions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_compressions_total",
				Help: "Total history compressions by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		Interrupts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_interrupts_total",
				Help: "Total graph suspensions by interrupt type",
			},
			[]string{"type"},
		),
		SubagentRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_subagent_runs_total",
				Help: "Total delegated subagent runs by status",
			},
			[]string{"status"},
		),
	}
}
