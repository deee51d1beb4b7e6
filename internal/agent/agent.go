// Package agent wires the runtime together: the planner that calls the
// model, the dispatcher that executes tool calls with approval gating,
// the compressor that shrinks history under token pressure, and the
// session manager that loads, prepares, and persists per-thread state.
package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/haasonsaas/loom/internal/approval"
	"github.com/haasonsaas/loom/internal/compaction"
	"github.com/haasonsaas/loom/internal/graph"
	"github.com/haasonsaas/loom/internal/observability"
	"github.com/haasonsaas/loom/internal/providers"
	"github.com/haasonsaas/loom/internal/tokens"
	"github.com/haasonsaas/loom/internal/tools"
	"github.com/haasonsaas/loom/internal/tools/builtin"
	"github.com/haasonsaas/loom/pkg/models"
)

// Graph node names.
const (
	NodePlanner  = "planner"
	NodeTools    = "tools"
	NodeCompress = "compress"
)

// DefaultSystemPrompt frames the agent when the config provides none.
const DefaultSystemPrompt = `You are a capable AI agent. Work step by step: plan, call tools, observe their results, and adjust.
Use the todo_write tool to track multi-step work. Ask the human with ask_human only when you are genuinely blocked.
When the whole task is finished, call done_and_report with a final report.`

// Runtime holds everything a graph run needs besides per-session state.
// Build one per configured model slot and share it across sessions.
type Runtime struct {
	Provider providers.Provider
	Model    string

	SystemPrompt        string
	MaxCompletionTokens int
	ToolTimeout         time.Duration

	Registry   *tools.Registry
	Approvals  *approval.Engine
	Tracker    *tokens.Tracker
	Compressor *compaction.Compressor

	Metrics *observability.Metrics
	Logger  *slog.Logger
}

func (r *Runtime) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Graph builds the plan-act-observe loop. The checkpointer, when non-nil,
// persists state after every node.
func (r *Runtime) Graph(cp graph.Checkpointer) *graph.Graph {
	g := graph.New(NodePlanner).
		AddNode(NodePlanner, r.plannerNode).
		AddNode(NodeTools, r.dispatcherNode).
		AddNode(NodeCompress, r.compressNode).
		AddConditionalEdge(NodePlanner, r.routePlanner).
		AddConditionalEdge(NodeTools, r.routeTools).
		AddConditionalEdge(NodeCompress, routeCompress).
		SetLogger(r.logger())
	if cp != nil {
		g.SetCheckpointer(cp)
	}
	return g
}

// routePlanner leaves the planner: dispatch pending tool calls, compress
// when flagged and no calls are in flight, otherwise end the turn.
func (r *Runtime) routePlanner(state *models.AgentState) string {
	last := models.LastAssistant(state.Messages)
	if last != nil && len(last.ToolCalls) > 0 {
		answered := models.AnsweredCallIDs(state.Messages)
		for _, call := range last.ToolCalls {
			if !answered[call.ID] {
				return NodeTools
			}
		}
		// Every call was settled in the planner itself (malformed
		// arguments); run the planner again so the model can react.
		if m := models.LastMessage(state.Messages); m != nil && m.Role == models.RoleTool {
			return NodePlanner
		}
	}
	if state.NeedsCompression && !state.AutoCompressedThisRequest {
		return NodeCompress
	}
	return graph.End
}

// routeTools leaves the dispatcher: end on a final report, compress when
// flagged, otherwise hand the results back to the planner. Compression
// runs only here and from a call-free planner exit, so it never sees an
// assistant message with unanswered tool calls.
func (r *Runtime) routeTools(state *models.AgentState) string {
	last := models.LastMessage(state.Messages)
	if last != nil && last.Role == models.RoleTool {
		for _, tr := range last.ToolResults {
			if tr.Name == builtin.DoneAndReportName && !tr.IsError {
				return graph.End
			}
		}
	}
	if state.NeedsCompression && !state.AutoCompressedThisRequest {
		return NodeCompress
	}
	return NodePlanner
}

// routeCompress resumes the loop when tool results are waiting for the
// planner, and ends the turn otherwise.
func routeCompress(state *models.AgentState) string {
	last := models.LastMessage(state.Messages)
	if last != nil && last.Role == models.RoleTool {
		return NodePlanner
	}
	return graph.End
}

// compressNode asks the tracker for a strategy and rewrites history.
func (r *Runtime) compressNode(ctx context.Context, state *models.AgentState, _ *graph.Resume) (graph.NodeResult, error) {
	decision := r.Tracker.Check(state)
	update := r.Compressor.Compress(ctx, state, decision.Strategy)
	if r.Metrics != nil {
		r.Metrics.Compressions.WithLabelValues(string(decision.Strategy), "compressed").Inc()
	}
	return graph.NodeResult{Update: update}, nil
}
