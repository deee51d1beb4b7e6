// Package subagent implements task delegation: a tool that spins up a
// child agent loop with its own state, a restricted tool catalog, and a
// smaller loop budget, then reports the child's outcome to the caller.
package subagent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/haasonsaas/loom/internal/agent"
	"github.com/haasonsaas/loom/internal/graph"
	"github.com/haasonsaas/loom/internal/tools"
	"github.com/haasonsaas/loom/internal/tools/builtin"
	"github.com/haasonsaas/loom/pkg/models"
)

// ToolName is the delegation tool's function name.
const ToolName = "delegate_task"

// DefaultMaxLoops bounds a child run unless the caller asks for less.
const DefaultMaxLoops = 50

// briefThreshold is the answer length below which the child is pushed
// once for a fuller report.
const briefThreshold = 200

// continuationPrompt is the single follow-up sent to a child whose final
// answer was too brief.
const continuationPrompt = "Your answer is too brief to act on. Expand it: state what you did, what you produced, and where the artifacts are."

// DelegateTool runs a task in a child agent loop. It is registered for
// host sessions only; a subagent cannot delegate further.
type DelegateTool struct {
	Runtime  *agent.Runtime
	MaxLoops int
}

// Metadata returns the registration metadata for the delegation tool.
func Metadata() tools.Metadata {
	return tools.Metadata{Risk: "medium", Tags: []string{"orchestration"}, AvailableToSubagent: false}
}

func (d *DelegateTool) Name() string { return ToolName }

func (d *DelegateTool) Description() string {
	return "Delegate a self-contained task to a subagent that works autonomously and returns a report. Give it everything it needs up front; it cannot ask the human questions."
}

func (d *DelegateTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"task": {"type": "string", "description": "The full task description, including success criteria."},
			"context": {"type": "string", "description": "Background the subagent needs: prior findings, file locations, constraints."},
			"max_loops": {"type": "integer", "description": "Loop budget for the subagent.", "minimum": 1}
		},
		"required": ["task"]
	}`)
}

type delegateArgs struct {
	Task     string `json:"task"`
	Context  string `json:"context"`
	MaxLoops int    `json:"max_loops"`
}

type delegateReport struct {
	OK        bool   `json:"ok"`
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	ContextID string `json:"context_id"`
	Loops     int    `json:"loops,omitempty"`
}

// Execute runs the child loop to completion and returns its report as
// JSON. Child failures are reported in-band, never as tool errors, so the
// host can decide how to proceed.
func (d *DelegateTool) Execute(ctx context.Context, args json.RawMessage, sess *tools.Session) (*tools.Result, error) {
	var a delegateArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("bad arguments: %w", err)
	}
	if a.Task == "" {
		return nil, fmt.Errorf("task is required")
	}

	child := d.childState(sess, a)
	report := d.run(ctx, child)
	if d.Runtime.Metrics != nil {
		status := "success"
		if !report.OK {
			status = "error"
		}
		d.Runtime.Metrics.SubagentRuns.WithLabelValues(status).Inc()
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return nil, err
	}
	return &tools.Result{Content: string(payload)}, nil
}

// childState builds a fresh subagent state that shares the parent's
// workspace but nothing else.
func (d *DelegateTool) childState(sess *tools.Session, a delegateArgs) *models.AgentState {
	contextID := models.SubagentContextPrefix + uuid.NewString()[:8]
	maxLoops := a.MaxLoops
	if maxLoops <= 0 {
		maxLoops = d.MaxLoops
	}
	if maxLoops <= 0 {
		maxLoops = DefaultMaxLoops
	}

	task := a.Task
	if a.Context != "" {
		task += "\n\nContext:\n" + a.Context
	}

	child := &models.AgentState{
		MaxLoops:  maxLoops,
		ContextID: contextID,
		ThreadID:  contextID,
	}
	if sess != nil {
		child.WorkspacePath = sess.WorkspacePath
		if sess.State != nil {
			child.ParentContext = sess.State.ContextID
		}
	}
	child.Messages = append(child.Messages, models.UserMessage(task))
	return child
}

// run drives the child graph to completion. There is no human behind a
// subagent, so approval interrupts are answered with a rejection and the
// child works around them or gives up.
func (d *DelegateTool) run(ctx context.Context, child *models.AgentState) delegateReport {
	report := delegateReport{ContextID: child.ContextID}
	g := d.Runtime.Graph(nil)

	last, err := d.drive(ctx, g, child)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	if last.Err != nil {
		report.Error = last.Err.Error()
		report.Loops = child.Loops
		return report
	}

	result := finalAnswer(child.Messages)
	if len(result) < briefThreshold && childNotExhausted(child) {
		firstRunLoops := child.Loops
		child.Messages = append(child.Messages, models.UserMessage(continuationPrompt))
		child.BeginTurn()
		// The continuation spends what is left of the original budget;
		// the reported loop count is cumulative across both runs.
		child.Loops = firstRunLoops
		last, err = d.drive(ctx, g, child)
		if err == nil && last.Err == nil {
			if expanded := finalAnswer(child.Messages); expanded != "" {
				result = expanded
			}
		}
	}

	if result == "" {
		report.Error = "subagent produced no answer"
		report.Loops = child.Loops
		return report
	}
	report.OK = true
	report.Result = result
	report.Loops = child.Loops
	return report
}

// drive runs the child graph to quiescence, auto-rejecting any approval
// interrupts along the way.
func (d *DelegateTool) drive(ctx context.Context, g *graph.Graph, child *models.AgentState) (graph.Snapshot, error) {
	ch, err := g.Run(ctx, child)
	if err != nil {
		return graph.Snapshot{}, err
	}
	for {
		last := graph.Drain(ch)
		if last.Interrupt == nil {
			return last, nil
		}
		ch, err = g.Resume(ctx, child, graph.ResumeReject)
		if err != nil {
			return graph.Snapshot{}, err
		}
	}
}

// finalAnswer prefers the final report of done_and_report, then the last
// assistant text.
func finalAnswer(msgs []models.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		for _, tr := range msgs[i].ToolResults {
			if tr.Name == builtin.DoneAndReportName && !tr.IsError {
				return tr.Content
			}
		}
	}
	if m := models.LastAssistant(msgs); m != nil {
		return m.Content
	}
	return ""
}

func childNotExhausted(child *models.AgentState) bool {
	return child.MaxLoops <= 0 || child.Loops < child.MaxLoops
}
