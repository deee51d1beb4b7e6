package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/loom/internal/approval"
	"github.com/haasonsaas/loom/internal/graph"
	"github.com/haasonsaas/loom/internal/tools"
	"github.com/haasonsaas/loom/internal/tools/builtin"
	"github.com/haasonsaas/loom/pkg/models"
)

// dispatcherNode executes the pending tool calls of the last assistant
// message, in emission order. Calls that already have results are
// skipped, which is what makes interrupt re-entry idempotent: on resume
// the first unanswered call is exactly the one the run suspended on, and
// the resume value settles it.
//
// ask_human never executes; it is interposed here as a user_input_request
// interrupt. Calls the approval engine flags suspend as tool_approval
// interrupts. Tool failures, schema violations, and panics become error
// results and the loop continues.
func (r *Runtime) dispatcherNode(ctx context.Context, state *models.AgentState, resume *graph.Resume) (graph.NodeResult, error) {
	last := models.LastAssistant(state.Messages)
	if last == nil || len(last.ToolCalls) == 0 {
		return graph.NodeResult{}, nil
	}

	answered := models.AnsweredCallIDs(state.Messages)
	update := &models.StateUpdate{}

	for _, call := range last.ToolCalls {
		if answered[call.ID] {
			continue
		}

		if call.Name == builtin.AskHumanName {
			if state.IsSubagent() {
				appendResult(update, errorResult(call, "ask_human is not available to subagents"))
				r.countTool(call.Name, "error")
				continue
			}
			if resume == nil {
				args, err := builtin.ParseAskHumanArgs(call.Args)
				if err != nil {
					appendResult(update, errorResult(call, err.Error()))
					r.countTool(call.Name, "error")
					continue
				}
				r.countInterrupt(graph.InterruptUserInputRequest)
				return graph.NodeResult{
					Update:    update,
					Interrupt: graph.UserInputRequest(args.Question, args.Context, args.Default, true),
				}, nil
			}
			answer, _ := resume.Value.(string)
			resume = nil
			if answer == "" {
				appendResult(update, errorResult(call, "the user declined to answer"))
				r.countTool(call.Name, "error")
			} else {
				appendResult(update, okResult(call, answer))
				r.countTool(call.Name, "success")
			}
			continue
		}

		res, interrupt := r.dispatchCall(ctx, state, call, &resume)
		if interrupt != nil {
			return graph.NodeResult{Update: update, Interrupt: interrupt}, nil
		}
		appendResult(update, res)
	}
	return graph.NodeResult{Update: update}, nil
}

// dispatchCall settles one regular tool call: visibility, approval,
// schema validation, execution. A non-nil interrupt means the run must
// suspend before this call is answered. The resume pointer is consumed
// when this call is the one a suspension was waiting on.
func (r *Runtime) dispatchCall(ctx context.Context, state *models.AgentState, call models.ToolCall, resume **graph.Resume) (models.ToolResult, *graph.Interrupt) {
	tool, ok := r.Registry.Get(call.Name)
	if !ok {
		r.countTool(call.Name, "error")
		return errorResult(call, fmt.Sprintf("unknown tool: %s", call.Name)), nil
	}
	if state.IsSubagent() && !r.Registry.MetadataFor(call.Name).AvailableToSubagent {
		r.countTool(call.Name, "error")
		return errorResult(call, fmt.Sprintf("tool %s is not available to subagents", call.Name)), nil
	}

	if decision := r.Approvals.Check(call.Name, call.Args); decision.NeedsApproval {
		if *resume == nil {
			r.countInterrupt(graph.InterruptToolApproval)
			return models.ToolResult{}, graph.ToolApproval(call.Name, call.Args, decision.Reason, decision.RiskLevel)
		}
		approved := graph.Approved((*resume).Value)
		*resume = nil
		if !approved {
			r.countTool(call.Name, "rejected")
			return models.ToolResult{
				ToolCallID: call.ID,
				Name:       call.Name,
				Content:    approval.RejectionContent(decision.Reason),
				IsError:    true,
			}, nil
		}
	}

	if err := r.Registry.ValidateArgs(call.Name, call.Args); err != nil {
		r.countTool(call.Name, "error")
		return errorResult(call, err.Error()), nil
	}

	sess := &tools.Session{State: state, WorkspacePath: state.WorkspacePath}
	start := time.Now()
	result, err := r.execute(ctx, tool, call.Args, sess)
	if r.Metrics != nil {
		r.Metrics.ToolDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		r.logger().Warn("tool execution failed", "tool", call.Name, "error", err, "thread_id", state.ThreadID)
		r.countTool(call.Name, "error")
		return errorResult(call, err.Error()), nil
	}

	r.countTool(call.Name, "success")
	res := okResult(call, result.Content)
	if result.Content == "" {
		res.Content = "(no output)"
	}
	if result.Update != nil {
		// Tool-driven state changes (todo_write) ride along with the result.
		state.Apply(result.Update)
	}
	return res, nil
}

// execute runs a tool with the configured timeout and panic containment.
func (r *Runtime) execute(ctx context.Context, tool tools.Tool, args []byte, sess *tools.Session) (result *tools.Result, err error) {
	if r.ToolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.ToolTimeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = fmt.Errorf("tool %s panicked: %v", tool.Name(), p)
		}
	}()
	result, err = tool.Execute(ctx, args, sess)
	if err == nil && result == nil {
		err = fmt.Errorf("tool %s returned no result", tool.Name())
	}
	return result, err
}

func appendResult(update *models.StateUpdate, res models.ToolResult) {
	update.AppendMessages = append(update.AppendMessages, models.ToolResultMessage(res))
}

func okResult(call models.ToolCall, content string) models.ToolResult {
	return models.ToolResult{ToolCallID: call.ID, Name: call.Name, Content: content}
}

func errorResult(call models.ToolCall, msg string) models.ToolResult {
	return models.ToolResult{ToolCallID: call.ID, Name: call.Name, Content: "Error: " + msg, IsError: true}
}

func (r *Runtime) countTool(name, status string) {
	if r.Metrics != nil {
		r.Metrics.ToolExecutions.WithLabelValues(name, status).Inc()
	}
}

func (r *Runtime) countInterrupt(kind string) {
	if r.Metrics != nil {
		r.Metrics.Interrupts.WithLabelValues(kind).Inc()
	}
}
