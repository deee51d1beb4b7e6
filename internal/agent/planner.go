package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/loom/internal/graph"
	"github.com/haasonsaas/loom/internal/providers"
	"github.com/haasonsaas/loom/internal/tokens"
	"github.com/haasonsaas/loom/pkg/models"
)

// plannerNode runs one model call: assemble the system prompt and tool
// catalog, invoke the provider, and record the assistant turn plus its
// token usage. The compression flag is raised here when the call pushes
// cumulative usage past the critical threshold.
//
// The loop ceiling is enforced at entry: instead of another model call,
// the node appends a synthetic assistant message and the run ends.
func (r *Runtime) plannerNode(ctx context.Context, state *models.AgentState, _ *graph.Resume) (graph.NodeResult, error) {
	if state.MaxLoops > 0 && state.Loops >= state.MaxLoops {
		r.logger().Warn("loop ceiling reached", "loops", state.Loops, "thread_id", state.ThreadID)
		return graph.NodeResult{Update: &models.StateUpdate{
			AppendMessages: []models.Message{models.AssistantMessage(graph.BudgetExhaustedMessage, nil)},
		}}, nil
	}

	req := &providers.Request{
		Model:               r.Model,
		System:              r.systemPrompt(state),
		Messages:            state.Messages,
		Tools:               r.toolSpecs(state),
		MaxCompletionTokens: r.MaxCompletionTokens,
	}

	start := time.Now()
	turn, err := r.Provider.Invoke(ctx, req)
	elapsed := time.Since(start)
	if r.Metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		r.Metrics.PlannerInvocations.WithLabelValues(r.Provider.Name(), r.Model, status).Inc()
		r.Metrics.PlannerDuration.WithLabelValues(r.Provider.Name(), r.Model).Observe(elapsed.Seconds())
	}
	if err != nil {
		return graph.NodeResult{}, fmt.Errorf("planner: %w", err)
	}

	if r.Metrics != nil {
		r.Metrics.TokensUsed.WithLabelValues(r.Model, "prompt").Add(float64(turn.Usage.InputTokens))
		r.Metrics.TokensUsed.WithLabelValues(r.Model, "completion").Add(float64(turn.Usage.OutputTokens))
	}
	if turn.Truncated() {
		r.logger().Warn("assistant turn truncated at the completion ceiling",
			"model", r.Model, "thread_id", state.ThreadID)
	}

	update := &models.StateUpdate{
		AppendMessages:      []models.Message{turn.Message()},
		LoopsDelta:          1,
		AddPromptTokens:     turn.Usage.InputTokens,
		AddCompletionTokens: turn.Usage.OutputTokens,
	}

	// Calls with unparseable argument JSON are settled here with an error
	// result so they never reach the dispatcher.
	for _, call := range turn.ToolCalls {
		if len(call.Args) == 0 || json.Valid(call.Args) {
			continue
		}
		r.logger().Warn("tool call arguments are not valid JSON", "tool", call.Name,
			"thread_id", state.ThreadID,
			"hint", "usually truncation; consider raising max_completion_tokens")
		update.AppendMessages = append(update.AppendMessages, models.ToolResultMessage(models.ToolResult{
			ToolCallID: call.ID,
			Name:       call.Name,
			Content:    "Error: tool call arguments were not valid JSON; the call was not executed",
			IsError:    true,
		}))
	}

	level, _ := r.Tracker.Classify(state.CumulativePromptTokens + turn.Usage.InputTokens)
	if level == tokens.LevelCritical {
		update.NeedsCompression = models.Bool(true)
	}
	return graph.NodeResult{Update: update}, nil
}

// systemPrompt assembles the static frame plus the session context and
// one-shot reminders: workspace, active skills, todo state, token
// pressure, and files or agents newly mentioned this turn.
func (r *Runtime) systemPrompt(state *models.AgentState) string {
	var b strings.Builder
	prompt := r.SystemPrompt
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	b.WriteString(prompt)

	if state.WorkspacePath != "" {
		fmt.Fprintf(&b, "\n\nYour workspace is %s. Skills live under skills/, user uploads under uploads/, and deliverables belong in outputs/.", state.WorkspacePath)
	}
	if len(state.ActiveSkills) > 0 {
		fmt.Fprintf(&b, "\nActive skills: %s. Read each skill's directory before using it.", strings.Join(state.ActiveSkills, ", "))
	}
	if len(state.Todos) > 0 {
		b.WriteString("\n\nCurrent todo list:\n")
		b.WriteString(renderTodos(state.Todos))
	}

	for _, reminder := range r.reminders(state) {
		fmt.Fprintf(&b, "\n\n[reminder] %s", reminder)
	}
	return b.String()
}

// reminders builds the one-shot notes injected into the system prompt.
func (r *Runtime) reminders(state *models.AgentState) []string {
	var out []string
	if level, ratio := r.Tracker.Classify(state.CumulativePromptTokens); level != tokens.LevelNormal {
		if msg := tokens.Advisory(level, ratio); msg != "" {
			out = append(out, msg)
		}
	}
	if len(state.NewUploadedFiles) > 0 {
		out = append(out, "Files referenced this turn: "+strings.Join(state.NewUploadedFiles, ", "))
	}
	if len(state.NewMentionedAgents) > 0 {
		out = append(out, "Agents mentioned this turn: "+strings.Join(state.NewMentionedAgents, ", ")+". Use delegate_task to hand work to them.")
	}
	return out
}

func renderTodos(todos []models.Todo) string {
	marks := map[models.TodoStatus]string{
		models.TodoPending:    "[ ]",
		models.TodoInProgress: "[>]",
		models.TodoCompleted:  "[x]",
	}
	var b strings.Builder
	for _, t := range todos {
		mark, ok := marks[t.Status]
		if !ok {
			mark = "[ ]"
		}
		fmt.Fprintf(&b, "%s %s\n", mark, t.Content)
	}
	return b.String()
}

// toolSpecs renders the visible catalog for the provider request.
func (r *Runtime) toolSpecs(state *models.AgentState) []providers.ToolSpec {
	visible := r.Registry.VisibleFor(state)
	specs := make([]providers.ToolSpec, 0, len(visible))
	for _, t := range visible {
		specs = append(specs, providers.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	return specs
}
