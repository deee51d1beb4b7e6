package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/haasonsaas/loom/internal/approval"
	"github.com/haasonsaas/loom/internal/compaction"
	"github.com/haasonsaas/loom/internal/graph"
	"github.com/haasonsaas/loom/internal/providers"
	"github.com/haasonsaas/loom/internal/sessions"
	"github.com/haasonsaas/loom/internal/skills"
	"github.com/haasonsaas/loom/internal/tokens"
	"github.com/haasonsaas/loom/internal/tools"
	"github.com/haasonsaas/loom/internal/tools/builtin"
	"github.com/haasonsaas/loom/internal/workspace"
	"github.com/haasonsaas/loom/pkg/models"
)

// scriptedProvider replays canned assistant turns in order. When the
// script runs out it answers with plain text so runs always terminate.
type scriptedProvider struct {
	mu    sync.Mutex
	turns []*providers.AssistantTurn
	reqs  []*providers.Request
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Invoke(ctx context.Context, req *providers.Request) (*providers.AssistantTurn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	if len(p.reqs) > len(p.turns) {
		return &providers.AssistantTurn{
			Content:      "ok",
			Usage:        providers.Usage{InputTokens: 10, OutputTokens: 5},
			FinishReason: providers.FinishStop,
		}, nil
	}
	return p.turns[len(p.reqs)-1], nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reqs)
}

// echoTool returns its text argument and counts executions.
type echoTool struct {
	mu    sync.Mutex
	execs int
}

func (e *echoTool) Name() string        { return "echo" }
func (e *echoTool) Description() string { return "Echo the text argument." }
func (e *echoTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`)
}

func (e *echoTool) Execute(ctx context.Context, args json.RawMessage, sess *tools.Session) (*tools.Result, error) {
	e.mu.Lock()
	e.execs++
	e.mu.Unlock()
	var a struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	return &tools.Result{Content: a.Text}, nil
}

func (e *echoTool) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.execs
}

func toolTurn(calls ...models.ToolCall) *providers.AssistantTurn {
	return &providers.AssistantTurn{
		ToolCalls:    calls,
		Usage:        providers.Usage{InputTokens: 10, OutputTokens: 5},
		FinishReason: providers.FinishToolCalls,
	}
}

func textTurn(content string) *providers.AssistantTurn {
	return &providers.AssistantTurn{
		Content:      content,
		Usage:        providers.Usage{InputTokens: 10, OutputTokens: 5},
		FinishReason: providers.FinishStop,
	}
}

func call(id, name, args string) models.ToolCall {
	return models.ToolCall{ID: id, Name: name, Args: json.RawMessage(args)}
}

func testRuntime(t *testing.T, p providers.Provider, rules approval.Rules, echo *echoTool) *Runtime {
	t.Helper()
	reg := tools.NewRegistry()
	if err := builtin.RegisterAll(reg); err != nil {
		t.Fatal(err)
	}
	for _, name := range reg.Names() {
		if err := reg.RegisterEnabled(name); err != nil {
			t.Fatal(err)
		}
	}
	if echo != nil {
		reg.Register(echo, tools.DefaultMetadata())
		if err := reg.RegisterEnabled("echo"); err != nil {
			t.Fatal(err)
		}
	}
	engine, err := approval.NewEngine(rules)
	if err != nil {
		t.Fatal(err)
	}
	return &Runtime{
		Provider:   p,
		Model:      "test-model",
		Registry:   reg,
		Approvals:  engine,
		Tracker:    tokens.NewTracker(100000, 0),
		Compressor: compaction.New(p, tokens.NewEstimator("test-model"), compaction.Config{Model: "test-model", ContextWindow: 100000}, nil),
	}
}

func newState(threadID string) *models.AgentState {
	state := models.NewAgentState(threadID)
	state.Messages = append(state.Messages, models.UserMessage("do the thing"))
	return state
}

func TestPlainReplyEndsTurn(t *testing.T) {
	p := &scriptedProvider{turns: []*providers.AssistantTurn{textTurn("hello")}}
	rt := testRuntime(t, p, approval.Rules{}, nil)
	state := newState("t1")

	ch, err := rt.Graph(nil).Run(context.Background(), state)
	if err != nil {
		t.Fatal(err)
	}
	last := graph.Drain(ch)
	if last.Err != nil || last.Interrupt != nil {
		t.Fatalf("unexpected terminal snapshot: %+v", last)
	}
	if msg := models.LastMessage(state.Messages); msg == nil || msg.Content != "hello" {
		t.Fatalf("last message = %+v", msg)
	}
	if state.Loops != 1 || state.CumulativePromptTokens != 10 || state.CumulativeCompletionTokens != 5 {
		t.Errorf("accounting: loops=%d prompt=%d completion=%d", state.Loops, state.CumulativePromptTokens, state.CumulativeCompletionTokens)
	}
}

func TestToolCallRoundTrip(t *testing.T) {
	echo := &echoTool{}
	p := &scriptedProvider{turns: []*providers.AssistantTurn{
		toolTurn(call("c1", "echo", `{"text":"hi there"}`)),
		textTurn("done"),
	}}
	rt := testRuntime(t, p, approval.Rules{}, echo)
	state := newState("t1")

	ch, _ := rt.Graph(nil).Run(context.Background(), state)
	last := graph.Drain(ch)
	if last.Err != nil {
		t.Fatal(last.Err)
	}
	if echo.count() != 1 {
		t.Errorf("echo executed %d times", echo.count())
	}

	// user, assistant+call, tool result, assistant reply
	if len(state.Messages) != 4 {
		t.Fatalf("message count = %d", len(state.Messages))
	}
	tr := state.Messages[2]
	if tr.Role != models.RoleTool || tr.ToolResults[0].Content != "hi there" || tr.ToolResults[0].ToolCallID != "c1" {
		t.Fatalf("tool result = %+v", tr)
	}
	// The second planner call must see the tool result.
	if len(p.reqs) != 2 || len(p.reqs[1].Messages) != 3 {
		t.Errorf("second request saw %d messages", len(p.reqs[1].Messages))
	}
}

func TestApprovalInterrupt(t *testing.T) {
	rules := approval.Rules{Global: []approval.Rule{{
		RiskLevel: approval.RiskCritical,
		Patterns:  []string{`deploy`},
		Reason:    "deployments need sign-off",
	}}}

	t.Run("approve", func(t *testing.T) {
		echo := &echoTool{}
		p := &scriptedProvider{turns: []*providers.AssistantTurn{
			toolTurn(call("c1", "echo", `{"text":"deploy to prod"}`)),
			textTurn("shipped"),
		}}
		rt := testRuntime(t, p, rules, echo)
		state := newState("t1")

		ch, _ := rt.Graph(nil).Run(context.Background(), state)
		last := graph.Drain(ch)
		if last.Interrupt == nil || last.Interrupt.Type != graph.InterruptToolApproval {
			t.Fatalf("expected tool_approval interrupt, got %+v", last)
		}
		if last.Interrupt.Tool != "echo" || last.Interrupt.RiskLevel != approval.RiskCritical {
			t.Errorf("interrupt payload = %+v", last.Interrupt)
		}
		if echo.count() != 0 {
			t.Fatal("tool ran before approval")
		}

		ch, err := rt.Graph(nil).Resume(context.Background(), state, graph.ResumeApprove)
		if err != nil {
			t.Fatal(err)
		}
		if last = graph.Drain(ch); last.Err != nil || last.Interrupt != nil {
			t.Fatalf("resume did not finish: %+v", last)
		}
		if echo.count() != 1 {
			t.Errorf("echo executed %d times after approval", echo.count())
		}
	})

	t.Run("reject", func(t *testing.T) {
		echo := &echoTool{}
		p := &scriptedProvider{turns: []*providers.AssistantTurn{
			toolTurn(call("c1", "echo", `{"text":"deploy to prod"}`)),
			textTurn("understood"),
		}}
		rt := testRuntime(t, p, rules, echo)
		state := newState("t1")

		ch, _ := rt.Graph(nil).Run(context.Background(), state)
		graph.Drain(ch)

		ch, err := rt.Graph(nil).Resume(context.Background(), state, graph.ResumeReject)
		if err != nil {
			t.Fatal(err)
		}
		if last := graph.Drain(ch); last.Err != nil {
			t.Fatal(last.Err)
		}
		if echo.count() != 0 {
			t.Fatal("rejected tool still executed")
		}
		tr := state.Messages[2].ToolResults[0]
		if !tr.IsError || tr.Content != "❌ 操作已取消: deployments need sign-off" {
			t.Errorf("rejection result = %+v", tr)
		}
	})
}

func TestRejectedShellCommandCarriesRuleReason(t *testing.T) {
	p := &scriptedProvider{turns: []*providers.AssistantTurn{
		toolTurn(call("c1", "run_shell", `{"command":"rm -rf /tmp/old"}`)),
		textTurn("understood, leaving it alone"),
	}}
	rt := testRuntime(t, p, approval.Rules{}, nil)
	state := newState("t1")

	ch, _ := rt.Graph(nil).Run(context.Background(), state)
	last := graph.Drain(ch)
	if last.Interrupt == nil || last.Interrupt.Type != graph.InterruptToolApproval {
		t.Fatalf("expected tool_approval interrupt, got %+v", last)
	}
	if last.Interrupt.RiskLevel != approval.RiskHigh || last.Interrupt.Reason != "detected high-risk rm -rf" {
		t.Errorf("interrupt payload = %+v", last.Interrupt)
	}

	ch, err := rt.Graph(nil).Resume(context.Background(), state, graph.ResumeReject)
	if err != nil {
		t.Fatal(err)
	}
	if last = graph.Drain(ch); last.Err != nil {
		t.Fatal(last.Err)
	}
	tr := state.Messages[2].ToolResults[0]
	if !tr.IsError || tr.Content != "❌ 操作已取消: detected high-risk rm -rf" {
		t.Errorf("rejection result = %+v", tr)
	}
}

func TestAskHumanInterruptAndAnswer(t *testing.T) {
	p := &scriptedProvider{turns: []*providers.AssistantTurn{
		toolTurn(call("c1", builtin.AskHumanName, `{"question":"Which environment?","default":"staging"}`)),
		textTurn("deploying to staging"),
	}}
	rt := testRuntime(t, p, approval.Rules{}, nil)
	state := newState("t1")

	ch, _ := rt.Graph(nil).Run(context.Background(), state)
	last := graph.Drain(ch)
	if last.Interrupt == nil || last.Interrupt.Type != graph.InterruptUserInputRequest {
		t.Fatalf("expected user_input_request, got %+v", last)
	}
	if last.Interrupt.Question != "Which environment?" || last.Interrupt.Default != "staging" {
		t.Errorf("interrupt payload = %+v", last.Interrupt)
	}

	ch, err := rt.Graph(nil).Resume(context.Background(), state, "staging")
	if err != nil {
		t.Fatal(err)
	}
	if last = graph.Drain(ch); last.Err != nil {
		t.Fatal(last.Err)
	}
	tr := state.Messages[2].ToolResults[0]
	if tr.IsError || tr.Content != "staging" {
		t.Errorf("answer result = %+v", tr)
	}
}

func TestSkipAnsweredCallsOnResume(t *testing.T) {
	rules := approval.Rules{Global: []approval.Rule{{
		RiskLevel: approval.RiskHigh,
		Patterns:  []string{`deploy`},
	}}}
	echo := &echoTool{}
	p := &scriptedProvider{turns: []*providers.AssistantTurn{
		toolTurn(
			call("c1", "echo", `{"text":"harmless"}`),
			call("c2", "echo", `{"text":"deploy now"}`),
		),
		textTurn("done"),
	}}
	rt := testRuntime(t, p, rules, echo)
	state := newState("t1")

	ch, _ := rt.Graph(nil).Run(context.Background(), state)
	last := graph.Drain(ch)
	if last.Interrupt == nil {
		t.Fatal("expected an interrupt on the second call")
	}
	if echo.count() != 1 {
		t.Fatalf("first call should have executed before the interrupt, execs=%d", echo.count())
	}

	ch, err := rt.Graph(nil).Resume(context.Background(), state, graph.ResumeApprove)
	if err != nil {
		t.Fatal(err)
	}
	if last = graph.Drain(ch); last.Err != nil {
		t.Fatal(last.Err)
	}
	// c1 must not re-execute on re-entry.
	if echo.count() != 2 {
		t.Errorf("echo executed %d times total", echo.count())
	}
}

func TestDoneAndReportEndsRun(t *testing.T) {
	p := &scriptedProvider{turns: []*providers.AssistantTurn{
		toolTurn(call("c1", builtin.DoneAndReportName, `{"report":"all tasks complete"}`)),
	}}
	rt := testRuntime(t, p, approval.Rules{}, nil)
	state := newState("t1")

	ch, _ := rt.Graph(nil).Run(context.Background(), state)
	if last := graph.Drain(ch); last.Err != nil || last.Interrupt != nil {
		t.Fatalf("terminal snapshot: %+v", last)
	}
	if p.callCount() != 1 {
		t.Errorf("planner called %d times after the final report", p.callCount())
	}
	tr := state.Messages[len(state.Messages)-1].ToolResults[0]
	if tr.Name != builtin.DoneAndReportName || tr.Content != "all tasks complete" {
		t.Errorf("final result = %+v", tr)
	}
}

func TestLoopCeilingStopsRun(t *testing.T) {
	echo := &echoTool{}
	endless := toolTurn(call("c1", "echo", `{"text":"again"}`))
	p := &scriptedProvider{turns: []*providers.AssistantTurn{
		endless,
		toolTurn(call("c2", "echo", `{"text":"again"}`)),
		toolTurn(call("c3", "echo", `{"text":"again"}`)),
	}}
	rt := testRuntime(t, p, approval.Rules{}, echo)
	state := newState("t1")
	state.MaxLoops = 2

	ch, _ := rt.Graph(nil).Run(context.Background(), state)
	if last := graph.Drain(ch); last.Err != nil {
		t.Fatal(last.Err)
	}
	if state.Loops != 2 || p.callCount() != 2 {
		t.Errorf("loops=%d provider calls=%d", state.Loops, p.callCount())
	}
	// The turn ends with a synthetic assistant message, not silence.
	msg := models.LastMessage(state.Messages)
	if msg == nil || msg.Role != models.RoleAssistant || msg.Content != graph.BudgetExhaustedMessage {
		t.Errorf("last message = %+v", msg)
	}
}

func TestMalformedToolCallArgsBecomeErrorResult(t *testing.T) {
	echo := &echoTool{}
	p := &scriptedProvider{turns: []*providers.AssistantTurn{
		{
			ToolCalls:    []models.ToolCall{call("c1", "echo", `{"text":`)},
			Usage:        providers.Usage{InputTokens: 10, OutputTokens: 5},
			FinishReason: providers.FinishLength,
		},
		textTurn("let me retry that"),
	}}
	rt := testRuntime(t, p, approval.Rules{}, echo)
	state := newState("t1")

	ch, _ := rt.Graph(nil).Run(context.Background(), state)
	if last := graph.Drain(ch); last.Err != nil {
		t.Fatal(last.Err)
	}
	if echo.count() != 0 {
		t.Errorf("malformed call executed %d times", echo.count())
	}
	tr := state.Messages[2].ToolResults[0]
	if !tr.IsError || tr.ToolCallID != "c1" || !strings.Contains(tr.Content, "not valid JSON") {
		t.Errorf("result = %+v", tr)
	}
	// The planner runs again and can recover.
	if p.callCount() != 2 {
		t.Errorf("planner called %d times", p.callCount())
	}
	if msg := models.LastMessage(state.Messages); msg == nil || msg.Content != "let me retry that" {
		t.Errorf("last message = %+v", msg)
	}
}

func TestUnknownToolBecomesErrorResult(t *testing.T) {
	p := &scriptedProvider{turns: []*providers.AssistantTurn{
		toolTurn(call("c1", "nonexistent", `{}`)),
		textTurn("adjusting"),
	}}
	rt := testRuntime(t, p, approval.Rules{}, nil)
	state := newState("t1")

	ch, _ := rt.Graph(nil).Run(context.Background(), state)
	if last := graph.Drain(ch); last.Err != nil {
		t.Fatal(last.Err)
	}
	tr := state.Messages[2].ToolResults[0]
	if !tr.IsError || !strings.Contains(tr.Content, "unknown tool") {
		t.Errorf("result = %+v", tr)
	}
}

func TestCriticalPressureTriggersCompression(t *testing.T) {
	echo := &echoTool{}
	planner := &scriptedProvider{turns: []*providers.AssistantTurn{
		{
			ToolCalls:    []models.ToolCall{call("c1", "echo", `{"text":"work"}`)},
			Usage:        providers.Usage{InputTokens: 200, OutputTokens: 5},
			FinishReason: providers.FinishToolCalls,
		},
		textTurn("finishing up"),
	}}
	rt := testRuntime(t, planner, approval.Rules{}, echo)
	rt.Tracker = tokens.NewTracker(100, 0) // 200 prompt tokens is far past critical
	summarizer := &scriptedProvider{}
	rt.Compressor = compaction.New(summarizer, tokens.NewEstimator("test-model"), compaction.Config{Model: "test-model", ContextWindow: 100}, nil)
	state := newState("t1")

	ch, _ := rt.Graph(nil).Run(context.Background(), state)
	if last := graph.Drain(ch); last.Err != nil {
		t.Fatal(last.Err)
	}
	if state.NeedsCompression {
		t.Error("compression flag still set after compressing")
	}
	if !state.AutoCompressedThisRequest {
		t.Error("anti-loop flag not set")
	}
	if state.CompactCount != 1 {
		t.Errorf("compact count = %d", state.CompactCount)
	}
	// Compression resets the counters, then the planner runs once more
	// and produces the answer. Its own usage stays critical against the
	// tiny window, but the anti-loop flag stops a second compaction.
	if msg := models.LastMessage(state.Messages); msg == nil || msg.Content != "finishing up" {
		t.Errorf("last message = %+v", msg)
	}
	if state.CumulativePromptTokens != 10 || state.CumulativeCompletionTokens != 5 {
		t.Errorf("counters after reset: prompt=%d completion=%d",
			state.CumulativePromptTokens, state.CumulativeCompletionTokens)
	}
}

func TestSessionManagerRunAndPersist(t *testing.T) {
	p := &scriptedProvider{turns: []*providers.AssistantTurn{textTurn("hello back")}}
	echo := &echoTool{}
	rt := testRuntime(t, p, approval.Rules{}, echo)
	store := sessions.NewMemoryStore()
	mgr := &SessionManager{
		Runtime:    rt,
		Store:      store,
		Workspaces: workspace.NewManager(t.TempDir(), nil),
		Skills:     skills.Discover(nil, nil),
		MaxLoops:   20,
	}

	ch, state, err := mgr.Run(context.Background(), "thread-1", "hi there")
	if err != nil {
		t.Fatal(err)
	}
	if last := graph.Drain(ch); last.Err != nil {
		t.Fatal(last.Err)
	}

	if state.WorkspacePath == "" {
		t.Error("workspace not provisioned")
	}
	saved, err := store.Load(context.Background(), "thread-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(saved.Messages) != 2 {
		t.Fatalf("persisted %d messages", len(saved.Messages))
	}

	// Second turn reuses the session and appends history.
	p.mu.Lock()
	p.turns = append(p.turns, textTurn("again"))
	p.mu.Unlock()
	ch, state, err = mgr.Run(context.Background(), "thread-1", "one more")
	if err != nil {
		t.Fatal(err)
	}
	graph.Drain(ch)
	if len(state.Messages) != 4 {
		t.Errorf("second turn message count = %d", len(state.Messages))
	}
}

func TestSessionManagerAutoLoadsSkillsOnUpload(t *testing.T) {
	skillRoot := t.TempDir()
	dir := filepath.Join(skillRoot, "pdf-builder")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "skill.yaml"), []byte("id: pdf-builder\ndescription: Builds PDFs\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := &scriptedProvider{turns: []*providers.AssistantTurn{textTurn("reading the upload")}}
	rt := testRuntime(t, p, approval.Rules{}, nil)
	ws := workspace.NewManager(t.TempDir(), nil)
	if _, err := ws.Ensure("t1"); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws.UploadsPath("t1"), "report.pdf"), []byte("%PDF"), 0o644); err != nil {
		t.Fatal(err)
	}

	mgr := &SessionManager{
		Runtime:        rt,
		Store:          sessions.NewMemoryStore(),
		Workspaces:     ws,
		Skills:         skills.Discover([]string{skillRoot}, nil),
		AutoLoadSkills: true,
		SkillFileTypes: map[string][]string{"pdf-builder": {"pdf"}},
	}

	ch, state, err := mgr.Run(context.Background(), "t1", "summarize #report.pdf")
	if err != nil {
		t.Fatal(err)
	}
	graph.Drain(ch)

	found := false
	for _, id := range state.ActiveSkills {
		if id == "pdf-builder" {
			found = true
		}
	}
	if !found {
		t.Fatalf("skill not auto-loaded: %v", state.ActiveSkills)
	}
	// The stored user message carries the cleaned text.
	if state.Messages[0].Content != "summarize report.pdf" {
		t.Errorf("user message = %q", state.Messages[0].Content)
	}
}

func TestSessionManagerPromotesMentionedTools(t *testing.T) {
	p := &scriptedProvider{turns: []*providers.AssistantTurn{textTurn("noted")}}
	rt := testRuntime(t, p, approval.Rules{}, nil)

	lazy := &echoTool{}
	rt.Registry.Register(lazy, tools.DefaultMetadata()) // discovered, not enabled

	mgr := &SessionManager{
		Runtime:    rt,
		Store:      sessions.NewMemoryStore(),
		Workspaces: workspace.NewManager(t.TempDir(), nil),
		Skills:     skills.Discover(nil, nil),
	}

	ch, state, err := mgr.Run(context.Background(), "t1", "please use @echo for this")
	if err != nil {
		t.Fatal(err)
	}
	graph.Drain(ch)

	found := false
	for _, name := range state.SessionTools {
		if name == "echo" {
			found = true
		}
	}
	if !found {
		t.Fatalf("mentioned tool not promoted: %v", state.SessionTools)
	}
	if _, ok := rt.Registry.Get("echo"); !ok {
		t.Error("echo not enabled in the registry")
	}
}
