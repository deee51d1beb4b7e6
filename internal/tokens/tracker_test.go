package tokens

import (
	"strings"
	"testing"

	"github.com/haasonsaas/loom/pkg/models"
)

func TestClassifyBoundaries(t *testing.T) {
	tr := NewTracker(128000, 0)
	tests := []struct {
		tokens int
		want   Level
	}{
		{0, LevelNormal},
		{95872, LevelNormal},   // 0.749
		{96000, LevelInfo},      // 0.75
		{108800, LevelWarning},  // 0.85
		{121600, LevelCritical}, // 0.95
		{128000, LevelCritical},
	}
	for _, tt := range tests {
		got, _ := tr.Classify(tt.tokens)
		if got != tt.want {
			t.Errorf("Classify(%d) = %s, want %s", tt.tokens, got, tt.want)
		}
	}
}

func TestCheckCriticalForcesSummarize(t *testing.T) {
	tr := NewTracker(128000, 0)
	state := models.NewAgentState("t1")
	state.CumulativePromptTokens = 123000 // ~0.96

	d := tr.Check(state)
	if d.Level != LevelCritical || !d.NeedsAction {
		t.Fatalf("expected critical needs-action decision, got %+v", d)
	}
	if d.Strategy != StrategySummarize {
		t.Errorf("critical pressure must recommend summarize, got %s", d.Strategy)
	}
}

func TestCheckEscalatesOnPoorRatio(t *testing.T) {
	tr := NewTracker(128000, 0)
	state := models.NewAgentState("t1")
	state.CumulativePromptTokens = 100000 // info
	state.LastCompressionRatio = 0.55

	if d := tr.Check(state); d.Strategy != StrategySummarize {
		t.Errorf("ratio above 0.4 should escalate to summarize, got %s", d.Strategy)
	}
}

func TestCheckEscalatesEveryNthCompaction(t *testing.T) {
	tr := NewTracker(128000, 3)
	state := models.NewAgentState("t1")
	state.CumulativePromptTokens = 100000

	state.CompactCount = 2
	if d := tr.Check(state); d.Strategy != StrategyCompact {
		t.Errorf("second compaction should stay compact, got %s", d.Strategy)
	}
	state.CompactCount = 3
	if d := tr.Check(state); d.Strategy != StrategySummarize {
		t.Errorf("third consecutive compaction should escalate, got %s", d.Strategy)
	}
}

func TestAdvisoryText(t *testing.T) {
	if Advisory(LevelNormal, 0.5) != "" {
		t.Error("normal level should have no advisory")
	}
	if msg := Advisory(LevelWarning, 0.86); !strings.Contains(msg, "86%") {
		t.Errorf("advisory missing usage percent: %q", msg)
	}
}

func TestEstimatorHeuristicFloor(t *testing.T) {
	e := NewEstimator("definitely-not-a-model")
	n := e.Text(strings.Repeat("word ", 100))
	if n <= 0 {
		t.Fatal("estimator returned non-positive count")
	}
	if e.Text("") != 0 {
		t.Error("empty string should cost zero tokens")
	}
}

func TestEstimatorMessagesIncludeToolPayloads(t *testing.T) {
	e := NewEstimator("definitely-not-a-model")
	plain := models.UserMessage("hello there")
	withResult := models.ToolResultMessage(models.ToolResult{
		ToolCallID: "c1", Name: "read_file", Content: strings.Repeat("x", 400),
	})
	if e.Message(withResult) <= e.Message(plain) {
		t.Error("tool result payload not counted")
	}
}
