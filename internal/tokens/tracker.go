// Package tokens implements context-window accounting: cumulative usage
// classification against per-model thresholds, and the compression
// strategy recommendation the planner and compressor act on.
package tokens

import (
	"fmt"

	"github.com/haasonsaas/loom/pkg/models"
)

// Level classifies context-window pressure.
type Level string

const (
	LevelNormal   Level = "normal"
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Strategy selects how the compressor partitions history.
type Strategy string

const (
	// StrategyCompact summarizes old and middle partitions separately,
	// preserving tool calls, file paths, and error recoveries.
	StrategyCompact Strategy = "compact"
	// StrategySummarize collapses everything before the recent window into
	// one short digest.
	StrategySummarize Strategy = "summarize"
)

// Threshold ratios over the model context window.
const (
	InfoThreshold     = 0.75
	WarningThreshold  = 0.85
	CriticalThreshold = 0.95
)

// Cycling rules: diminishing-returns guards that escalate compact to
// summarize.
const (
	// RatioEscalation escalates when the previous compression shrank the
	// history by less than this output/input ratio.
	RatioEscalation = 0.4
	// DefaultSummarizeCycle escalates every Nth consecutive compaction.
	DefaultSummarizeCycle = 3
)

// Decision is the tracker's verdict after a model call.
type Decision struct {
	Level       Level
	Ratio       float64
	Strategy    Strategy
	NeedsAction bool // critical: set needs_compression
}

// Tracker classifies cumulative prompt usage for one model.
type Tracker struct {
	contextWindow  int
	summarizeCycle int
}

// NewTracker creates a tracker for a model context window. summarizeCycle
// of 0 uses the default.
func NewTracker(contextWindow, summarizeCycle int) *Tracker {
	if summarizeCycle <= 0 {
		summarizeCycle = DefaultSummarizeCycle
	}
	return &Tracker{contextWindow: contextWindow, summarizeCycle: summarizeCycle}
}

// ContextWindow returns the configured window size in tokens.
func (t *Tracker) ContextWindow() int { return t.contextWindow }

// Classify maps a cumulative prompt-token count to a pressure level.
func (t *Tracker) Classify(promptTokens int) (Level, float64) {
	if t.contextWindow <= 0 {
		return LevelNormal, 0
	}
	r := float64(promptTokens) / float64(t.contextWindow)
	switch {
	case r >= CriticalThreshold:
		return LevelCritical, r
	case r >= WarningThreshold:
		return LevelWarning, r
	case r >= InfoThreshold:
		return LevelInfo, r
	default:
		return LevelNormal, r
	}
}

// Check classifies the state's cumulative usage and recommends a strategy.
// At critical pressure the strategy is always summarize; below critical it
// is compact unless the cycling rules fire.
func (t *Tracker) Check(state *models.AgentState) Decision {
	level, ratio := t.Classify(state.CumulativePromptTokens)
	d := Decision{Level: level, Ratio: ratio, Strategy: StrategyCompact}
	if level == LevelCritical {
		d.Strategy = StrategySummarize
		d.NeedsAction = true
		return d
	}
	if t.shouldEscalate(state) {
		d.Strategy = StrategySummarize
	}
	return d
}

// shouldEscalate applies the diminishing-returns rules: a poor previous
// compression ratio, or too many consecutive compactions, flips the
// recommendation from compact to summarize.
func (t *Tracker) shouldEscalate(state *models.AgentState) bool {
	if state.LastCompressionRatio > RatioEscalation {
		return true
	}
	return state.CompactCount > 0 && state.CompactCount%t.summarizeCycle == 0
}

// Advisory returns the one-shot system-reminder text for a pressure level,
// or "" when none is warranted.
func Advisory(level Level, ratio float64) string {
	pct := int(ratio * 100)
	switch level {
	case LevelInfo:
		return fmt.Sprintf("Context usage at %d%%. Prefer concise tool output and wrap up open threads when convenient.", pct)
	case LevelWarning:
		return fmt.Sprintf("Context usage at %d%%. Finish in-flight work and avoid reading large files; older history may be compacted soon.", pct)
	case LevelCritical:
		return fmt.Sprintf("Context usage at %d%%. History will be compressed before the next step.", pct)
	default:
		return ""
	}
}
