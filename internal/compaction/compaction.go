// Package compaction shrinks conversation history when the token tracker
// reports pressure. It partitions the transcript, summarizes the older
// partitions through a model provider, and falls back to plain truncation
// when the summarizer fails. Compression is never fatal.
package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/loom/internal/providers"
	"github.com/haasonsaas/loom/internal/tokens"
	"github.com/haasonsaas/loom/pkg/models"
)

const (
	// RecentWindowRatio is the share of the context window the recent
	// partition may occupy.
	RecentWindowRatio = 0.15

	// MiddleWindowRatio is the share allotted to the middle partition
	// under the compact strategy.
	MiddleWindowRatio = 0.30

	// DefaultMaxSummaryTokens caps the summarizer's completion to prevent
	// runaway summaries.
	DefaultMaxSummaryTokens = 1440

	// DefaultMaxHistoryMessages bounds the truncation fallback.
	DefaultMaxHistoryMessages = 100

	// DefaultRecentCount is the minimum number of messages kept verbatim.
	DefaultRecentCount = 10
)

// compactInstruction asks for a lossy but structured digest. It keeps the
// artifacts later loops depend on.
const compactInstruction = `Summarize this conversation segment for an AI agent that will continue the work.
Preserve exactly: tool calls made and their outcomes, file paths created or modified, errors encountered and how they were recovered, and the current TODO state.
Write terse bullet points. Do not editorialize.`

// summarizeInstruction asks for an aggressive digest used under critical
// pressure.
const summarizeInstruction = `Condense this conversation segment into a very short digest (aim for roughly 200 characters).
Keep only what was done and where the artifacts are. Drop everything else.`

// summaryPrefix marks synthetic history messages so later compressions and
// readers can recognize them.
const summaryPrefix = "[History summary] "

// Config tunes the compressor.
type Config struct {
	Model              string
	ContextWindow      int
	RecentCount        int
	MaxSummaryTokens   int
	MaxHistoryMessages int
}

func (c Config) sanitize() Config {
	if c.RecentCount <= 0 {
		c.RecentCount = DefaultRecentCount
	}
	if c.MaxSummaryTokens <= 0 {
		c.MaxSummaryTokens = DefaultMaxSummaryTokens
	}
	if c.MaxHistoryMessages <= 0 {
		c.MaxHistoryMessages = DefaultMaxHistoryMessages
	}
	return c
}

// Compressor rewrites transcripts through a summarizer model.
type Compressor struct {
	provider  providers.Provider
	estimator *tokens.Estimator
	cfg       Config
	logger    *slog.Logger
}

// New creates a compressor bound to the summarizer provider (the base
// model slot).
func New(provider providers.Provider, estimator *tokens.Estimator, cfg Config, logger *slog.Logger) *Compressor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compressor{provider: provider, estimator: estimator, cfg: cfg.sanitize(), logger: logger}
}

// partition is the sliced transcript: system messages are always kept,
// recent stays verbatim, old and middle get summarized.
type partition struct {
	system []models.Message
	old    []models.Message
	middle []models.Message
	recent []models.Message
}

// Compress rewrites the state's history per the strategy and returns the
// update to apply. Summarizer failures degrade to truncation; the returned
// update always resets token counters and sets the anti-loop flag.
func (c *Compressor) Compress(ctx context.Context, state *models.AgentState, strategy tokens.Strategy) *models.StateUpdate {
	p := c.split(state.Messages, strategy)
	if len(p.old) == 0 && len(p.middle) == 0 {
		// Nothing summarizable; truncation is the only lever left.
		c.logger.Warn("compression requested with no summarizable history",
			"thread_id", state.ThreadID, "messages", len(state.Messages))
		return c.truncate(state)
	}

	inputBytes := transcriptBytes(p.old) + transcriptBytes(p.middle)

	instruction := compactInstruction
	if strategy == tokens.StrategySummarize {
		instruction = summarizeInstruction
	}

	var summaries []models.Message
	for _, part := range [][]models.Message{p.old, p.middle} {
		if len(part) == 0 {
			continue
		}
		text, err := c.summarize(ctx, part, instruction)
		if err != nil {
			c.logger.Warn("summarizer call failed, falling back to truncation",
				"thread_id", state.ThreadID, "error", err)
			return c.truncate(state)
		}
		summaries = append(summaries, models.UserMessage(summaryPrefix+text))
	}

	rebuilt := make([]models.Message, 0, len(p.system)+len(summaries)+len(p.recent))
	rebuilt = append(rebuilt, p.system...)
	rebuilt = append(rebuilt, summaries...)
	rebuilt = append(rebuilt, p.recent...)
	rebuilt = models.RepairTranscript(rebuilt)

	ratio := 0.0
	if inputBytes > 0 {
		ratio = float64(transcriptBytes(summaries)) / float64(inputBytes)
	}
	c.logger.Info("history compressed",
		"thread_id", state.ThreadID,
		"strategy", string(strategy),
		"before", len(state.Messages),
		"after", len(rebuilt),
		"ratio", ratio)

	return &models.StateUpdate{
		ReplaceMessages:           rebuilt,
		ResetTokenCounters:        true,
		AutoCompressedThisRequest: models.Bool(true),
		NeedsCompression:          models.Bool(false),
		CompactCountDelta:         1,
		LastCompressionRatio:      models.Float(ratio),
	}
}

// split partitions messages for the given strategy. The recent window is
// grown minimally so it never opens with orphan tool results.
func (c *Compressor) split(msgs []models.Message, strategy tokens.Strategy) partition {
	var p partition
	var rest []models.Message
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			p.system = append(p.system, m)
		} else {
			rest = append(rest, m)
		}
	}

	recentStart := c.budgetStart(rest, len(rest), c.cfg.RecentCount, RecentWindowRatio)
	p.recent = rest[recentStart:]

	if strategy == tokens.StrategySummarize {
		p.old = rest[:recentStart]
		return p
	}

	middleStart := c.budgetStart(rest, recentStart, 0, MiddleWindowRatio)
	p.middle = rest[middleStart:recentStart]
	p.old = rest[:middleStart]
	return p
}

// budgetStart returns the start index of a tail window over rest[:end]
// holding at least minCount messages plus as many more as fit in
// windowRatio of the context window, then extends it backwards past any
// leading tool-result messages to keep call/result pairs together.
func (c *Compressor) budgetStart(rest []models.Message, end, minCount int, windowRatio float64) int {
	budget := int(float64(c.cfg.ContextWindow) * windowRatio)
	used := 0
	start := end
	for start > 0 {
		cost := c.estimator.Message(rest[start-1])
		if used+cost > budget && end-start >= minCount {
			break
		}
		used += cost
		start--
	}
	for start > 0 && rest[start].Role == models.RoleTool {
		start--
	}
	return start
}

// summarize renders one partition as a plain transcript and asks the
// provider for a bounded summary.
func (c *Compressor) summarize(ctx context.Context, part []models.Message, instruction string) (string, error) {
	turn, err := c.provider.Invoke(ctx, &providers.Request{
		Model:               c.cfg.Model,
		System:              instruction,
		Messages:            []models.Message{models.UserMessage(renderTranscript(part))},
		MaxCompletionTokens: c.cfg.MaxSummaryTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summarize %d messages: %w", len(part), err)
	}
	if turn.Content == "" {
		return "", fmt.Errorf("summarizer returned empty content")
	}
	return turn.Content, nil
}

// truncate is the degraded path: keep system messages plus the last
// MaxHistoryMessages non-system messages, repaired for pairing.
func (c *Compressor) truncate(state *models.AgentState) *models.StateUpdate {
	var system, rest []models.Message
	for _, m := range state.Messages {
		if m.Role == models.RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}
	if len(rest) > c.cfg.MaxHistoryMessages {
		rest = rest[len(rest)-c.cfg.MaxHistoryMessages:]
	}
	rebuilt := models.RepairTranscript(append(append([]models.Message{}, system...), rest...))

	c.logger.Info("history truncated",
		"thread_id", state.ThreadID,
		"before", len(state.Messages),
		"after", len(rebuilt))

	return &models.StateUpdate{
		ReplaceMessages:           rebuilt,
		ResetTokenCounters:        true,
		AutoCompressedThisRequest: models.Bool(true),
		NeedsCompression:          models.Bool(false),
		CompactCountDelta:         1,
		LastCompressionRatio:      models.Float(0),
	}
}

// renderTranscript flattens messages into the text form fed to the
// summarizer.
func renderTranscript(msgs []models.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(&b, "  -> called %s(%s)\n", tc.Name, string(tc.Args))
		}
		for _, tr := range m.ToolResults {
			status := "ok"
			if tr.IsError {
				status = "error"
			}
			fmt.Fprintf(&b, "  <- %s (%s): %s\n", tr.Name, status, tr.Content)
		}
	}
	return b.String()
}

func transcriptBytes(msgs []models.Message) int {
	total := 0
	for _, m := range msgs {
		total += len(m.Content)
		for _, tc := range m.ToolCalls {
			total += len(tc.Name) + len(tc.Args)
		}
		for _, tr := range m.ToolResults {
			total += len(tr.Content)
		}
	}
	return total
}
