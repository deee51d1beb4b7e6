package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/loom/internal/tools"
)

// AskHumanTool pauses the session to ask the user a question. The
// dispatcher intercepts this tool and raises an interrupt instead of
// calling Execute; the resume value becomes the tool result.
type AskHumanTool struct{}

func (t *AskHumanTool) Name() string { return AskHumanName }
func (t *AskHumanTool) Description() string {
	return "Ask the human operator a question and wait for their answer. Use when you need information or a decision only they can provide."
}

func (t *AskHumanTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"question": {"type": "string", "description": "The question to ask."},
			"context": {"type": "string", "description": "Why you are asking."},
			"default": {"type": "string", "description": "Suggested answer if the human has no preference."}
		},
		"required": ["question"]
	}`)
}

// Execute only runs if the dispatcher failed to interpose, which is a
// wiring bug worth surfacing loudly.
func (t *AskHumanTool) Execute(ctx context.Context, args json.RawMessage, sess *tools.Session) (*tools.Result, error) {
	return nil, fmt.Errorf("ask_human must be handled by the dispatcher interrupt path")
}

// AskHumanArgs decodes the tool's arguments for the dispatcher.
type AskHumanArgs struct {
	Question string `json:"question"`
	Context  string `json:"context"`
	Default  string `json:"default"`
}

// ParseAskHumanArgs decodes ask_human arguments.
func ParseAskHumanArgs(args json.RawMessage) (AskHumanArgs, error) {
	var a AskHumanArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return a, fmt.Errorf("bad ask_human arguments: %w", err)
	}
	if a.Question == "" {
		return a, fmt.Errorf("ask_human requires a question")
	}
	return a, nil
}

// DoneAndReportTool ends an orchestrated run with a final report. The
// dispatcher routes to END after its result is recorded.
type DoneAndReportTool struct{}

func (t *DoneAndReportTool) Name() string { return DoneAndReportName }
func (t *DoneAndReportTool) Description() string {
	return "Declare the task complete and deliver the final report. Call this exactly once, when all work is finished."
}

func (t *DoneAndReportTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"report": {"type": "string", "description": "The final report: what was done, what was produced, and where."}
		},
		"required": ["report"]
	}`)
}

func (t *DoneAndReportTool) Execute(ctx context.Context, args json.RawMessage, sess *tools.Session) (*tools.Result, error) {
	var a struct {
		Report string `json:"report"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("bad arguments: %w", err)
	}
	if a.Report == "" {
		return nil, fmt.Errorf("report is required")
	}
	return &tools.Result{Content: a.Report}, nil
}
