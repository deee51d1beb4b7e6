// Package tools defines the tool abstraction and the registry's
// three-pool lifecycle: discovered tools found by scan, enabled tools
// exposed to the model, and per-tool metadata (risk, tags, subagent
// availability).
package tools

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/loom/pkg/models"
)

// Tool is one callable capability exposed to the model.
type Tool interface {
	// Name returns the tool name for function calling.
	// Must be a valid function name (alphanumeric, underscores).
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// Schema returns the JSON Schema for the tool's arguments.
	Schema() json.RawMessage

	// Execute runs the tool. Args have already been validated against
	// Schema. Failures are returned as errors and become error
	// ToolResults; they never abort the session.
	Execute(ctx context.Context, args json.RawMessage, sess *Session) (*Result, error)
}

// Session is the per-session context handed to executing tools.
type Session struct {
	// State is the live agent state. Tools treat it as read-only and
	// communicate changes through Result.Update.
	State *models.AgentState

	// WorkspacePath is the session sandbox root. File tools resolve
	// relative paths against it.
	WorkspacePath string
}

// Result is a successful tool execution outcome.
type Result struct {
	// Content is the text returned to the model.
	Content string

	// Update optionally mutates agent state (todo_write, skill
	// activation). Applied by the dispatcher after the result message.
	Update *models.StateUpdate
}

// Metadata classifies a tool for approval and visibility decisions.
type Metadata struct {
	Risk                string   `yaml:"risk" json:"risk"`
	Category            string   `yaml:"category" json:"category,omitempty"`
	Tags                []string `yaml:"tags" json:"tags"`
	AvailableToSubagent bool     `yaml:"available_to_subagent" json:"available_to_subagent"`
}

// DefaultMetadata is assumed for tools registered without explicit
// metadata: undeclared risk, usable by subagents.
func DefaultMetadata() Metadata {
	return Metadata{Risk: "unknown", AvailableToSubagent: true}
}
