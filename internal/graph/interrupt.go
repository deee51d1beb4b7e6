package graph

import "encoding/json"

// Interrupt payload types, matched by the hosting UI.
const (
	InterruptToolApproval     = "tool_approval"
	InterruptUserInputRequest = "user_input_request"
)

// Resume sentinels for tool approval interrupts. Any value other than
// ResumeApprove is treated as a rejection.
const (
	ResumeApprove = "approve"
	ResumeReject  = "reject"
)

// Interrupt is the structured suspension payload yielded to the host.
type Interrupt struct {
	Type string `json:"type"`

	// Tool approval fields.
	Tool      string          `json:"tool,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	RiskLevel string          `json:"risk_level,omitempty"`

	// User input request fields.
	Question string `json:"question,omitempty"`
	Context  string `json:"context,omitempty"`
	Default  string `json:"default,omitempty"`
	Required bool   `json:"required,omitempty"`
}

// ToolApproval builds a tool_approval interrupt.
func ToolApproval(tool string, args json.RawMessage, reason, riskLevel string) *Interrupt {
	return &Interrupt{
		Type:      InterruptToolApproval,
		Tool:      tool,
		Args:      args,
		Reason:    reason,
		RiskLevel: riskLevel,
	}
}

// UserInputRequest builds a user_input_request interrupt.
func UserInputRequest(question, context, def string, required bool) *Interrupt {
	return &Interrupt{
		Type:     InterruptUserInputRequest,
		Question: question,
		Context:  context,
		Default:  def,
		Required: required,
	}
}

// Approved reports whether a resume value approves a pending tool call.
func Approved(value any) bool {
	s, ok := value.(string)
	return ok && s == ResumeApprove
}
