// Package models defines the shared data types of the agent runtime:
// messages, tool calls, todos, and the per-session agent state that the
// graph runtime threads through its nodes.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single turn in a conversation. Exactly one of the role
// variants applies:
//
//   - system: static instructions, never compressed away
//   - user: free-form content, possibly with attachments
//   - assistant: content plus zero or more tool calls
//   - tool: one ToolResult bound to a call id
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Attachment references a file or image injected into a user message.
type Attachment struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // image, file
	Path     string `json:"path,omitempty"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// ToolCall is the assistant's request to execute a tool.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolResult is the outcome of one tool call, bound by ToolCallID.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// NewMessage returns a message with a fresh id and timestamp.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// SystemMessage returns a system message.
func SystemMessage(content string) Message { return NewMessage(RoleSystem, content) }

// UserMessage returns a user message.
func UserMessage(content string) Message { return NewMessage(RoleUser, content) }

// AssistantMessage returns an assistant message with the given tool calls.
func AssistantMessage(content string, calls []ToolCall) Message {
	msg := NewMessage(RoleAssistant, content)
	msg.ToolCalls = calls
	return msg
}

// ToolResultMessage wraps a single tool result in a tool-role message.
func ToolResultMessage(result ToolResult) Message {
	msg := NewMessage(RoleTool, "")
	msg.ToolResults = []ToolResult{result}
	return msg
}

// LastMessage returns the final message in the slice, or nil.
func LastMessage(msgs []Message) *Message {
	if len(msgs) == 0 {
		return nil
	}
	return &msgs[len(msgs)-1]
}

// LastAssistant returns the most recent assistant message, or nil.
func LastAssistant(msgs []Message) *Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleAssistant {
			return &msgs[i]
		}
	}
	return nil
}

// AnsweredCallIDs collects the ids of every tool call that has a matching
// tool result anywhere in the slice.
func AnsweredCallIDs(msgs []Message) map[string]bool {
	answered := make(map[string]bool)
	for _, m := range msgs {
		for _, tr := range m.ToolResults {
			if tr.ToolCallID != "" {
				answered[tr.ToolCallID] = true
			}
		}
	}
	return answered
}

// RepairTranscript enforces the tool-call pairing invariant: every assistant
// message with tool calls must be fully answered by tool results before the
// next assistant message. Assistant messages with unanswered calls are
// dropped, as are tool results whose call id no longer has an issuer. The
// input slice is not modified.
func RepairTranscript(msgs []Message) []Message {
	answered := AnsweredCallIDs(msgs)

	issued := make(map[string]bool)
	repaired := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleAssistant:
			complete := true
			for _, tc := range m.ToolCalls {
				if !answered[tc.ID] {
					complete = false
					break
				}
			}
			if !complete {
				continue
			}
			for _, tc := range m.ToolCalls {
				issued[tc.ID] = true
			}
			repaired = append(repaired, m)
		case RoleTool:
			kept := make([]ToolResult, 0, len(m.ToolResults))
			for _, tr := range m.ToolResults {
				if issued[tr.ToolCallID] {
					kept = append(kept, tr)
				}
			}
			if len(kept) == 0 {
				continue
			}
			clone := m
			clone.ToolResults = kept
			repaired = append(repaired, clone)
		default:
			repaired = append(repaired, m)
		}
	}
	return repaired
}

// CloneMessages returns a deep copy of the message slice.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		if len(m.ToolCalls) > 0 {
			out[i].ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
		}
		if len(m.ToolResults) > 0 {
			out[i].ToolResults = append([]ToolResult(nil), m.ToolResults...)
		}
		if len(m.Attachments) > 0 {
			out[i].Attachments = append([]Attachment(nil), m.Attachments...)
		}
	}
	return out
}
