// Package providers implements LLM provider integrations for the agent
// runtime. Each provider adapts one vendor SDK to the shared Provider
// interface: a single blocking completion call that returns the
// assistant's turn, including any tool calls and token usage.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/haasonsaas/loom/pkg/models"
)

// Finish reasons normalized across providers.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
)

// ErrNoAPIKey is returned when a provider is invoked without credentials.
var ErrNoAPIKey = errors.New("provider API key not configured")

// ToolSpec describes one tool exposed to the model.
type ToolSpec struct {
	Name        string
	Description string
	// Schema is the JSON Schema for the tool's arguments.
	Schema json.RawMessage
}

// Request is a provider-agnostic completion request.
type Request struct {
	Model               string
	System              string
	Messages            []models.Message
	Tools               []ToolSpec
	MaxCompletionTokens int
}

// Usage reports token consumption for one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// AssistantTurn is the model's reply: text, requested tool calls, or both.
type AssistantTurn struct {
	Content      string
	ToolCalls    []models.ToolCall
	Usage        Usage
	FinishReason string
}

// Message converts the turn into a transcript message.
func (t *AssistantTurn) Message() models.Message {
	return models.AssistantMessage(t.Content, t.ToolCalls)
}

// Truncated reports whether the model stopped because it hit the output
// token ceiling.
func (t *AssistantTurn) Truncated() bool {
	return t.FinishReason == FinishLength
}

// Provider is a synchronous LLM completion backend.
type Provider interface {
	// Name identifies the provider ("openai", "anthropic").
	Name() string

	// Invoke sends one completion request and blocks until the full
	// assistant turn is available.
	Invoke(ctx context.Context, req *Request) (*AssistantTurn, error)
}

// retryable reports whether an error is worth retrying: rate limits,
// server errors, and timeouts.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"rate limit", "429", "500", "502", "503", "504", "overloaded", "timeout", "deadline exceeded"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// normalizeToolCalls fills empty argument payloads with an empty object.
// Malformed JSON is passed through untouched; the planner settles those
// calls with an error result instead of executing them.
func normalizeToolCalls(calls []models.ToolCall) []models.ToolCall {
	for i := range calls {
		if len(calls[i].Args) == 0 {
			calls[i].Args = json.RawMessage(`{}`)
		}
	}
	return calls
}
