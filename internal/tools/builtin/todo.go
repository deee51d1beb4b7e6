package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/haasonsaas/loom/internal/tools"
	"github.com/haasonsaas/loom/pkg/models"
)

// TodoWriteTool replaces the session's todo list. The list is normalized
// so at most one item is in_progress.
type TodoWriteTool struct{}

func (t *TodoWriteTool) Name() string { return "todo_write" }
func (t *TodoWriteTool) Description() string {
	return "Replace the task list for this session. Use it to plan multi-step work and track progress."
}

func (t *TodoWriteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"todos": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"id": {"type": "string"},
						"content": {"type": "string"},
						"status": {"type": "string", "enum": ["pending", "in_progress", "completed"]},
						"priority": {"type": "string"}
					},
					"required": ["content", "status"]
				}
			}
		},
		"required": ["todos"]
	}`)
}

func (t *TodoWriteTool) Execute(ctx context.Context, args json.RawMessage, sess *tools.Session) (*tools.Result, error) {
	var a struct {
		Todos []models.Todo `json:"todos"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("bad arguments: %w", err)
	}
	for i := range a.Todos {
		if a.Todos[i].ID == "" {
			a.Todos[i].ID = uuid.NewString()
		}
	}
	todos := models.NormalizeTodos(a.Todos)

	var b strings.Builder
	fmt.Fprintf(&b, "updated %d todos:\n", len(todos))
	for _, td := range todos {
		fmt.Fprintf(&b, "- [%s] %s\n", td.Status, td.Content)
	}
	return &tools.Result{
		Content: strings.TrimSpace(b.String()),
		Update:  &models.StateUpdate{ReplaceTodos: todos},
	}, nil
}
