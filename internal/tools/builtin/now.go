package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haasonsaas/loom/internal/tools"
)

// NowTool reports the current time, optionally in a named IANA zone.
type NowTool struct{}

func (t *NowTool) Name() string        { return "now" }
func (t *NowTool) Description() string { return "Get the current date and time, optionally in a specific timezone." }

func (t *NowTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"timezone": {"type": "string", "description": "IANA timezone name, e.g. America/New_York. Defaults to UTC."}
		}
	}`)
}

func (t *NowTool) Execute(ctx context.Context, args json.RawMessage, sess *tools.Session) (*tools.Result, error) {
	var a struct {
		Timezone string `json:"timezone"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("bad arguments: %w", err)
		}
	}
	loc := time.UTC
	if a.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(a.Timezone)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", a.Timezone)
		}
	}
	return &tools.Result{Content: time.Now().In(loc).Format(time.RFC3339)}, nil
}
