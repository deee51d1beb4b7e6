package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/haasonsaas/loom/internal/tools"
)

// defaultShellTimeout bounds a single command when the model does not
// request one.
const defaultShellTimeout = 60 * time.Second

// maxShellOutput bounds combined stdout/stderr returned to the model.
const maxShellOutput = 128 * 1024

// RunShellTool executes a shell command inside the session workspace.
// Risky command lines are caught by the approval engine's builtin shell
// patterns before execution.
type RunShellTool struct{}

func (t *RunShellTool) Name() string { return "run_shell" }
func (t *RunShellTool) Description() string {
	return "Run a shell command in the session workspace and return its output."
}

func (t *RunShellTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "The shell command to run."},
			"timeout_seconds": {"type": "integer", "description": "Optional timeout in seconds (default 60, max 600)."}
		},
		"required": ["command"]
	}`)
}

func (t *RunShellTool) Execute(ctx context.Context, args json.RawMessage, sess *tools.Session) (*tools.Result, error) {
	var a struct {
		Command        string `json:"command"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("bad arguments: %w", err)
	}
	if strings.TrimSpace(a.Command) == "" {
		return nil, fmt.Errorf("command is required")
	}

	timeout := defaultShellTimeout
	if a.TimeoutSeconds > 0 {
		timeout = time.Duration(a.TimeoutSeconds) * time.Second
		if timeout > 10*time.Minute {
			timeout = 10 * time.Minute
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", a.Command)
	if sess != nil && sess.WorkspacePath != "" {
		cmd.Dir = sess.WorkspacePath
	}

	out, err := cmd.CombinedOutput()
	text := string(out)
	if len(text) > maxShellOutput {
		text = text[:maxShellOutput] + "\n... [output truncated]"
	}
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("command timed out after %s\n%s", timeout, text)
	}
	if err != nil {
		return nil, fmt.Errorf("command failed: %w\n%s", err, text)
	}
	if strings.TrimSpace(text) == "" {
		text = "(no output)"
	}
	return &tools.Result{Content: text}, nil
}
