// Package builtin provides the core tool set wired into every registry:
// clock, workspace file access, HTTP fetch, shell execution, todo
// management, and the control tools the dispatcher interposes on
// (ask_human, done_and_report).
package builtin

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/loom/internal/tools"
)

// Names of the control tools the dispatcher treats specially.
const (
	AskHumanName      = "ask_human"
	DoneAndReportName = "done_and_report"
)

// RegisterAll adds every builtin tool to the registry's discovered pool.
// Nothing is enabled here; the tools config (core list plus optional
// block) decides what the model actually sees.
func RegisterAll(registry *tools.Registry) error {
	type entry struct {
		tool tools.Tool
		meta tools.Metadata
	}
	entries := []entry{
		{&NowTool{}, tools.Metadata{Risk: "low", Category: "utility", Tags: []string{"utility"}, AvailableToSubagent: true}},
		{&ReadFileTool{}, tools.Metadata{Risk: "low", Category: "files", Tags: []string{"files"}, AvailableToSubagent: true}},
		{&WriteFileTool{}, tools.Metadata{Risk: "medium", Category: "files", Tags: []string{"files"}, AvailableToSubagent: true}},
		{&ListDirTool{}, tools.Metadata{Risk: "low", Category: "files", Tags: []string{"files"}, AvailableToSubagent: true}},
		{&HTTPFetchTool{}, tools.Metadata{Risk: "medium", Category: "network", Tags: []string{"network"}, AvailableToSubagent: true}},
		{&RunShellTool{}, tools.Metadata{Risk: "high", Category: "exec", Tags: []string{"exec"}, AvailableToSubagent: true}},
		{&TodoWriteTool{}, tools.Metadata{Risk: "low", Category: "planning", Tags: []string{"planning"}, AvailableToSubagent: true}},
		{&AskHumanTool{}, tools.Metadata{Risk: "low", Category: "control", Tags: []string{"control"}, AvailableToSubagent: false}},
		{&DoneAndReportTool{}, tools.Metadata{Risk: "low", Category: "control", Tags: []string{"control"}, AvailableToSubagent: true}},
	}
	for _, e := range entries {
		registry.Register(e.tool, e.meta)
	}
	return nil
}

// resolvePath maps a tool-supplied path into the session workspace and
// rejects escapes. Relative paths resolve against the workspace root;
// absolute paths must already be inside it.
func resolvePath(sess *tools.Session, path string) (string, error) {
	if sess == nil || sess.WorkspacePath == "" {
		return "", fmt.Errorf("no workspace attached to this session")
	}
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(sess.WorkspacePath, resolved)
	}
	resolved = filepath.Clean(resolved)
	rel, err := filepath.Rel(sess.WorkspacePath, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the session workspace", path)
	}
	return resolved, nil
}
