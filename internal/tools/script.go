package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestSuffix marks script tool manifest files inside scan
// directories.
const ManifestSuffix = ".tool.yaml"

// scriptManifest is the on-disk description of a script-backed tool.
type scriptManifest struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Schema      string   `yaml:"schema"`
	Command     []string `yaml:"command"`

	Risk                string   `yaml:"risk"`
	Category            string   `yaml:"category"`
	Tags                []string `yaml:"tags"`
	AvailableToSubagent *bool    `yaml:"available_to_subagent"`
}

// ScriptTool executes an external command described by a manifest.
// Argument values are substituted into `{placeholder}` slots in the
// command template; the full argument payload is also exported as
// LOOM_TOOL_ARGS for scripts that prefer structured input.
type ScriptTool struct {
	name        string
	description string
	schema      json.RawMessage
	command     []string
	dir         string
}

// Name implements Tool.
func (s *ScriptTool) Name() string { return s.name }

// Description implements Tool.
func (s *ScriptTool) Description() string { return s.description }

// Schema implements Tool.
func (s *ScriptTool) Schema() json.RawMessage { return s.schema }

// Execute implements Tool.
func (s *ScriptTool) Execute(ctx context.Context, args json.RawMessage, sess *Session) (*Result, error) {
	argv, err := s.render(args)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if sess != nil && sess.WorkspacePath != "" {
		cmd.Dir = sess.WorkspacePath
	}
	cmd.Env = append(os.Environ(), "LOOM_TOOL_ARGS="+string(args))

	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("script tool %s: %w\n%s", s.name, err, strings.TrimSpace(string(out)))
	}
	return &Result{Content: strings.TrimSpace(string(out))}, nil
}

// render substitutes argument values into the command template.
func (s *ScriptTool) render(args json.RawMessage) ([]string, error) {
	values := map[string]any{}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &values); err != nil {
			return nil, fmt.Errorf("script tool %s: bad arguments: %w", s.name, err)
		}
	}
	argv := make([]string, len(s.command))
	for i, part := range s.command {
		argv[i] = part
		for key, val := range values {
			argv[i] = strings.ReplaceAll(argv[i], "{"+key+"}", fmt.Sprintf("%v", val))
		}
	}
	return argv, nil
}

// Scan loads every *.tool.yaml manifest under the given directories into
// the registry's discovered pool. Later directories override earlier ones
// on name collision, which is how user tool directories shadow builtins.
// Missing directories are skipped; malformed manifests are logged and
// skipped so one bad file cannot break startup.
func Scan(registry *Registry, directories []string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for _, dir := range directories {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("scan %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ManifestSuffix) {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			tool, meta, err := loadManifest(path)
			if err != nil {
				logger.Warn("skipping malformed tool manifest", "path", path, "error", err)
				continue
			}
			registry.Register(tool, meta)
			logger.Debug("discovered script tool", "name", tool.Name(), "path", path)
		}
	}
	return nil
}

func loadManifest(path string) (*ScriptTool, Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Metadata{}, err
	}
	var m scriptManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, Metadata{}, fmt.Errorf("parse: %w", err)
	}
	if m.Name == "" {
		return nil, Metadata{}, fmt.Errorf("manifest missing name")
	}
	if len(m.Command) == 0 {
		return nil, Metadata{}, fmt.Errorf("manifest %s missing command", m.Name)
	}
	schema := json.RawMessage(m.Schema)
	if len(schema) > 0 && !json.Valid(schema) {
		return nil, Metadata{}, fmt.Errorf("manifest %s: schema is not valid JSON", m.Name)
	}

	meta := DefaultMetadata()
	if m.Risk != "" {
		meta.Risk = m.Risk
	}
	meta.Category = m.Category
	meta.Tags = m.Tags
	if m.AvailableToSubagent != nil {
		meta.AvailableToSubagent = *m.AvailableToSubagent
	}

	return &ScriptTool{
		name:        m.Name,
		description: m.Description,
		schema:      schema,
		command:     m.Command,
		dir:         filepath.Dir(path),
	}, meta, nil
}
