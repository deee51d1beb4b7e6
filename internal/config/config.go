// Package config loads the runtime's YAML configuration: model slots and
// context thresholds, tool pools and scan directories, HITL approval
// rules, skill roots, workspace and session settings. Environment
// variables in the file are expanded before parsing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/loom/internal/approval"
)

// Config is the full runtime configuration.
type Config struct {
	Models    ModelsConfig    `yaml:"models"`
	Tools     ToolsConfig     `yaml:"tools"`
	Approval  approval.Rules  `yaml:"approval"`
	Skills    SkillsConfig    `yaml:"skills"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Agent     AgentConfig     `yaml:"agent"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ModelsConfig declares the providers and the named model slots the
// runtime resolves against.
type ModelsConfig struct {
	Providers struct {
		OpenAI struct {
			APIKey  string `yaml:"api_key"`
			BaseURL string `yaml:"base_url"`
		} `yaml:"openai"`
		Anthropic struct {
			APIKey  string `yaml:"api_key"`
			BaseURL string `yaml:"base_url"`
		} `yaml:"anthropic"`
	} `yaml:"providers"`

	// Slots map slot names (base, reason, vision, code, chat) to models.
	Slots map[string]ModelSlot `yaml:"slots"`
}

// ModelSlot binds a slot name to a provider model, its context window,
// and the per-call completion ceiling.
type ModelSlot struct {
	Provider            string `yaml:"provider"`
	Model               string `yaml:"model"`
	ContextWindow       int    `yaml:"context_window"`
	MaxCompletionTokens int    `yaml:"max_completion_tokens"`
}

// ToolsConfig controls the registry's pools and scan directories.
type ToolsConfig struct {
	// Core tools are enabled at startup. Everything else stays
	// discovered until mentioned or switched on in the optional block.
	Core map[string]ToolDecl `yaml:"core"`
	// Optional tools stay discovered unless enabled here; the block can
	// also override their metadata.
	Optional map[string]OptionalTool `yaml:"optional"`
	// Directories are scanned for *.tool.yaml script manifests, later
	// entries overriding earlier ones. Custom roots shadow builtin ones.
	Directories ToolDirectories `yaml:"directories"`
}

// ToolDecl annotates a core tool.
type ToolDecl struct {
	Category string   `yaml:"category"`
	Tags     []string `yaml:"tags"`
}

// OptionalTool declares a discovered tool's enablement and metadata.
type OptionalTool struct {
	Enabled             bool     `yaml:"enabled"`
	AvailableToSubagent *bool    `yaml:"available_to_subagent"`
	Category            string   `yaml:"category"`
	Tags                []string `yaml:"tags"`
}

// ToolDirectories are the script-tool scan roots.
type ToolDirectories struct {
	Builtin []string `yaml:"builtin"`
	Custom  []string `yaml:"custom"`
}

// SkillsConfig lists skill discovery roots and per-skill behavior.
type SkillsConfig struct {
	// Roots are scanned for skill bundles, later roots overriding.
	Roots []string `yaml:"roots"`
	// Core skills are mounted into every session.
	Core []string `yaml:"core"`
	// Optional skills can auto-mount when matching files are uploaded.
	Optional map[string]SkillOption `yaml:"optional"`
	Global   SkillsGlobal           `yaml:"global"`
}

// SkillOption tunes one optional skill.
type SkillOption struct {
	Enabled             bool     `yaml:"enabled"`
	AutoLoadOnFileTypes []string `yaml:"auto_load_on_file_types"`
}

// SkillsGlobal holds catalog-wide skill switches.
type SkillsGlobal struct {
	AutoLoadOnFileUpload bool `yaml:"auto_load_on_file_upload"`
}

// WorkspaceConfig controls the session sandbox substrate.
type WorkspaceConfig struct {
	Root           string `yaml:"root"`
	CleanupAgeDays int    `yaml:"cleanup_age_days"`
}

// SessionsConfig controls persistence.
type SessionsConfig struct {
	// Backend is sqlite, memory, or none.
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// AgentConfig tunes the loop and the context manager.
type AgentConfig struct {
	MaxLoops           int           `yaml:"max_loops"`
	SubagentMaxLoops   int           `yaml:"subagent_max_loops"`
	SummarizeCycle     int           `yaml:"summarize_cycle"`
	MaxSummaryTokens   int           `yaml:"max_summary_tokens"`
	MaxHistoryMessages int           `yaml:"max_history_messages"`
	RecentCount        int           `yaml:"recent_count"`
	SystemPrompt       string        `yaml:"system_prompt"`
	ToolTimeout        time.Duration `yaml:"tool_timeout"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file, expanding ${ENV_VAR}
// references first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Models.Slots == nil {
		cfg.Models.Slots = map[string]ModelSlot{}
	}
	if _, ok := cfg.Models.Slots["base"]; !ok {
		cfg.Models.Slots["base"] = ModelSlot{Provider: "openai", Model: "gpt-4o-mini", ContextWindow: 128000}
	}
	if _, ok := cfg.Models.Slots["chat"]; !ok {
		cfg.Models.Slots["chat"] = cfg.Models.Slots["base"]
	}
	for name, slot := range cfg.Models.Slots {
		if slot.ContextWindow <= 0 {
			slot.ContextWindow = 128000
			cfg.Models.Slots[name] = slot
		}
	}

	if len(cfg.Tools.Core) == 0 {
		cfg.Tools.Core = map[string]ToolDecl{}
		for _, name := range []string{
			"now", "read_file", "write_file", "list_dir", "http_fetch",
			"run_shell", "todo_write", "ask_human", "delegate_task", "done_and_report",
		} {
			cfg.Tools.Core[name] = ToolDecl{}
		}
	}

	home, _ := os.UserHomeDir()
	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = filepath.Join(home, ".loom", "workspaces")
	}
	if cfg.Workspace.CleanupAgeDays <= 0 {
		cfg.Workspace.CleanupAgeDays = 7
	}
	if cfg.Sessions.Backend == "" {
		cfg.Sessions.Backend = "sqlite"
	}
	if cfg.Sessions.Path == "" {
		cfg.Sessions.Path = filepath.Join(home, ".loom", "sessions.db")
	}
	if len(cfg.Skills.Roots) == 0 {
		cfg.Skills.Roots = []string{filepath.Join(home, ".loom", "skills")}
	}

	if cfg.Agent.MaxLoops <= 0 {
		cfg.Agent.MaxLoops = 100
	}
	if cfg.Agent.SubagentMaxLoops <= 0 {
		cfg.Agent.SubagentMaxLoops = 50
	}
	if cfg.Agent.SummarizeCycle <= 0 {
		cfg.Agent.SummarizeCycle = 3
	}
	if cfg.Agent.MaxSummaryTokens <= 0 {
		cfg.Agent.MaxSummaryTokens = 1440
	}
	if cfg.Agent.MaxHistoryMessages <= 0 {
		cfg.Agent.MaxHistoryMessages = 100
	}
	if cfg.Agent.RecentCount <= 0 {
		cfg.Agent.RecentCount = 10
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Slot resolves a named model slot, falling back to base.
func (c *Config) Slot(name string) ModelSlot {
	if slot, ok := c.Models.Slots[name]; ok {
		return slot
	}
	return c.Models.Slots["base"]
}
