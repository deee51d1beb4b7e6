package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loom.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadExpandsEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-test-123")
	path := writeConfig(t, `
models:
  providers:
    openai:
      api_key: ${TEST_OPENAI_KEY}
  slots:
    base:
      provider: openai
      model: gpt-4o
      context_window: 128000
    reason:
      provider: anthropic
      model: claude-sonnet-4-5
sessions:
  backend: memory
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Models.Providers.OpenAI.APIKey != "sk-test-123" {
		t.Errorf("api key not expanded: %q", cfg.Models.Providers.OpenAI.APIKey)
	}
	if cfg.Models.Slots["reason"].ContextWindow != 128000 {
		t.Errorf("context window default not applied: %d", cfg.Models.Slots["reason"].ContextWindow)
	}
	if cfg.Sessions.Backend != "memory" {
		t.Errorf("backend = %q", cfg.Sessions.Backend)
	}
	if cfg.Agent.MaxLoops != 100 || cfg.Agent.SubagentMaxLoops != 50 {
		t.Errorf("loop defaults = %d/%d", cfg.Agent.MaxLoops, cfg.Agent.SubagentMaxLoops)
	}
	if cfg.Workspace.CleanupAgeDays != 7 {
		t.Errorf("cleanup age = %d", cfg.Workspace.CleanupAgeDays)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
}

func TestLoadToolAndSkillBlocks(t *testing.T) {
	path := writeConfig(t, `
models:
  slots:
    base:
      provider: openai
      model: gpt-4o
      context_window: 128000
      max_completion_tokens: 8192
tools:
  core:
    read_file:
      category: files
      tags: [files, safe]
  optional:
    extract_links:
      enabled: true
      available_to_subagent: false
      category: network
      tags: [web]
  directories:
    builtin: [/opt/loom/tools]
    custom: [/home/u/.loom/tools]
skills:
  core: [report-writer]
  optional:
    pdf-builder:
      enabled: true
      auto_load_on_file_types: [pdf]
  global:
    auto_load_on_file_upload: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Slot("base").MaxCompletionTokens != 8192 {
		t.Errorf("max_completion_tokens = %d", cfg.Slot("base").MaxCompletionTokens)
	}
	if decl := cfg.Tools.Core["read_file"]; decl.Category != "files" || len(decl.Tags) != 2 {
		t.Errorf("core decl = %+v", decl)
	}
	opt, ok := cfg.Tools.Optional["extract_links"]
	if !ok || !opt.Enabled || opt.AvailableToSubagent == nil || *opt.AvailableToSubagent {
		t.Fatalf("optional decl = %+v", opt)
	}
	if len(cfg.Tools.Directories.Builtin) != 1 || len(cfg.Tools.Directories.Custom) != 1 {
		t.Errorf("directories = %+v", cfg.Tools.Directories)
	}
	if len(cfg.Skills.Core) != 1 || cfg.Skills.Core[0] != "report-writer" {
		t.Errorf("core skills = %v", cfg.Skills.Core)
	}
	sk := cfg.Skills.Optional["pdf-builder"]
	if !sk.Enabled || len(sk.AutoLoadOnFileTypes) != 1 || sk.AutoLoadOnFileTypes[0] != "pdf" {
		t.Errorf("skill option = %+v", sk)
	}
	if !cfg.Skills.Global.AutoLoadOnFileUpload {
		t.Error("global auto-load not parsed")
	}
}

func TestLoadApprovalRules(t *testing.T) {
	path := writeConfig(t, `
approval:
  global_patterns:
    - risk_level: critical
      patterns: ["production"]
      reason: touches prod
  tool_patterns:
    run_shell:
      - risk_level: high
        patterns: ["git push"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Approval.Global) != 1 || cfg.Approval.Global[0].RiskLevel != "critical" {
		t.Fatalf("global patterns: %+v", cfg.Approval.Global)
	}
	if len(cfg.Approval.PerTool["run_shell"]) != 1 {
		t.Fatalf("tool patterns: %+v", cfg.Approval.PerTool)
	}
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := writeConfig(t, "models: [not: a: map")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected read error")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	base, ok := cfg.Models.Slots["base"]
	if !ok || base.Provider != "openai" {
		t.Fatalf("base slot = %+v", base)
	}
	if got := cfg.Slot("vision"); got.Model != base.Model {
		t.Errorf("unknown slot should fall back to base, got %+v", got)
	}
	if len(cfg.Tools.Core) == 0 {
		t.Error("core tools empty")
	}
}
