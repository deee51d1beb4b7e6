package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/loom/internal/agent"
	"github.com/haasonsaas/loom/internal/approval"
	"github.com/haasonsaas/loom/internal/compaction"
	"github.com/haasonsaas/loom/internal/config"
	"github.com/haasonsaas/loom/internal/observability"
	"github.com/haasonsaas/loom/internal/providers"
	"github.com/haasonsaas/loom/internal/sessions"
	"github.com/haasonsaas/loom/internal/skills"
	"github.com/haasonsaas/loom/internal/subagent"
	"github.com/haasonsaas/loom/internal/tokens"
	"github.com/haasonsaas/loom/internal/tools"
	"github.com/haasonsaas/loom/internal/tools/builtin"
	"github.com/haasonsaas/loom/internal/workspace"
)

// app is the wired runtime shared by the CLI commands.
type app struct {
	cfg        *config.Config
	store      sessions.Store
	registry   *tools.Registry
	skills     *skills.Catalog
	workspaces *workspace.Manager
	manager    *agent.SessionManager
	logger     *slog.Logger
}

// loadApp builds the full runtime from a config file. A missing file
// falls back to defaults so `loom chat` works out of the box with just
// an API key in the environment.
func loadApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
	} else if err != nil {
		return nil, err
	}

	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	slot := cfg.Slot("base")
	provider, err := buildProvider(cfg, slot)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry()
	if err := builtin.RegisterAll(registry); err != nil {
		return nil, err
	}
	scanDirs := append(append([]string{}, cfg.Tools.Directories.Builtin...), cfg.Tools.Directories.Custom...)
	if err := tools.Scan(registry, scanDirs, logger); err != nil {
		return nil, err
	}

	engine, err := approval.NewEngine(cfg.Approval)
	if err != nil {
		return nil, fmt.Errorf("approval rules: %w", err)
	}

	store, err := buildStore(cfg.Sessions)
	if err != nil {
		return nil, err
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	tracker := tokens.NewTracker(slot.ContextWindow, cfg.Agent.SummarizeCycle)
	estimator := tokens.NewEstimator(slot.Model)
	compressor := compaction.New(provider, estimator, compaction.Config{
		Model:              slot.Model,
		ContextWindow:      slot.ContextWindow,
		RecentCount:        cfg.Agent.RecentCount,
		MaxSummaryTokens:   cfg.Agent.MaxSummaryTokens,
		MaxHistoryMessages: cfg.Agent.MaxHistoryMessages,
	}, logger)

	runtime := &agent.Runtime{
		Provider:            provider,
		Model:               slot.Model,
		SystemPrompt:        cfg.Agent.SystemPrompt,
		MaxCompletionTokens: slot.MaxCompletionTokens,
		ToolTimeout:         cfg.Agent.ToolTimeout,
		Registry:            registry,
		Approvals:           engine,
		Tracker:             tracker,
		Compressor:          compressor,
		Metrics:             metrics,
		Logger:              logger,
	}

	registry.Register(&subagent.DelegateTool{
		Runtime:  runtime,
		MaxLoops: cfg.Agent.SubagentMaxLoops,
	}, subagent.Metadata())

	configureTools(registry, cfg.Tools, logger)

	catalog := skills.Discover(cfg.Skills.Roots, logger)
	workspaces := workspace.NewManager(cfg.Workspace.Root, logger)

	manager := &agent.SessionManager{
		Runtime:        runtime,
		Store:          store,
		Workspaces:     workspaces,
		Skills:         catalog,
		CoreSkills:     cfg.Skills.Core,
		AutoLoadSkills: cfg.Skills.Global.AutoLoadOnFileUpload,
		SkillFileTypes: skillFileTypes(cfg.Skills),
		MaxLoops:       cfg.Agent.MaxLoops,
		Logger:         logger,
	}

	return &app{
		cfg:        cfg,
		store:      store,
		registry:   registry,
		skills:     catalog,
		workspaces: workspaces,
		manager:    manager,
		logger:     logger,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// configureTools applies the tools config to the registry: enable the
// core set, then enable and annotate tools from the optional block.
func configureTools(registry *tools.Registry, cfg config.ToolsConfig, logger *slog.Logger) {
	for name, decl := range cfg.Core {
		if err := registry.RegisterEnabled(name); err != nil {
			logger.Warn("core tool not found", "tool", name, "error", err)
			continue
		}
		meta := registry.MetadataFor(name)
		if decl.Category != "" {
			meta.Category = decl.Category
		}
		if len(decl.Tags) > 0 {
			meta.Tags = decl.Tags
		}
		_ = registry.SetMetadata(name, meta)
	}

	for name, opt := range cfg.Optional {
		meta := registry.MetadataFor(name)
		if opt.Category != "" {
			meta.Category = opt.Category
		}
		if len(opt.Tags) > 0 {
			meta.Tags = opt.Tags
		}
		if opt.AvailableToSubagent != nil {
			meta.AvailableToSubagent = *opt.AvailableToSubagent
		}
		if err := registry.SetMetadata(name, meta); err != nil {
			logger.Warn("optional tool not found", "tool", name, "error", err)
			continue
		}
		if opt.Enabled {
			_ = registry.RegisterEnabled(name)
		}
	}
}

// skillFileTypes maps enabled optional skills to the upload extensions
// that auto-mount them.
func skillFileTypes(cfg config.SkillsConfig) map[string][]string {
	out := make(map[string][]string)
	for id, opt := range cfg.Optional {
		if !opt.Enabled || len(opt.AutoLoadOnFileTypes) == 0 {
			continue
		}
		out[id] = opt.AutoLoadOnFileTypes
	}
	return out
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func buildProvider(cfg *config.Config, slot config.ModelSlot) (providers.Provider, error) {
	switch slot.Provider {
	case "openai", "":
		key := cfg.Models.Providers.OpenAI.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		return providers.NewOpenAI(providers.OpenAIConfig{
			APIKey:  key,
			BaseURL: cfg.Models.Providers.OpenAI.BaseURL,
		}), nil
	case "anthropic":
		key := cfg.Models.Providers.Anthropic.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		return providers.NewAnthropic(providers.AnthropicConfig{
			APIKey:  key,
			BaseURL: cfg.Models.Providers.Anthropic.BaseURL,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", slot.Provider)
	}
}

func buildStore(cfg config.SessionsConfig) (sessions.Store, error) {
	switch cfg.Backend {
	case "sqlite", "":
		return sessions.NewSQLiteStore(cfg.Path)
	case "memory":
		return sessions.NewMemoryStore(), nil
	case "none":
		return sessions.NewNoopStore(), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

// serveMetrics exposes the Prometheus endpoint when an address is
// configured. Errors are logged, not fatal; the agent works without it.
func serveMetrics(addr string, logger *slog.Logger) {
	if addr == "" {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("metrics endpoint listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Warn("metrics endpoint failed", "error", err)
		}
	}()
}
