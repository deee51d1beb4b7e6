// Package main provides the CLI entry point for loom, a graph-driven
// agent runtime.
//
// # Basic Usage
//
// Start an interactive chat session:
//
//	loom chat --config loom.yaml
//
// Inspect persisted sessions:
//
//	loom sessions list
//	loom sessions show <thread-id>
//
// # Environment Variables
//
//   - LOOM_CONFIG: Path to configuration file (default: loom.yaml)
//   - OPENAI_API_KEY: OpenAI API key
//   - ANTHROPIC_API_KEY: Anthropic API key
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// .env is a convenience for local development; absence is fine.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "loom",
		Short: "loom - graph-driven agent runtime",
		Long: `loom runs an autonomous agent loop: the model plans, calls tools,
observes their results, and iterates until the task is done. Risky tool
calls pause for human approval; long histories are compressed in place.

Documentation: https://github.com/haasonsaas/loom`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildChatCmd(),
		buildSessionsCmd(),
		buildToolsCmd(),
		buildSkillsCmd(),
		buildWorkspacesCmd(),
	)
	return rootCmd
}

// defaultConfigPath resolves the configuration file path from the
// environment, falling back to loom.yaml in the working directory.
func defaultConfigPath() string {
	if p := os.Getenv("LOOM_CONFIG"); p != "" {
		return p
	}
	return "loom.yaml"
}
