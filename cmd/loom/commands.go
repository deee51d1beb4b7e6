package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/loom/pkg/models"
)

// =============================================================================
// Sessions Commands
// =============================================================================

func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage persisted sessions",
	}
	cmd.AddCommand(
		buildSessionsListCmd(),
		buildSessionsShowCmd(),
		buildSessionsDeleteCmd(),
	)
	return cmd
}

func buildSessionsListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.store.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
				return nil
			}
			for _, r := range records {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d messages\tupdated %s\n",
					r.ThreadID, r.MessageCount, r.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	return cmd
}

func buildSessionsShowCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "show <thread-id>",
		Short: "Print a session transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			state, err := a.store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(state)
			}
			printTranscript(cmd, state)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the raw state as JSON")
	return cmd
}

func printTranscript(cmd *cobra.Command, state *models.AgentState) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "thread %s  loops=%d  tokens=%d/%d\n\n",
		state.ThreadID, state.Loops, state.CumulativePromptTokens, state.CumulativeCompletionTokens)
	for _, m := range state.Messages {
		switch m.Role {
		case models.RoleTool:
			for _, tr := range m.ToolResults {
				fmt.Fprintf(out, "[tool:%s] %s\n", tr.Name, tr.Content)
			}
		default:
			fmt.Fprintf(out, "[%s] %s\n", m.Role, m.Content)
			for _, call := range m.ToolCalls {
				fmt.Fprintf(out, "  -> %s %s\n", call.Name, string(call.Args))
			}
		}
	}
}

func buildSessionsDeleteCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "delete <thread-id>",
		Short: "Delete a saved session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	return cmd
}

// =============================================================================
// Tools / Skills / Workspaces Commands
// =============================================================================

func buildToolsCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List discovered tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, name := range a.registry.Names() {
				meta := a.registry.MetadataFor(name)
				extra := ""
				if len(meta.Tags) > 0 {
					extra = "  [" + strings.Join(meta.Tags, ",") + "]"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s risk=%s%s\n", name, meta.Risk, extra)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	return cmd
}

func buildSkillsCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "List discovered skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			list := a.skills.List()
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no skills discovered")
				return nil
			}
			for _, s := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", s.ID, s.Description)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	return cmd
}

func buildWorkspacesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspaces",
		Short: "Manage session workspaces",
	}
	cmd.AddCommand(buildWorkspacesCleanupCmd())
	return cmd
}

func buildWorkspacesCleanupCmd() *cobra.Command {
	var (
		configPath string
		ageDays    int
	)
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove workspaces older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if ageDays <= 0 {
				ageDays = a.cfg.Workspace.CleanupAgeDays
			}
			removed, err := a.workspaces.Cleanup(ageDays)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d workspace(s)\n", len(removed))
			for _, id := range removed {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", id)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().IntVar(&ageDays, "age-days", 0, "Override the configured retention window")
	return cmd
}
