package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/loom/internal/agent"
	"github.com/haasonsaas/loom/internal/graph"
	"github.com/haasonsaas/loom/pkg/models"
)

func buildChatCmd() *cobra.Command {
	var (
		configPath  string
		threadID    string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive agent session",
		Long: `Chat runs the agent loop against your terminal. Mention tools and
skills with @name, reference uploaded files with #path. Risky tool calls
pause for your approval.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, configPath, threadID, metricsAddr)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&threadID, "thread", "", "Thread ID to resume (default: new session)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address for the Prometheus /metrics endpoint (for example :9091)")
	return cmd
}

func runChat(cmd *cobra.Command, configPath, threadID, metricsAddr string) error {
	a, err := loadApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	serveMetrics(metricsAddr, a.logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if threadID == "" {
		threadID = models.NewAgentState("").ThreadID
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "loom chat - thread %s (ctrl-d to exit)\n", threadID)

	reader := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(out, "\n> ")
		if !reader.Scan() {
			return nil
		}
		input := strings.TrimSpace(reader.Text())
		if input == "" {
			continue
		}
		if input == "/quit" || input == "/exit" {
			return nil
		}

		ch, _, err := a.manager.Run(ctx, threadID, input)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		if err := streamTurn(ctx, a.manager, threadID, ch, out, reader); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

// streamTurn consumes one run, printing progress and settling interrupts
// until the turn completes.
func streamTurn(ctx context.Context, mgr *agent.SessionManager, threadID string, ch <-chan graph.Snapshot, out io.Writer, reader *bufio.Scanner) error {
	for {
		last := printSnapshots(ch, out)
		if last.Err != nil {
			return last.Err
		}
		if last.Interrupt == nil {
			return nil
		}

		value, err := settleInterrupt(last.Interrupt, out, reader)
		if err != nil {
			return err
		}
		ch, _, err = mgr.Resume(ctx, threadID, value)
		if err != nil {
			return err
		}
	}
}

// printSnapshots renders assistant text and tool activity as the run
// progresses, returning the terminal snapshot.
func printSnapshots(ch <-chan graph.Snapshot, out io.Writer) graph.Snapshot {
	var last graph.Snapshot
	for snap := range ch {
		last = snap
		if snap.Err != nil || snap.State == nil {
			continue
		}
		msg := models.LastMessage(snap.State.Messages)
		if msg == nil {
			continue
		}
		switch snap.Node {
		case agent.NodePlanner:
			if msg.Content != "" {
				fmt.Fprintf(out, "\n%s\n", msg.Content)
			}
			for _, call := range msg.ToolCalls {
				fmt.Fprintf(out, "  -> %s %s\n", call.Name, compactJSON(call.Args))
			}
		case agent.NodeTools:
			if msg.Role != models.RoleTool {
				continue
			}
			for _, tr := range msg.ToolResults {
				status := "ok"
				if tr.IsError {
					status = "error"
				}
				fmt.Fprintf(out, "  <- %s [%s] %s\n", tr.Name, status, truncateLine(tr.Content, 160))
			}
		}
	}
	return last
}

// settleInterrupt prompts the user for the value the suspended run needs.
func settleInterrupt(interrupt *graph.Interrupt, out io.Writer, reader *bufio.Scanner) (any, error) {
	switch interrupt.Type {
	case graph.InterruptToolApproval:
		fmt.Fprintf(out, "\n⚠ approval required: %s (%s)\n", interrupt.Tool, interrupt.RiskLevel)
		if interrupt.Reason != "" {
			fmt.Fprintf(out, "  reason: %s\n", interrupt.Reason)
		}
		fmt.Fprintf(out, "  args: %s\n", compactJSON(interrupt.Args))
		fmt.Fprint(out, "approve? [y/N] ")
		if !reader.Scan() {
			return graph.ResumeReject, nil
		}
		answer := strings.ToLower(strings.TrimSpace(reader.Text()))
		if answer == "y" || answer == "yes" {
			return graph.ResumeApprove, nil
		}
		return graph.ResumeReject, nil

	case graph.InterruptUserInputRequest:
		fmt.Fprintf(out, "\n? %s\n", interrupt.Question)
		if interrupt.Context != "" {
			fmt.Fprintf(out, "  (%s)\n", interrupt.Context)
		}
		if interrupt.Default != "" {
			fmt.Fprintf(out, "  [default: %s] ", interrupt.Default)
		}
		fmt.Fprint(out, "> ")
		if !reader.Scan() {
			return interrupt.Default, nil
		}
		answer := strings.TrimSpace(reader.Text())
		if answer == "" {
			answer = interrupt.Default
		}
		return answer, nil

	default:
		return nil, fmt.Errorf("unknown interrupt type %q", interrupt.Type)
	}
}

func compactJSON(raw []byte) string {
	return truncateLine(string(raw), 120)
}

func truncateLine(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
