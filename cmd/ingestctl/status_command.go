package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"ingestorchestrator/internal/ctlproto"
)

const ansiGreen = "\x1b[32m"
const ansiReset = "\x1b[0m"

func isTerminalStdout() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon liveness and per-state job counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ctlproto.Client) error {
				resp, err := client.Status()
				if err != nil {
					return err
				}

				if ctx.JSONMode() {
					return writeJSON(cmd, resp)
				}

				out := cmd.OutOrStdout()
				runningLine := fmt.Sprintf("ingestd running (pid %d)", resp.PID)
				if isTerminalStdout() {
					runningLine = ansiGreen + runningLine + ansiReset
				}
				fmt.Fprintln(out, runningLine)
				fmt.Fprintf(out, "socket:   %s\n", resp.SocketPath)
				fmt.Fprintf(out, "database: %s\n", resp.DatabasePath)
				fmt.Fprintf(out, "uptime:   %s\n", time.Duration(resp.UptimeMillis)*time.Millisecond)
				fmt.Fprintln(out)

				rows := buildStatusRows(resp.JobCounts)
				if len(rows) == 0 {
					fmt.Fprintln(out, "No jobs recorded")
					return nil
				}
				table := renderTable([]string{"State", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
				fmt.Fprint(out, table)
				return nil
			})
		},
	}
}

func buildStatusRows(counts map[string]int) [][]string {
	if len(counts) == 0 {
		return nil
	}
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{formatStateLabel(key), fmt.Sprintf("%d", counts[key])})
	}
	return rows
}

func formatStateLabel(state string) string {
	state = strings.TrimSpace(state)
	if state == "" {
		return ""
	}
	parts := strings.Split(state, "_")
	for i, part := range parts {
		lower := strings.ToLower(part)
		if lower == "" {
			continue
		}
		parts[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.Join(parts, " ")
}
