package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ingestorchestrator/internal/ctlproto"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and update the running daemon's configuration",
	}

	configCmd.AddCommand(newConfigGetCommand(ctx))
	configCmd.AddCommand(newConfigSetCommand(ctx))

	return configCmd
}

func newConfigGetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the live config, with API keys redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ctlproto.Client) error {
				resp, err := client.ConfigGet()
				if err != nil {
					return err
				}
				return writeJSON(cmd, resp.Config)
			})
		},
	}
}

func newConfigSetCommand(ctx *commandContext) *cobra.Command {
	var fromFile string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Merge a partial config document into the live config",
		Long: "Merge a partial JSON config document into the live config. Only the\n" +
			"groups present in the document are applied; everything else is left\n" +
			"untouched. Reads from --file, or from stdin when --file is omitted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var body []byte
			var err error
			if trimmed := strings.TrimSpace(fromFile); trimmed != "" {
				body, err = os.ReadFile(trimmed)
			} else {
				body, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("read config document: %w", err)
			}
			if !json.Valid(body) {
				return fmt.Errorf("config document is not valid JSON")
			}

			return ctx.withClient(func(client *ctlproto.Client) error {
				resp, err := client.ConfigUpdate(body)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp.Config)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Configuration updated")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&fromFile, "file", "", "Path to a JSON config document (default: stdin)")
	return cmd
}
