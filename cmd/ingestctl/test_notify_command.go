package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ingestorchestrator/internal/ctlproto"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through the configured notifier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ctlproto.Client) error {
				resp, err := client.TestNotification()
				if err != nil {
					return err
				}

				if ctx.JSONMode() {
					return writeJSON(cmd, resp)
				}

				if resp.Message != "" {
					fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				} else if resp.Sent {
					fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "Notification not sent")
				}
				return nil
			})
		},
	}
}
