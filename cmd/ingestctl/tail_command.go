package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"ingestorchestrator/internal/ctlproto"
)

func newTailCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var waitMillis int

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail the daemon's event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ctlproto.Client) error {
				ctxDone := cmd.Context().Done()
				var cursor uint64
				enc := json.NewEncoder(cmd.OutOrStdout())

				for {
					resp, err := client.EventTail(ctlproto.EventTailRequest{
						After:      cursor,
						Follow:     follow,
						WaitMillis: waitMillis,
					})
					if err != nil {
						return err
					}
					cursor = resp.Cursor

					for _, event := range resp.Events {
						if ctx.JSONMode() {
							if err := enc.Encode(event); err != nil {
								return err
							}
							continue
						}
						fmt.Fprintf(cmd.OutOrStdout(), "[%d] %s job=%d title=%d drive=%s %v\n",
							event.Sequence, event.Type, event.JobID, event.TitleID, event.DriveID, event.Fields)
					}

					if !follow {
						return nil
					}
					select {
					case <-ctxDone:
						return nil
					default:
					}
				}
			})
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep tailing new events as they arrive")
	cmd.Flags().IntVar(&waitMillis, "wait", 5000, "Milliseconds to long-poll for the next batch when following")
	return cmd
}
