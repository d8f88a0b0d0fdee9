package main

import (
	"fmt"
	"os/user"
	"strings"

	"github.com/spf13/cobra"

	"kontext/internal/ipc"
)

func newKillCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "kill",
		Short: "Cancel the running job and empty the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Kill(killRequestedBy())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !resp.RunningCancelled && resp.QueuedCancelled == 0 {
					fmt.Fprintln(out, "Nothing to cancel")
					return nil
				}
				if resp.RunningCancelled {
					fmt.Fprintln(out, "Cancelled running job")
				}
				if resp.QueuedCancelled > 0 {
					fmt.Fprintf(out, "Cancelled %d queued jobs\n", resp.QueuedCancelled)
				}
				return nil
			})
		},
	}
}

func killRequestedBy() string {
	if current, err := user.Current(); err == nil {
		if name := strings.TrimSpace(current.Username); name != "" {
			return name
		}
	}
	return "cli"
}
