package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"kontext/internal/ipc"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the generation queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List running and waiting jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueList()
				if err != nil {
					return err
				}
				if jsonOut {
					rows := resp.Rows
					if rows == nil {
						rows = []ipc.QueueRow{}
					}
					return writeJSON(cmd, rows)
				}
				if len(resp.Rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				table := renderTable(
					[]tableColumn{
						{title: "Pos", numeric: true},
						{title: "ID", numeric: true},
						{title: "Requester"},
						{title: "Prompt"},
						{title: "Status"},
						{title: "ETA", numeric: true},
					},
					buildQueueListRows(resp.Rows),
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Cancel every waiting job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueClear()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %d queued jobs\n", resp.Cancelled)
				return nil
			})
		},
	}
}

func buildQueueListRows(rows []ipc.QueueRow) [][]string {
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		eta := ""
		if row.ETASeconds > 0 {
			eta = (time.Duration(row.ETASeconds) * time.Second).String()
		}
		out = append(out, []string{
			strconv.Itoa(row.Position),
			strconv.FormatInt(row.ID, 10),
			row.Requester,
			truncatePrompt(row.Prompt, 48),
			row.Status,
			eta,
		})
	}
	return out
}

func truncatePrompt(prompt string, max int) string {
	runes := []rune(prompt)
	if len(runes) <= max {
		return prompt
	}
	return string(runes[:max-3]) + "..."
}
