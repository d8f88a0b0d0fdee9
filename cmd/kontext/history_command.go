package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"kontext/internal/ipc"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent generations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.History(limit)
				if err != nil {
					return err
				}
				if jsonOut {
					rows := resp.Rows
					if rows == nil {
						rows = []ipc.HistoryRow{}
					}
					return writeJSON(cmd, rows)
				}
				if len(resp.Rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No generations recorded")
					return nil
				}
				table := renderTable(
					[]tableColumn{
						{title: "ID", numeric: true},
						{title: "Requester"},
						{title: "Prompt"},
						{title: "Duration", numeric: true},
						{title: "Finished"},
					},
					buildHistoryRows(resp.Rows),
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of generations to show")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit machine-readable JSON")
	return cmd
}

func buildHistoryRows(rows []ipc.HistoryRow) [][]string {
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		duration := (time.Duration(row.DurationSeconds) * time.Second).String()
		out = append(out, []string{
			strconv.FormatInt(row.ID, 10),
			row.Requester,
			truncatePrompt(row.Prompt, 48),
			duration,
			row.FinishedAt,
		})
	}
	return out
}
