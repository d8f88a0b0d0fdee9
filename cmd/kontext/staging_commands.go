package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kontext/internal/logging"
	"kontext/internal/staging"
)

func newStagingCommand(ctx *commandContext) *cobra.Command {
	stagingCmd := &cobra.Command{
		Use:   "staging",
		Short: "Manage staged uploads and artifacts",
	}

	stagingCmd.AddCommand(newStagingListCommand(ctx))
	stagingCmd.AddCommand(newStagingCleanCommand(ctx))

	return stagingCmd
}

func newStagingListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List staged files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			stagingDir := strings.TrimSpace(cfg.Paths.StagingDir)
			if stagingDir == "" {
				if jsonOut {
					return writeJSON(cmd, map[string]any{
						"staging_dir":      "",
						"files":            []any{},
						"total_size_bytes": 0,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Staging directory not configured")
				return nil
			}

			files, err := staging.ListFiles(stagingDir)
			if err != nil {
				return fmt.Errorf("list staged files: %w", err)
			}

			if jsonOut {
				if files == nil {
					files = []staging.FileInfo{}
				}
				var totalSize int64
				for _, file := range files {
					totalSize += file.Size
				}
				return writeJSON(cmd, map[string]any{
					"staging_dir":      stagingDir,
					"files":            files,
					"total_size_bytes": totalSize,
				})
			}

			if len(files) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No staged files found")
				return nil
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Staging directory: %s\n\n", stagingDir)

			var totalSize int64
			rows := make([][]string, 0, len(files))
			for _, file := range files {
				age := time.Since(file.ModTime).Truncate(time.Minute)
				totalSize += file.Size
				rows = append(rows, []string{file.Name, formatDuration(age), logging.FormatBytes(file.Size)})
			}

			table := renderTable(
				[]tableColumn{
					{title: "File"},
					{title: "Age", numeric: true},
					{title: "Size", numeric: true},
				},
				rows,
			)
			fmt.Fprintln(out, table)
			fmt.Fprintf(out, "\nTotal: %d files, %s\n", len(files), logging.FormatBytes(totalSize))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newStagingCleanCommand(ctx *commandContext) *cobra.Command {
	var cleanAll bool
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove abandoned staged files",
		Long: `Remove staged files left behind by crashed or cancelled jobs.

By default only files older than --max-age are removed, which leaves the
uploads of queued and running jobs alone. Use --all to empty the staging
directory regardless of age; avoid it while the daemon is processing jobs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			stagingDir := strings.TrimSpace(cfg.Paths.StagingDir)
			if stagingDir == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "Staging directory not configured")
				return nil
			}

			age := maxAge
			if cleanAll {
				age = 0
			}

			result := staging.CleanStale(cmd.Context(), stagingDir, age, nil)
			return printStagingCleanResult(cmd, result)
		},
	}

	cmd.Flags().BoolVar(&cleanAll, "all", false, "Remove all staged files regardless of age")
	cmd.Flags().DurationVar(&maxAge, "max-age", 24*time.Hour, "Remove files older than this duration")

	return cmd
}

func printStagingCleanResult(cmd *cobra.Command, result staging.CleanResult) error {
	out := cmd.OutOrStdout()
	if len(result.Removed) == 0 && len(result.Errors) == 0 {
		fmt.Fprintln(out, "No staged files to clean")
		return nil
	}
	if len(result.Errors) > 0 {
		fmt.Fprintf(out, "Removed %d staged files, %d errors\n", len(result.Removed), len(result.Errors))
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  Error: %s: %v\n", e.Path, e.Error)
		}
		return nil
	}
	fmt.Fprintf(out, "Removed %d staged files\n", len(result.Removed))
	return nil
}

func formatDuration(d time.Duration) string {
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	days := int(d.Hours() / 24)
	return fmt.Sprintf("%dd", days)
}
