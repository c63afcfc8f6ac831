package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"hls2mp4/internal/config"
	"hls2mp4/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent downloads from the run journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.History.Enabled {
				return fmt.Errorf("history is disabled; set [history] enabled = true in the configuration")
			}
			path, err := config.ExpandPath(cfg.History.Path)
			if err != nil {
				return fmt.Errorf("resolve history path: %w", err)
			}

			store, err := history.Open(path)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()

			runs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("read history: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded yet.")
				return nil
			}

			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				detail := run.Backend
				if run.Error != "" {
					detail = run.Error
				}
				rows = append(rows, []string{
					run.StartedAt.Local().Format("2006-01-02 15:04"),
					run.Status,
					strconv.Itoa(run.Segments),
					formatBytes(run.Bytes),
					run.Output,
					detail,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Started", "Status", "Segments", "Size", "Output", "Detail"},
				rows, 3, 4))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum number of runs to show")
	return cmd
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
