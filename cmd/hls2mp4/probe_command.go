package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"hls2mp4/internal/deps"
)

func newProbeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check external tool availability and hardware acceleration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			status := deps.CheckFFmpeg(cmd.Context(), cfg.Transcode.FFmpegBinary)
			rows := [][]string{{
				status.Name,
				status.Command,
				availability(status.Available, status.Optional),
				status.Detail,
			}}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Tool", "Command", "Status", "Detail"}, rows))
			if !status.Available {
				fmt.Fprintln(out, "No ffmpeg found; downloads require a host-registered transcoder.")
			}
			return nil
		},
	}
}

func availability(available, optional bool) string {
	switch {
	case available:
		return "available"
	case optional:
		return "missing (optional)"
	default:
		return "missing"
	}
}
