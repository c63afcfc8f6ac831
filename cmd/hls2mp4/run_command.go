package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"hls2mp4/internal/progress"
	"hls2mp4/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		output       string
		concurrency  int
		retries      int
		videoBitrate int
		audioBitrate int
		keep         bool
	)

	cmd := &cobra.Command{
		Use:   "run <playlist-url>",
		Short: "Download an HLS stream and save it as MP4",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			runner, err := workflow.NewRunner(cfg, logger)
			if err != nil {
				return err
			}
			defer runner.Close()

			emitter := progress.NewEmitter()
			render := make(chan struct{})
			go func() {
				defer close(render)
				renderEvents(cmd.OutOrStdout(), emitter)
			}()

			result, runErr := runner.Run(cmd.Context(), workflow.Request{
				Source:           args[0],
				Output:           output,
				Concurrency:      concurrency,
				Retries:          retries,
				VideoBitrate:     videoBitrate,
				AudioBitrate:     audioBitrate,
				KeepIntermediate: keep,
			}, emitter)
			<-render
			if runErr != nil {
				return runErr
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Saved %s (%d segments, %d bytes, %s backend) in %s\n",
				result.Output, result.Segments, result.Bytes, result.Backend,
				result.Duration.Round(10*time.Millisecond))
			if result.MergedPath != "" {
				fmt.Fprintf(out, "Intermediate stream kept at %s\n", result.MergedPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination MP4 path (required)")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "n", 0, "Simultaneous segment downloads (default from config)")
	cmd.Flags().IntVarP(&retries, "retries", "r", -1, "Retry budget per segment (default from config)")
	cmd.Flags().IntVar(&videoBitrate, "video-bitrate", 0, "Video bitrate in kbit/s (0 = encoder default)")
	cmd.Flags().IntVar(&audioBitrate, "audio-bitrate", 0, "Audio bitrate in kbit/s (0 = 256k)")
	cmd.Flags().BoolVar(&keep, "keep", false, "Keep the intermediate transport stream")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}
