package transcode

import (
	"context"
	"log/slog"

	"hls2mp4/internal/logging"
	"hls2mp4/internal/services"
	"hls2mp4/internal/services/ffmpeg"
)

// Select resolves the backend for one run: ffmpeg when the binary works,
// otherwise the first host-registered transcoder. The choice is made once
// per run and does not change mid-run.
func Select(ctx context.Context, client ffmpeg.Client, logger *slog.Logger) (Backend, error) {
	log := logging.WithComponent(logger, "transcode")

	if client != nil && client.Available(ctx) {
		return NewFFmpegBackend(client, logger), nil
	}

	if entry, ok := firstHost(); ok {
		log.Info("ffmpeg unavailable, using host transcoder", logging.String("backend", entry.name))
		return &HostBackend{name: entry.name, fn: entry.fn}, nil
	}

	return nil, services.Wrap(services.ErrTranscode, "transcode", "select",
		"no ffmpeg binary and no host transcoder registered", nil)
}
