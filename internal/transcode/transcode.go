package transcode

import (
	"context"
	"log/slog"

	"hls2mp4/internal/logging"
	"hls2mp4/internal/services/ffmpeg"
)

// Job describes one conversion of an assembled transport stream into an MP4.
// Bitrates are in kbit/s; zero selects encoder defaults.
type Job struct {
	Input        string
	Output       string
	VideoBitrate int
	AudioBitrate int
}

// Backend converts a transport stream to MP4. Cleanup of a partial output
// after a failed run is the caller's job.
type Backend interface {
	Name() string
	Transcode(ctx context.Context, job Job) error
}

// FFmpegBackend drives the ffmpeg binary, preferring hardware encoders and
// falling back to software when a hardware pass fails.
type FFmpegBackend struct {
	client ffmpeg.Client
	logger *slog.Logger
}

// NewFFmpegBackend wraps client as a Backend.
func NewFFmpegBackend(client ffmpeg.Client, logger *slog.Logger) *FFmpegBackend {
	return &FFmpegBackend{
		client: client,
		logger: logging.WithComponent(logger, "transcode"),
	}
}

func (b *FFmpegBackend) Name() string { return "ffmpeg" }

// Transcode runs one ffmpeg pass with the detected acceleration. A failed
// hardware pass is retried once on the CPU; context cancellation is not.
func (b *FFmpegBackend) Transcode(ctx context.Context, job Job) error {
	accel := b.client.DetectAccel(ctx)
	b.logger.Info("transcoding", logging.String("accel", string(accel)))

	err := b.client.Transcode(ctx, request(job, accel))
	if err == nil || accel == ffmpeg.AccelCPU {
		return err
	}
	if ctx.Err() != nil {
		return err
	}

	b.logger.Warn("hardware transcode failed, retrying on cpu", logging.Error(err))
	return b.client.Transcode(ctx, request(job, ffmpeg.AccelCPU))
}

func request(job Job, accel ffmpeg.Accel) ffmpeg.Request {
	return ffmpeg.Request{
		Input:        job.Input,
		Output:       job.Output,
		VideoBitrate: job.VideoBitrate,
		AudioBitrate: job.AudioBitrate,
		Accel:        accel,
	}
}
