package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"hls2mp4/internal/services"
)

var commandContext = exec.CommandContext

// Accel identifies the hardware acceleration path a transcode will use.
type Accel string

const (
	AccelNVIDIA Accel = "nvidia"
	AccelAMD    Accel = "amd"
	AccelCPU    Accel = "cpu"
)

// Request describes one transcode invocation. Bitrates are in kbit/s; zero
// means encoder default for video and 256 kbit/s for audio.
type Request struct {
	Input        string
	Output       string
	VideoBitrate int
	AudioBitrate int
	Accel        Accel
}

// Client defines ffmpeg behaviour for probing and transcoding.
type Client interface {
	Available(ctx context.Context) bool
	DetectAccel(ctx context.Context) Accel
	Transcode(ctx context.Context, req Request) error
}

// Option configures the CLI client.
type Option func(*CLI)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// CLI wraps the ffmpeg command-line tool.
type CLI struct {
	binary string
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{binary: "ffmpeg"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// Binary returns the configured ffmpeg binary name.
func (c *CLI) Binary() string {
	return c.binary
}

// Available reports whether the binary runs at all.
func (c *CLI) Available(ctx context.Context) bool {
	return commandContext(ctx, c.binary, "-version").Run() == nil //nolint:gosec
}

// Encoders returns the raw encoder listing used for acceleration probing.
func (c *CLI) Encoders(ctx context.Context) (string, error) {
	output, err := commandContext(ctx, c.binary, "-hide_banner", "-encoders").CombinedOutput() //nolint:gosec
	if err != nil {
		return "", fmt.Errorf("list encoders: %w", err)
	}
	return string(output), nil
}

// DetectAccel picks the best available acceleration path. NVIDIA NVENC wins
// over AMD AMF; anything else falls back to libx264 on the CPU.
func (c *CLI) DetectAccel(ctx context.Context) Accel {
	encoders, err := c.Encoders(ctx)
	if err != nil {
		return AccelCPU
	}
	switch {
	case strings.Contains(encoders, "h264_nvenc"):
		return AccelNVIDIA
	case strings.Contains(encoders, "h264_amf"):
		return AccelAMD
	default:
		return AccelCPU
	}
}

// Transcode runs one ffmpeg pass converting the assembled transport stream
// into an MP4. Failures carry the tail of ffmpeg's stderr.
func (c *CLI) Transcode(ctx context.Context, req Request) error {
	if req.Input == "" {
		return services.Wrap(services.ErrTranscode, "transcode", "ffmpeg", "input path required", nil)
	}
	if req.Output == "" {
		return services.Wrap(services.ErrTranscode, "transcode", "ffmpeg", "output path required", nil)
	}

	args := buildArgs(req)
	cmd := commandContext(ctx, c.binary, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := fmt.Sprintf("encoder %s", accelEncoder(req.Accel))
		if tail := stderrTail(stderr.String(), 6); tail != "" {
			detail = fmt.Sprintf("%s: %s", detail, tail)
		}
		return services.Wrap(services.ErrTranscode, "transcode", "ffmpeg", detail, err)
	}
	return nil
}

func buildArgs(req Request) []string {
	args := []string{"-hide_banner", "-y"}

	if req.Accel == AccelNVIDIA {
		args = append(args, "-hwaccel", "cuda", "-hwaccel_output_format", "cuda", "-c:v", "h264_cuvid")
	}
	args = append(args, "-i", req.Input)

	switch req.Accel {
	case AccelNVIDIA:
		args = append(args, "-c:v", "h264_nvenc", "-preset", "p3", "-rc", "vbr")
	case AccelAMD:
		args = append(args, "-c:v", "h264_amf", "-rc", "vbr")
	default:
		args = append(args, "-c:v", "libx264", "-preset", "medium")
	}
	if req.VideoBitrate > 0 {
		args = append(args, "-b:v", fmt.Sprintf("%dk", req.VideoBitrate))
	}

	args = append(args, "-c:a", "aac")
	if req.AudioBitrate > 0 {
		args = append(args, "-b:a", fmt.Sprintf("%dk", req.AudioBitrate))
	} else {
		args = append(args, "-b:a", "256k")
	}

	return append(args, req.Output)
}

func accelEncoder(accel Accel) string {
	switch accel {
	case AccelNVIDIA:
		return "h264_nvenc"
	case AccelAMD:
		return "h264_amf"
	default:
		return "libx264"
	}
}

func stderrTail(output string, lines int) string {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return ""
	}
	all := strings.Split(trimmed, "\n")
	if len(all) > lines {
		all = all[len(all)-lines:]
	}
	return strings.Join(all, " | ")
}

var _ Client = (*CLI)(nil)
