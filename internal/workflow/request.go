package workflow

import (
	"fmt"
	"strings"
	"time"

	"hls2mp4/internal/config"
	"hls2mp4/internal/services"
)

// Request describes one download. Concurrency zero and Retries below zero
// inherit the configured defaults; Retries zero disables retries.
type Request struct {
	Source           string
	Output           string
	Concurrency      int
	Retries          int
	VideoBitrate     int
	AudioBitrate     int
	KeepIntermediate bool
}

func (r *Request) normalize(cfg *config.Config) error {
	r.Source = strings.TrimSpace(r.Source)
	r.Output = strings.TrimSpace(r.Output)
	if r.Source == "" {
		return services.Wrap(services.ErrConfiguration, "workflow", "request", "source playlist required", nil)
	}
	if r.Output == "" {
		return services.Wrap(services.ErrConfiguration, "workflow", "request", "output path required", nil)
	}
	if r.VideoBitrate < 0 {
		return services.Wrap(services.ErrConfiguration, "workflow", "request",
			fmt.Sprintf("video bitrate %d is negative", r.VideoBitrate), nil)
	}
	if r.AudioBitrate < 0 {
		return services.Wrap(services.ErrConfiguration, "workflow", "request",
			fmt.Sprintf("audio bitrate %d is negative", r.AudioBitrate), nil)
	}
	if r.Concurrency == 0 {
		r.Concurrency = cfg.Download.Concurrency
	}
	if r.Retries < 0 {
		r.Retries = cfg.Download.Retries
	}
	if !r.KeepIntermediate {
		r.KeepIntermediate = cfg.Download.KeepIntermediate
	}
	return nil
}

// retryDelay returns the configured flat delay between retry attempts.
func retryDelay(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Download.RetryDelayMS) * time.Millisecond
}
