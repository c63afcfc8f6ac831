package config

import (
	"fmt"
	"strings"
)

// Validate checks configuration values and reports every violation at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	return cfg.Validate()
}

// Validate checks the receiver and reports every violation at once.
func (c *Config) Validate() error {
	var issues []string

	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		issues = append(issues, "paths.staging_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		issues = append(issues, "paths.log_dir must not be empty")
	}
	if c.HTTP.RequestTimeout <= 0 {
		issues = append(issues, "http.request_timeout must be positive")
	}
	if c.Download.Concurrency < 1 || c.Download.Concurrency > MaxConcurrency {
		issues = append(issues, fmt.Sprintf("download.concurrency must be between 1 and %d", MaxConcurrency))
	}
	if c.Download.Retries < 0 || c.Download.Retries > MaxRetries {
		issues = append(issues, fmt.Sprintf("download.retries must be between 0 and %d", MaxRetries))
	}
	if c.Download.RetryDelayMS < 0 {
		issues = append(issues, "download.retry_delay_ms must not be negative")
	}
	if c.Transcode.VideoBitrate < 0 {
		issues = append(issues, "transcode.video_bitrate must not be negative (0 = auto)")
	}
	if c.Transcode.AudioBitrate < 0 {
		issues = append(issues, "transcode.audio_bitrate must not be negative (0 = auto)")
	}
	if strings.TrimSpace(c.Transcode.FFmpegBinary) == "" {
		issues = append(issues, "transcode.ffmpeg_binary must not be empty")
	}
	if c.History.Enabled && strings.TrimSpace(c.History.Path) == "" {
		issues = append(issues, "history.path must not be empty when history is enabled")
	}
	if c.Notifications.NtfyTopic != "" && c.Notifications.RequestTimeout <= 0 {
		issues = append(issues, "notifications.request_timeout must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		issues = append(issues, fmt.Sprintf("logging.format %q is not supported (console, json)", c.Logging.Format))
	}

	if len(issues) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(issues, "; "))
	}
	return nil
}
