package config

const (
	defaultStagingDir     = "~/.cache/hls2mp4/staging"
	defaultLogDir         = "~/.local/share/hls2mp4/logs"
	defaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	defaultRequestTimeout = 30
	defaultConcurrency    = 8
	defaultRetries        = 3
	defaultRetryDelayMS   = 2000
	defaultFFmpegBinary   = "ffmpeg"
	defaultLogLevel       = "info"
	defaultHistoryPath    = "~/.local/share/hls2mp4/history.db"
	defaultNtfyTimeout    = 10

	// MaxConcurrency bounds simultaneously in-flight segment fetches.
	MaxConcurrency = 64
	// MaxRetries bounds the per-segment retry budget.
	MaxRetries = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
		},
		HTTP: HTTP{
			UserAgent:      defaultUserAgent,
			RequestTimeout: defaultRequestTimeout,
		},
		Download: Download{
			Concurrency:  defaultConcurrency,
			Retries:      defaultRetries,
			RetryDelayMS: defaultRetryDelayMS,
		},
		Transcode: Transcode{
			FFmpegBinary: defaultFFmpegBinary,
		},
		Logging: Logging{
			Level: defaultLogLevel,
		},
		History: History{
			Path: defaultHistoryPath,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeout,
		},
	}
}
