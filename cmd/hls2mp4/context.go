package main

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"hls2mp4/internal/config"
	"hls2mp4/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// ensureLogger builds the process logger from configuration. An unset format
// picks console on a terminal and JSON otherwise.
func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}

	var loggerErr error
	c.loggerOnce.Do(func() {
		format := cfg.Logging.Format
		if format == "" {
			format = "json"
			if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
				format = "console"
			}
		}
		logger, buildErr := logging.New(logging.Options{
			Level:  cfg.Logging.Level,
			Format: format,
		})
		if buildErr != nil {
			loggerErr = buildErr
			return
		}
		c.logger = logger
	})
	if loggerErr != nil {
		return nil, loggerErr
	}
	return c.logger, nil
}
