package logger

import (
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/vulnimpact/internal/config"
)

// NewLogger returns the named root logger of a command. Components receive
// children of it, so one process never shares mutable logging state.
func NewLogger(cfg *config.Config, name string) hclog.Logger {
	return newLogger(cfg, name, os.Stdout)
}

func newLogger(cfg *config.Config, name string, out io.Writer) hclog.Logger {
	level, raw, known := resolveLevel(cfg)
	l := hclog.New(&hclog.LoggerOptions{
		Name:            name,
		Level:           level,
		Output:          out,
		DisableTime:     config.GetBoolValue(cfg, "Logger.DisableTime", true),
		JSONFormat:      config.GetBoolValue(cfg, "Logger.JSONFormat", false),
		IncludeLocation: config.GetBoolValue(cfg, "Logger.IncludeLocation", false),
	})
	if !known {
		l.Warn("unrecognized log level, using INFO", "level", raw)
	}
	return l
}

// resolveLevel prefers VULNIMPACT_LOG_LEVEL over logger.level. The returned
// flag is false when a level was given but hclog does not know it.
func resolveLevel(cfg *config.Config) (hclog.Level, string, bool) {
	raw := os.Getenv(config.EnvLogLevel)
	if raw == "" && cfg != nil {
		raw = cfg.Logger.Level
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return hclog.Info, raw, true
	}

	switch level := hclog.LevelFromString(raw); level {
	case hclog.NoLevel, hclog.Off:
		return hclog.Info, raw, false
	default:
		return level, raw, true
	}
}
