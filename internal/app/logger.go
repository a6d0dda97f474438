package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const redacted = "[redacted]"

// NewLogger builds the process logger from LOG_FORMAT and LOG_LEVEL. Any
// string attribute equal to the sync token is redacted.
func NewLogger(cfg *Config) *slog.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	if cfg == nil {
		cfg = &Config{}
	}
	opts := &slog.HandlerOptions{
		Level:     cfg.Level(),
		AddSource: !cfg.IsProduction(),
	}
	if secret := strings.TrimSpace(cfg.SyncToken); secret != "" {
		opts.ReplaceAttr = func(_ []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindString && strings.Contains(a.Value.String(), secret) {
				a.Value = slog.StringValue(strings.ReplaceAll(a.Value.String(), secret, redacted))
			}
			return a
		}
	}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Level parses LOG_LEVEL; anything unparseable means info.
func (c *Config) Level() slog.Level {
	var level slog.Level
	if c == nil || c.LogLevel == "" {
		return slog.LevelInfo
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
