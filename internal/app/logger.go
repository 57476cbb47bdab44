package app

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger returns a configured slog.Logger based on configuration.
func NewLogger(cfg *Config) *slog.Logger {
	format := ""
	if cfg != nil {
		format = cfg.LogFormat
	}
	return NewLoggerTo(os.Stdout, format)
}

// NewLoggerTo builds a text or JSON logger writing to w.
func NewLoggerTo(w io.Writer, format string) *slog.Logger {
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{AddSource: true}))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{AddSource: true}))
}
