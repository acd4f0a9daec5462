package app

import (
	"log/slog"
	"os"
)

// NewLogger returns the application logger. Production runs at Info level;
// everywhere else Debug is enabled and source locations are attached for
// local debugging. LOG_FORMAT=json switches to the JSON handler.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
	}
	if cfg.IsProduction() {
		opts.Level = slog.LevelInfo
		opts.AddSource = false
	}
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
