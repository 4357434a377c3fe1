package logger

import (
	"log/slog"
)

func newStdHandler(cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     cfg.level(),
		AddSource: cfg.AddSource,
	}
	// в dev читаем глазами, в остальных средах: JSON
	if cfg.Env == EnvDev {
		return slog.NewTextHandler(cfg.Output, opts)
	}
	return slog.NewJSONHandler(cfg.Output, opts)
}
