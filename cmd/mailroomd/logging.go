package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/rbaliyan/mailroom/internal/config"
	"github.com/rs/zerolog"
)

// newLoggers returns the process logger (zerolog) and the logger handed to
// library packages (slog, JSON on stderr) at the same level.
func newLoggers(cfg config.LogConfig) (zerolog.Logger, *slog.Logger) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var zl zerolog.Logger
	if cfg.Format == "console" {
		zl = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		zl = zerolog.New(os.Stderr)
	}
	zl = zl.Level(level).With().Timestamp().Str("service", "mailroomd").Logger()

	sl := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel(level)}))
	slog.SetDefault(sl)
	return zl, sl
}

func slogLevel(l zerolog.Level) slog.Level {
	switch {
	case l <= zerolog.DebugLevel:
		return slog.LevelDebug
	case l == zerolog.InfoLevel:
		return slog.LevelInfo
	case l == zerolog.WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
