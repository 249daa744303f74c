// Package logger provides structured logging for the data-access layer
// using Go's standard library log/slog package, plus helpers for carrying
// a logger through a context.Context.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Setup initializes the logging system with a structured JSON handler at the
// given level and sets the result as the default logger. An unknown level is
// an error rather than a silent fallback, since the level always comes from
// validated configuration.
func Setup(level string) (*slog.Logger, error) {
	parsed, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parsed,
	})
	log := slog.New(handler)
	slog.SetDefault(log)
	return log, nil
}

// ParseLevel converts a configuration string into a slog.Level,
// case-insensitively.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", level)
	}
}

// contextKey is a private type for context keys to avoid collisions.
type contextKey struct{}

// loggerKey is the context key under which a logger travels.
var loggerKey = contextKey{}

// WithLogger returns a context carrying the given logger.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, log)
}

// FromContext returns the logger carried by the context, or the default
// logger when the context carries none.
func FromContext(ctx context.Context) *slog.Logger {
	return FromContextOrDefault(ctx, slog.Default())
}

// FromContextOrDefault returns the logger carried by the context, or the
// given fallback when the context carries none. A nil fallback degrades to
// the default logger.
func FromContextOrDefault(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if ctx != nil {
		if log, ok := ctx.Value(loggerKey).(*slog.Logger); ok && log != nil {
			return log
		}
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}
