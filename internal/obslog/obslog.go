// Package obslog is the structured logging facility for code paths that run
// outside a Temporal workflow or activity context: the gRPC server, CLI
// entrypoints, and background reconciliation loops. Code that does run
// inside a Temporal context uses activity.GetLogger(ctx)/workflow.GetLogger(ctx)
// instead, the same way the teacher's activities do, so the two never
// compete for the same log lines.
package obslog

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// New builds a leveled, key-value structured logger writing to stderr. level
// accepts the usual slog names ("debug", "info", "warn", "error") and
// defaults to "info" for anything else, matching config.Config.LogLevel's
// free-form env var semantics.
func New(component string, level string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(level)})
	return slog.New(handler).With("component", component)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type ctxKey struct{}

// WithContext attaches logger to ctx so downstream calls that only have a
// context (no direct dependency on the caller's logger) can still log with
// the caller's component/run fields attached.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger attached by WithContext, or a bare default
// logger if none was attached. Never returns nil.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}
