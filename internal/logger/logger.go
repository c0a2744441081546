// Package logger provides structured logging setup using slog.
package logger

import (
	"context"
	"log/slog"
	"os"
)

// eventIDKey is the context key for event/job correlation IDs.
type eventIDKey struct{}

// New creates a new structured JSON logger.
func New() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("LOG_DEBUG") != "" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}

// WithEventID returns a new context carrying the given correlation ID.
func WithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, eventIDKey{}, eventID)
}

// EventIDFromContext extracts the correlation ID from the context.
func EventIDFromContext(ctx context.Context) string {
	if v := ctx.Value(eventIDKey{}); v != nil {
		return v.(string)
	}
	return ""
}

// FromContext returns a logger with context fields attached.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	if id := EventIDFromContext(ctx); id != "" {
		return base.With("event_id", id)
	}
	return base
}
