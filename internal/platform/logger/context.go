package logger

import (
	"context"
	"log/slog"
)

// contextKey is an unexported type for context keys defined in this package,
// preventing collisions with keys defined elsewhere.
type contextKey struct{}

// WithLogger returns a new context carrying the provided logger.
// Components lower in the call chain retrieve it with FromContext, so
// request- or worker-scoped attributes travel with the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger stored in ctx, or the default logger
// when none is present.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
