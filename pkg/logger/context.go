package logger

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// With returns a context whose logger carries fields in addition to the
// ones already attached.
func With(ctx context.Context, fields ...any) context.Context {
	return context.WithValue(ctx, ctxKey{}, From(ctx).With(fields...))
}

// WithActor attaches the signed-in user and the roles they acted with.
func WithActor(ctx context.Context, userID string, roles []string) context.Context {
	return With(ctx, slog.Group("actor", "user_id", userID, "roles", roles))
}

// From returns the logger stored in ctx, or the process logger.
func From(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
			return l
		}
	}
	return LoggerWrapper()
}
