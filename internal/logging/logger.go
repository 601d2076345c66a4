// Package logging defines the context-aware structured logger used across the
// gateway together with its log/slog implementation.
package logging

import "context"

// Logger is what every gateway component logs through. args alternate
// keys and values:
//
//	log.Info(ctx, "forwarding stage", "stage", "parse", "user_id", id)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger carrying args on every record.
	With(args ...any) Logger
}
