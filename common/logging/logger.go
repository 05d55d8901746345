// Package logging provides context-aware structured logging for the engine.
package logging

import (
	"context"
	"log/slog"
	"os"

	"github.com/fleetsentry-systems/fleetsentry/common/middleware"
)

// Logger wraps slog.Logger and carries the request ID from the context into
// every record logged through the *Context methods.
type Logger struct {
	*slog.Logger
}

// New creates a Logger at the given level. format selects the handler:
// "text" for development, anything else emits JSON.
func New(level slog.Level, format string) *Logger {
	return &Logger{Logger: slog.New(newHandler(level, format))}
}

func newHandler(level slog.Level, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		// Source locations only when running at error-level verbosity
		AddSource: level <= slog.LevelError,
	}
	if format == "text" {
		return slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.NewJSONHandler(os.Stdout, opts)
}

// Default wraps slog.Default.
func Default() *Logger {
	return &Logger{Logger: slog.Default()}
}

// SetDefault installs l as the process-wide default, for both slog.Default
// and the legacy log package.
func SetDefault(l *Logger) {
	slog.SetDefault(l.Logger)
}

// With returns a logger with the given attributes attached to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithContext returns the underlying slog logger with the request ID
// attached when the context carries one.
func (l *Logger) WithContext(ctx context.Context) *slog.Logger {
	if reqID := middleware.GetRequestID(ctx); reqID != "" {
		return l.Logger.With(slog.String("request_id", reqID))
	}
	return l.Logger
}

// DebugContext logs at Debug level with context fields attached.
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).DebugContext(ctx, msg, args...)
}

// InfoContext logs at Info level with context fields attached.
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).InfoContext(ctx, msg, args...)
}

// WarnContext logs at Warn level with context fields attached.
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).WarnContext(ctx, msg, args...)
}

// ErrorContext logs at Error level with context fields attached.
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).ErrorContext(ctx, msg, args...)
}

// ParseLevel maps a config string ("debug", "info", "warn", "error") to a
// slog.Level, defaulting to Info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
