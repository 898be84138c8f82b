package vecbuf

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with vecbuf-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// WithIndex tags every record with the index name and remote host.
func (l *Logger) WithIndex(name, host string) *Logger {
	return &Logger{Logger: l.Logger.With("index", name, "host", host)}
}

// WithComponent adds a component field, used for subpackage loggers.
func (l *Logger) WithComponent(name string) *slog.Logger {
	return l.Logger.With("component", name)
}

// LogInsert logs a buffered insert.
func (l *Logger) LogInsert(ctx context.Context, tid string, checkpoint bool, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "insert failed", "tid", tid, "error", err)
	case checkpoint:
		l.DebugContext(ctx, "insert closed checkpoint", "tid", tid)
	}
}

// LogSearch logs a search.
func (l *Logger) LogSearch(ctx context.Context, k, results int, degraded bool, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "search failed", "k", k, "error", err)
	case degraded:
		l.WarnContext(ctx, "search answered from buffer only", "k", k, "results", results)
	default:
		l.DebugContext(ctx, "search completed", "k", k, "results", results)
	}
}

// LogBuild logs the initial bulk upload of base records.
func (l *Logger) LogBuild(ctx context.Context, uploaded, skipped int, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "build failed", "uploaded", uploaded, "error", err)
		return
	}
	l.InfoContext(ctx, "build completed", "uploaded", uploaded, "skipped", skipped, "duration", d)
}
