package gravel

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with store-specific helpers so operations log
// with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler. A nil handler logs
// text to stderr at info level.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that writes JSON lines to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NewTextLogger creates a Logger that writes human-readable text to
// stderr.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NoopLogger creates a Logger that discards everything.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// LogCommit logs a committed or failed write transaction.
func (l *Logger) LogCommit(ctx context.Context, version uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "commit failed", "error", err)
		return
	}
	l.DebugContext(ctx, "commit published", "version", version)
}

// LogSearch logs a vector or hybrid search.
func (l *Logger) LogSearch(ctx context.Context, collection string, k, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed", "collection", collection, "k", k, "error", err)
		return
	}
	l.DebugContext(ctx, "search completed", "collection", collection, "k", k, "results", results)
}

// LogSnapshot logs a snapshot save.
func (l *Logger) LogSnapshot(ctx context.Context, path string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed", "path", path, "error", err)
		return
	}
	l.InfoContext(ctx, "snapshot saved", "path", path)
}

// LogRecovery logs the outcome of log replay at open.
func (l *Logger) LogRecovery(ctx context.Context, version uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "recovery failed", "error", err)
		return
	}
	l.InfoContext(ctx, "recovery completed", "version", version)
}

// LogArchive logs a snapshot archive upload.
func (l *Logger) LogArchive(ctx context.Context, name string, stores int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "archive failed", "name", name, "stores", stores, "error", err)
		return
	}
	l.InfoContext(ctx, "archive uploaded", "name", name, "stores", stores)
}
