package vecbridge

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with bridge-specific context.
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
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithURI adds a database URI field to the logger.
func (l *Logger) WithURI(uri string) *Logger {
	return &Logger{
		Logger: l.Logger.With("uri", uri),
	}
}

// WithTable adds a table name field to the logger.
func (l *Logger) WithTable(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("table", name),
	}
}

// LogConnect logs a connection attempt.
func (l *Logger) LogConnect(ctx context.Context, uri string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "connect failed",
			"uri", uri,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "connected",
			"uri", uri,
		)
	}
}

// LogAdd logs a batch ingestion.
func (l *Logger) LogAdd(ctx context.Context, rows int64, overwrite bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "add failed",
			"rows", rows,
			"overwrite", overwrite,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "add completed",
			"rows", rows,
			"overwrite", overwrite,
		)
	}
}

// LogDelete logs a predicate delete.
func (l *Logger) LogDelete(ctx context.Context, predicate string, deleted int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"predicate", predicate,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"predicate", predicate,
			"deleted", deleted,
		)
	}
}

// LogQuery logs a query execution.
func (l *Logger) LogQuery(ctx context.Context, vector bool, batches int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed",
			"vector", vector,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "query completed",
			"vector", vector,
			"batches", batches,
		)
	}
}

// LogCreateIndex logs an index build.
func (l *Logger) LogCreateIndex(ctx context.Context, column, indexType string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "create index failed",
			"column", column,
			"type", indexType,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "index created",
			"column", column,
			"type", indexType,
		)
	}
}
