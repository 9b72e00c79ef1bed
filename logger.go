package kvingest

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/kvingest/bulk"
)

// Logger wraps slog.Logger with kvingest-specific fields.
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
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithOperator adds the merge operator name.
func (l *Logger) WithOperator(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("operator", name),
	}
}

// WithKind adds the ingestion path (set, blob, blobmap, index, log).
func (l *Logger) WithKind(kind string) *Logger {
	return &Logger{
		Logger: l.Logger.With("kind", kind),
	}
}

// WithCount adds a count field to the logger.
func (l *Logger) WithCount(count int) *Logger {
	return &Logger{
		Logger: l.Logger.With("count", count),
	}
}

// LogBuild logs the outcome of building bulk-load files from a buffer.
func (l *Logger) LogBuild(ctx context.Context, kind string, files []bulk.FileMeta, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "build failed",
			"kind", kind,
			"duration", duration,
			"error", err,
		)
		return
	}
	var entries uint64
	for _, f := range files {
		entries += f.Entries()
	}
	l.InfoContext(ctx, "build completed",
		"kind", kind,
		"files", len(files),
		"entries", entries,
		"duration", duration,
	)
}

// LogFile logs a finished bulk-load file.
func (l *Logger) LogFile(ctx context.Context, meta bulk.FileMeta) {
	l.DebugContext(ctx, "file finished",
		"path", meta.Path,
		"size", meta.Size,
		"puts", meta.Puts,
		"merges", meta.Merges,
		"deletes", meta.Deletes,
	)
}

// LogPublish logs a publish operation.
func (l *Logger) LogPublish(ctx context.Context, version uint64, files int, bytes int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "publish failed",
			"files", files,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "publish completed",
		"manifest", version,
		"files", files,
		"bytes", bytes,
	)
}
