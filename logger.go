package quiver

import (
	"context"
	"log/slog"
	"os"

	"github.com/quiverdb/quiver/core"
)

// Logger wraps slog.Logger with quiver-specific helpers so store operations
// log with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler. If handler is nil, a
// text handler to stderr at info level is used.
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
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithDomain adds a domain field to the logger.
func (l *Logger) WithDomain(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("domain", name),
	}
}

// LogConcatenate logs a concatenation into a domain.
func (l *Logger) LogConcatenate(ctx context.Context, domain string, start, end core.VectorID, err error) {
	if err != nil {
		l.ErrorContext(ctx, "concatenate failed",
			"domain", domain,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "concatenate completed",
			"domain", domain,
			"start", uint64(start),
			"end", uint64(end),
		)
	}
}

// LogTraining logs the training of a derived representation.
func (l *Logger) LogTraining(ctx context.Context, domain, derived string, width int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "training failed",
			"domain", domain,
			"derived", derived,
			"width", width,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "training completed",
			"domain", domain,
			"derived", derived,
			"width", width,
		)
	}
}
