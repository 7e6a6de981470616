// Package logging provides a centralized, structured logger for the task
// execution system using zerolog. It supports context-enriched log entries
// with project and task fields for end-to-end tracing across the
// manager/publisher/worker/migration boundary.
package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type contextKey int

const loggerKey contextKey = 0

// Logger is the package-level default logger. It writes JSON to stdout.
var Logger zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// New returns a zerolog.Logger writing to w at the given level, with
// timestamps. Pass os.Stderr for console-style output or a file for
// persistent log storage.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// WithContext returns a copy of ctx with the logger embedded. Retrieve it
// later with FromContext.
func WithContext(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the logger stored in ctx, or the package-level default
// Logger if none was set.
func FromContext(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return l
	}
	return Logger
}

// WithProject returns a logger with a "project" field pre-set.
func WithProject(l zerolog.Logger, project string) zerolog.Logger {
	return l.With().Str("project", project).Logger()
}

// WithTask returns a logger with "project" and "task_id" fields pre-set.
func WithTask(l zerolog.Logger, project, taskID string) zerolog.Logger {
	return l.With().Str("project", project).Str("task_id", taskID).Logger()
}

// WithWorker returns a logger with a "worker_id" field pre-set.
func WithWorker(l zerolog.Logger, id string) zerolog.Logger {
	return l.With().Str("worker_id", id).Logger()
}
