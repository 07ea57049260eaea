// internal/logging/logger.go

package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// Production uses JSON output for log aggregation, anything else the text handler.
func Init(environment string) *slog.Logger {
	logger := New(os.Stdout, environment)
	slog.SetDefault(logger)
	return logger
}

// New builds a logger writing to w for the given environment
func New(w io.Writer, environment string) *slog.Logger {
	var handler slog.Handler
	if strings.EqualFold(environment, "production") {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}
	return slog.New(handler)
}

// Component returns logger scoped to a named component, falling back to the
// default logger when logger is nil
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", name)
}

// WithSpark returns a logger with spark context fields attached
func WithSpark(logger *slog.Logger, sparkID, user1ID, user2ID string) *slog.Logger {
	return logger.With(
		"spark_id", sparkID,
		"user1_id", user1ID,
		"user2_id", user2ID,
	)
}
