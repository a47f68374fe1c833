// Package logging provides structured logging configuration using log/slog.
//
// Every update run gets its own run ID; loggers obtained through this package
// carry it so the log lines of one run can be pulled out of a shared sink.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
)

// Application is the name reported in the application attribute.
const Application = "patronupdate"

// Setup configures the global slog logger based on level and format and
// returns it.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
//
// Use "json" format when logs are shipped somewhere for machine parsing.
// Use "text" format for interactive runs.
func Setup(level, format string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler).With(
		"application", Application,
		"machine_name", machineName(),
		"version", Version(),
	)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel converts a string log level to slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Version returns the main module version from the build info, or "unknown".
func Version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "unknown"
	}
	return info.Main.Version
}

func machineName() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

type contextKey string

const ctxKeyRunID contextKey = "run_id"

// WithRun returns a context carrying the run ID.
func WithRun(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ctxKeyRunID, runID)
}

// RunID extracts the run ID from ctx, or "" if none was set.
func RunID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRunID).(string); ok {
		return v
	}
	return ""
}

// FromContext returns the default logger enriched with the run ID in ctx.
//
// Usage:
//
//	ctx = logging.WithRun(ctx, runID)
//	logging.FromContext(ctx).Info("opening csv file", "path", path)
func FromContext(ctx context.Context) *slog.Logger {
	return Enrich(ctx, slog.Default())
}

// Enrich adds the run ID in ctx to logger.
func Enrich(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if runID := RunID(ctx); runID != "" {
		logger = logger.With("run_id", runID)
	}
	return logger
}

// WithFields returns a logger with additional structured fields.
//
// Usage:
//
//	recLogger := logging.WithFields(ctx, "csv_record", seq, "barcode", barcode)
//	recLogger.Debug("updated record")
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
