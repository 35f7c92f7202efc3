// Package logging provides structured logging for the ocirt container runtime.
//
// It wraps log/slog with a process-wide default logger, context-scoped
// loggers and a small set of attribute helpers so that every lifecycle
// message carries the same keys (container_id, operation, pid, status).
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Attribute keys shared by every component.
const (
	KeyContainer = "container_id"
	KeyOperation = "operation"
	KeyPID       = "pid"
	KeyStatus    = "status"
	KeyPath      = "path"
)

type ctxKey struct{}

var (
	defaultLogger *slog.Logger
	loggerMu      sync.RWMutex
)

func init() {
	defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// Config holds the logger configuration.
type Config struct {
	// Level is the minimum log level.
	Level slog.Level
	// Format is the output format ("text" or "json").
	Format string
	// Output is the log output destination. Defaults to stderr.
	Output io.Writer
	// AddSource adds source file information to log entries.
	AddSource bool
}

// NewLogger creates a new structured logger with the given configuration.
func NewLogger(cfg Config) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}

	return slog.New(handler)
}

// Setup builds a logger writing to path (stderr when empty), installs it as
// the default and returns a closer for the log file.
func Setup(path, format string, level slog.Level) (io.Closer, error) {
	if format != "" && format != "text" && format != "json" {
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	var out io.WriteCloser = nopCloser{os.Stderr}
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
	}

	SetDefault(NewLogger(Config{Level: level, Format: format, Output: out}))
	return out, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// SetDefault sets the default global logger.
func SetDefault(logger *slog.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	defaultLogger = logger
}

// Default returns the default global logger.
func Default() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return defaultLogger
}

// WithContainer returns a logger scoped to a container.
func WithContainer(logger *slog.Logger, id string) *slog.Logger {
	return logger.With(slog.String(KeyContainer, id))
}

// WithOperation returns a logger scoped to a lifecycle operation.
func WithOperation(logger *slog.Logger, op string) *slog.Logger {
	return logger.With(slog.String(KeyOperation, op))
}

// WithPID returns a logger with process ID context.
func WithPID(logger *slog.Logger, pid int) *slog.Logger {
	return logger.With(slog.Int(KeyPID, pid))
}

// WithPath returns a logger with file path context.
func WithPath(logger *slog.Logger, path string) *slog.Logger {
	return logger.With(slog.String(KeyPath, path))
}

// ContextWithLogger returns a new context with the logger attached.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext retrieves the logger from context, falling back to Default.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
			return logger
		}
	}
	return Default()
}

// ParseLevel parses a log level name.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// Info logs an info message using the default logger.
func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

// Warn logs a warning message using the default logger.
func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

// Error logs an error message using the default logger.
func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}

// Debug logs a debug message using the default logger.
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

// InfoContext logs an info message using the logger from context.
func InfoContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).InfoContext(ctx, msg, args...)
}

// WarnContext logs a warning message using the logger from context.
func WarnContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).WarnContext(ctx, msg, args...)
}

// ErrorContext logs an error message using the logger from context.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).ErrorContext(ctx, msg, args...)
}

// DebugContext logs a debug message using the logger from context.
func DebugContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).DebugContext(ctx, msg, args...)
}
