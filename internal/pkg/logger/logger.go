package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	defaultLogger *slog.Logger
	level         = new(slog.LevelVar)
	once          sync.Once
	mu            sync.Mutex
)

// Initialize sets up the structured logger
func Initialize() {
	once.Do(func() {
		// JSON on stdout unless Configure picks something else
		handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     level,
			AddSource: false,
		})
		mu.Lock()
		defaultLogger = slog.New(handler)
		mu.Unlock()
	})
}

// Configure replaces the output handler. format is "json" or "text".
func Configure(w io.Writer, format string) error {
	Initialize()
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	mu.Lock()
	defaultLogger = slog.New(handler)
	mu.Unlock()
	return nil
}

// SetLevel changes the minimum level of every logger derived from Get.
func SetLevel(name string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	level.Set(l)
	return nil
}

// Get returns the default structured logger
func Get() *slog.Logger {
	Initialize() // Always call Initialize, sync.Once ensures it only runs once
	mu.Lock()
	defer mu.Unlock()
	return defaultLogger
}

// Info logs an info level message
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// InfoContext logs an info level message with context
func InfoContext(ctx context.Context, msg string, args ...any) {
	Get().InfoContext(ctx, msg, args...)
}

// Warn logs a warning level message
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// WarnContext logs a warning level message with context
func WarnContext(ctx context.Context, msg string, args ...any) {
	Get().WarnContext(ctx, msg, args...)
}

// Error logs an error level message
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}

// ErrorContext logs an error level message with context
func ErrorContext(ctx context.Context, msg string, args ...any) {
	Get().ErrorContext(ctx, msg, args...)
}

// Debug logs a debug level message
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// DebugContext logs a debug level message with context
func DebugContext(ctx context.Context, msg string, args ...any) {
	Get().DebugContext(ctx, msg, args...)
}

// With returns a logger with the given attributes
func With(args ...any) *slog.Logger {
	return Get().With(args...)
}

// WithGroup returns a logger with the given group name
func WithGroup(name string) *slog.Logger {
	return Get().WithGroup(name)
}
