package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Log categories used across the worker.
const (
	CategoryOCR         = "OCR"
	CategoryTranslation = "Translation"
	CategoryImage       = "Image"
	CategorySystem      = "System"
	CategoryQueue       = "Queue"
	CategoryAPI         = "API"
	CategoryStorage     = "Storage"
)

// Logger provides structured logging for the worker. The prefix is
// emitted as the record's category.
type Logger struct {
	prefix string
}

// NewLogger creates a new logger with a prefix
func NewLogger(prefix string) *Logger {
	return &Logger{prefix: prefix}
}

// Info logs an informational message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.logWithKV(slog.LevelInfo, msg, keysAndValues...)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.logWithKV(slog.LevelWarn, msg, keysAndValues...)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.logWithKV(slog.LevelError, msg, keysAndValues...)
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.logWithKV(slog.LevelDebug, msg, keysAndValues...)
}

// Slog returns a *slog.Logger bound to this logger's category, for
// libraries that take one directly.
func (l *Logger) Slog() *slog.Logger {
	return slog.Default().With(CategoryKey, l.prefix)
}

func (l *Logger) logWithKV(level slog.Level, msg string, keysAndValues ...interface{}) {
	// slog.Default is resolved per call so loggers created at package
	// init still pick up the handler installed by Setup.
	args := make([]any, 0, len(keysAndValues)+2)
	args = append(args, CategoryKey, l.prefix)
	// Drop a trailing key without a value, matching the old k=v formatter.
	if len(keysAndValues)%2 != 0 {
		keysAndValues = keysAndValues[:len(keysAndValues)-1]
	}
	args = append(args, keysAndValues...)
	slog.Default().Log(context.Background(), level, msg, args...)
}

// Setup installs the process-wide slog handler and returns the in-memory
// log buffer that records every entry passing the level filter.
func Setup(level, format string, bufferSize int) *Buffer {
	return SetupWriter(os.Stdout, level, format, bufferSize)
}

// SetupWriter is Setup with an explicit output.
func SetupWriter(w io.Writer, level, format string, bufferSize int) *Buffer {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	buf := NewBuffer(bufferSize)
	slog.SetDefault(slog.New(buf.Handler(handler)))
	return buf
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
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
