// Package logging provides subsystem-tagged logging on top of log/slog.
// Output goes to stderr as text and, when a log file is configured, to that
// file as JSON.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	slogmulti "github.com/samber/slog-multi"
)

var (
	logger atomic.Pointer[slog.Logger]
	level  = new(slog.LevelVar)
)

func init() {
	if os.Getenv("DEBUG") == "true" {
		level.Set(slog.LevelDebug)
	}
	logger.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels;
// anything else is info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// Setup configures the process logger: text to stderr, plus JSON to logFile
// when it is non-empty. DEBUG=true forces debug level. The returned function
// closes the log file.
func Setup(logFile string, lvl slog.Level) (func() error, error) {
	if os.Getenv("DEBUG") == "true" {
		lvl = slog.LevelDebug
	}
	level.Set(lvl)

	stderrHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	if logFile == "" {
		logger.Store(slog.New(stderrHandler))
		return func() error { return nil }, nil
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logger.Store(slog.New(stderrHandler))
		return func() error { return nil }, fmt.Errorf("open log file: %w", err)
	}

	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	logger.Store(slog.New(slogmulti.Fanout(stderrHandler, fileHandler)))
	return file.Close, nil
}

// SetupWithWriters routes logs to custom writers (for testing)
func SetupWithWriters(stderr, file io.Writer, lvl slog.Level) {
	level.Set(lvl)
	stderrHandler := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	logger.Store(slog.New(slogmulti.Fanout(stderrHandler, fileHandler)))
}

// Logger returns the underlying slog logger
func Logger() *slog.Logger {
	return logger.Load()
}

// Info logs an informational message (always shown)
func Info(subsystem, format string, args ...any) {
	logger.Load().Info(fmt.Sprintf(format, args...), "subsystem", subsystem)
}

// Warn logs a recoverable problem
func Warn(subsystem, format string, args ...any) {
	logger.Load().Warn(fmt.Sprintf(format, args...), "subsystem", subsystem)
}

// Debug logs a debug message (only shown at debug level)
func Debug(subsystem, format string, args ...any) {
	l := logger.Load()
	if !l.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	l.Debug(fmt.Sprintf(format, args...), "subsystem", subsystem)
}

// Truncate truncates a string to maxLen and adds ellipsis
func Truncate(s string, maxLen int) string {
	// Replace newlines with spaces for one-line logs
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
