package logger

import (
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a level name (debug, info, warn, error;
// case-insensitive) to its slog.Level. Anything unrecognized falls back to
// info.
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

// Init installs the process-wide logger. Call once at startup. Output goes
// to stderr so stdout stays free for whatever consumes the daemon's output;
// every record carries the app attribute for aggregation alongside other
// services.
func Init(level slog.Level) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler).With(slog.String("app", "readrss")))
}

func Debug(msg string, args ...any) {
	slog.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	slog.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	slog.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	slog.Error(msg, args...)
}
