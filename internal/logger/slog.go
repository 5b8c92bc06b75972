package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New creates a text slog.Logger writing to stderr at the given level.
// Unknown levels fall back to INFO.
func New(levelStr string) *slog.Logger {
	return NewWithWriter(os.Stderr, levelStr)
}

// NewWithWriter is New with an explicit destination
func NewWithWriter(w io.Writer, levelStr string) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		AddSource: true,
		Level:     ParseLevel(levelStr),
	})
	return slog.New(handler)
}

// ParseLevel maps DEBUG/INFO/WARN/ERROR, case-insensitively, to a slog.Level
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
