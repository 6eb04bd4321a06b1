// Package logging builds the process logger: JSON lines to stderr, teed to a
// rotating file when one is configured.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level string
	File  string
	// Stderr defaults to os.Stderr.
	Stderr io.Writer
}

// New returns the logger and a close function for the rotating file.
func New(opts Options) (*slog.Logger, func() error) {
	var out io.Writer = os.Stderr
	if opts.Stderr != nil {
		out = opts.Stderr
	}

	closeFn := func() error { return nil }
	if strings.TrimSpace(opts.File) != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     14,
			Compress:   true,
		}
		out = io.MultiWriter(out, rotator)
		closeFn = rotator.Close
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: ParseLevel(opts.Level)}))
	return logger, closeFn
}

// ParseLevel maps a level name to slog. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
