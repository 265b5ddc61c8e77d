// Package logger builds the process wide slog logger.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

var errNoOptions = errors.New("logger options are required")

// Options configure New.
type Options struct {
	AddSource bool
	Level     string
	// Output defaults to os.Stdout.
	Output io.Writer
	// Text switches from JSON to the human readable handler, used by the CLI.
	Text bool
}

// New builds a logger and installs it as the slog default. An unknown level
// falls back to info and is reported alongside the usable logger.
func New(opt *Options) (*slog.Logger, error) {
	if opt == nil {
		return nil, errNoOptions
	}

	level, err := ParseLevel(opt.Level)

	opts := &slog.HandlerOptions{
		AddSource: opt.AddSource,
		Level:     level,
	}

	out := opt.Output
	if out == nil {
		out = os.Stdout
	}

	var handler slog.Handler = slog.NewJSONHandler(out, opts)
	if opt.Text {
		handler = slog.NewTextHandler(out, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log, err
}

// ParseLevel converts a string level to slog.Level
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %q", level)
	}
}
