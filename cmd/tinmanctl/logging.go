package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"

	"tinman/internal/config"
)

// newLogger writes to stderr. The auto format is text on a terminal and JSON
// everywhere else.
func newLogger(s config.LogSettings) *slog.Logger {
	return buildLogger(os.Stderr, s, isTerminal(os.Stderr))
}

func buildLogger(w io.Writer, s config.LogSettings, terminal bool) *slog.Logger {
	level, err := config.ParseLevel(s.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	format := s.Format
	if format == config.FormatAuto || format == "" {
		format = config.FormatJSON
		if terminal {
			format = config.FormatText
		}
	}
	if format == config.FormatText {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
