// Package logging builds the console's slog loggers. All output is JSON;
// human-facing text goes through the CLI surface, never the log stream.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Options struct {
	// Level accepts debug|info|warn|warning|error; anything else is info.
	Level  string
	Writer io.Writer
	// Component tags every record, so one stderr stream stays greppable
	// when several processes share it.
	Component string
}

var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

func NewLogger(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	lg := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: levelFor(opts.Level)}))
	if c := strings.TrimSpace(opts.Component); c != "" {
		lg = lg.With("component", c)
	}
	return lg
}

func levelFor(name string) slog.Level {
	if lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(name))]; ok {
		return lvl
	}
	return slog.LevelInfo
}
