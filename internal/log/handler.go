package log

import (
	"io"
	"log/slog"
	"os"
)

// HandlerOptions configures the diagnostic handler.
type HandlerOptions struct {
	Level  slog.Leveler
	Format string // "text" or "json"
	Output io.Writer

	// Compact drops timestamps from text records so diagnostics read like
	// the command output they interleave with.
	Compact   bool
	AddSource bool
}

// NewHandler returns a text or JSON handler. Output defaults to stderr;
// stdout carries command output.
func NewHandler(opts HandlerOptions) slog.Handler {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}

	json := opts.Format == "json"
	handlerOpts := &slog.HandlerOptions{
		Level:       opts.Level,
		AddSource:   opts.AddSource,
		ReplaceAttr: replaceAttr(opts.Compact && !json),
	}
	if json {
		return slog.NewJSONHandler(opts.Output, handlerOpts)
	}
	return slog.NewTextHandler(opts.Output, handlerOpts)
}

func replaceAttr(dropTime bool) func([]string, slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) > 0 {
			return a
		}
		switch a.Key {
		case slog.TimeKey:
			if dropTime {
				return slog.Attr{}
			}
		case slog.LevelKey:
			if level, ok := a.Value.Any().(slog.Level); ok {
				a.Value = slog.StringValue(LevelName(level))
			}
		}
		return a
	}
}
