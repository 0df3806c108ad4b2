package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

var (
	logger    atomic.Pointer[slog.Logger]
	level     *slog.LevelVar
	verbosity atomic.Int32
)

func init() {
	level = new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	verbosity.Store(VerbosityWarn)
	logger.Store(slog.New(NewHandler(HandlerOptions{
		Level:   level,
		Format:  "text",
		Output:  os.Stderr,
		Compact: true,
	})))
}

// Init installs the global logger. Call once after flags are parsed.
func Init(v int, format string) {
	InitWithOutput(v, format, os.Stderr)
}

// InitWithOutput is Init with an explicit destination, used by tests and by
// the watch command when it redirects logs away from the event stream.
func InitWithOutput(v int, format string, w io.Writer) {
	SetVerbosity(v)
	l := slog.New(NewHandler(HandlerOptions{
		Level:   level,
		Format:  format,
		Output:  w,
		Compact: v < VerbosityDebug,
	}))
	logger.Store(l)
	slog.SetDefault(l)
}

// SetVerbosity changes verbosity at runtime.
func SetVerbosity(v int) {
	verbosity.Store(int32(v))
	level.Set(VerbosityToLevel(v))
}

// Verbosity returns the current verbosity level.
func Verbosity() int {
	return int(verbosity.Load())
}

// Logger returns the current logger.
func Logger() *slog.Logger {
	return logger.Load()
}

func Error(msg string, args ...any) { logger.Load().Error(msg, args...) }
func Warn(msg string, args ...any)  { logger.Load().Warn(msg, args...) }
func Info(msg string, args ...any)  { logger.Load().Info(msg, args...) }
func Debug(msg string, args ...any) { logger.Load().Debug(msg, args...) }

// Trace logs at LevelTrace (v=4).
func Trace(msg string, args ...any) {
	logger.Load().Log(context.Background(), LevelTrace, msg, args...)
}

// V returns a logger that only emits when verbosity >= v.
// Usage: log.V(3).Info("spawned task", "id", id)
func V(v int) *slog.Logger {
	if int(verbosity.Load()) >= v {
		return logger.Load()
	}
	return slog.New(slog.DiscardHandler)
}

// With returns a logger with additional attributes.
func With(args ...any) *slog.Logger {
	return logger.Load().With(args...)
}

// Component returns a logger tagged with a component name
// (database, damage, taskmaster, watch...).
func Component(name string) *slog.Logger {
	return logger.Load().With("component", name)
}
