// Package log provides structured logging with verbosity levels for ambuild.
// It wraps log/slog and follows kubectl/klog verbosity conventions.
package log

import "log/slog"

// LevelTrace sits below slog's Debug and carries per-task detail.
const LevelTrace = slog.Level(-8)

// Verbosity levels accepted by -v.
const (
	VerbosityError = 0 // failures only
	VerbosityWarn  = 1 // + reconfigure notices, removed outputs
	VerbosityInfo  = 2 // + damage summary, task counts
	VerbosityDebug = 3 // + every task spawned and its argv
	VerbosityTrace = 4 // + node imports, edge changes
)

// VerbosityToLevel maps -v=N to an slog level.
func VerbosityToLevel(v int) slog.Level {
	switch {
	case v <= VerbosityError:
		return slog.LevelError
	case v == VerbosityWarn:
		return slog.LevelWarn
	case v == VerbosityInfo:
		return slog.LevelInfo
	case v == VerbosityDebug:
		return slog.LevelDebug
	default:
		return LevelTrace
	}
}

// LevelToVerbosity maps an slog level back to -v=N.
func LevelToVerbosity(l slog.Level) int {
	switch {
	case l >= slog.LevelError:
		return VerbosityError
	case l >= slog.LevelWarn:
		return VerbosityWarn
	case l >= slog.LevelInfo:
		return VerbosityInfo
	case l >= slog.LevelDebug:
		return VerbosityDebug
	default:
		return VerbosityTrace
	}
}

// LevelName returns the display name for a level, including TRACE.
func LevelName(l slog.Level) string {
	if l <= LevelTrace {
		return "TRACE"
	}
	return l.String()
}
