package watch

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

// ChangeType is the kind of filesystem change that triggered a rebuild.
type ChangeType string

const (
	ChangeAdded    ChangeType = "+"
	ChangeModified ChangeType = "~"
	ChangeDeleted  ChangeType = "-"
)

// BuildResult is what the logger needs to know about a finished rebuild.
type BuildResult struct {
	Ran          int
	Failed       int
	Reconfigured bool
	UpToDate     bool
	Duration     time.Duration
}

// Logger writes watch events for humans or, with JSON set, one object per
// line for tools.
type Logger struct {
	writer  io.Writer
	isTTY   bool
	verbose bool
	noColor bool
	jsonOut bool

	statsMu sync.Mutex
	stats   Stats
}

// Stats counts what happened during a watch session.
type Stats struct {
	Builds    int
	Failures  int
	StartTime time.Time
}

// LoggerConfig configures a Logger.
type LoggerConfig struct {
	Writer  io.Writer
	Verbose bool
	NoColor bool
	JSON    bool
}

// NewLogger returns a logger. Color is only used on terminals.
func NewLogger(cfg LoggerConfig) *Logger {
	writer := cfg.Writer
	if writer == nil {
		writer = os.Stdout
	}

	isTTY := false
	if f, ok := writer.(*os.File); ok {
		isTTY = term.IsTerminal(int(f.Fd()))
	}

	return &Logger{
		writer:  writer,
		isTTY:   isTTY,
		verbose: cfg.Verbose,
		noColor: cfg.NoColor,
		jsonOut: cfg.JSON,
		stats:   Stats{StartTime: time.Now()},
	}
}

// Ready reports that dirs directories of source are watched for build.
func (l *Logger) Ready(dirs int, source, build string) {
	if l.jsonOut {
		l.writeJSON(map[string]any{
			"event":  "ready",
			"dirs":   dirs,
			"source": source,
			"build":  build,
		})
		return
	}
	l.printf("ambuild: watching %d directories in %s\n", dirs, source)
	l.printf("ambuild: build folder %s\n", build)
	l.println("ambuild: ready")
	l.println()
}

// FileChanged reports one change. Humans only see it in verbose mode.
func (l *Logger) FileChanged(path string, change ChangeType) {
	if l.jsonOut {
		l.writeJSON(map[string]any{
			"event":  "file_changed",
			"path":   path,
			"change": string(change),
			"time":   time.Now().Format(time.RFC3339),
		})
		return
	}
	if l.verbose {
		l.printf("[%s] %s %s\n", l.timestamp(), l.colorize(string(change), change), path)
	}
}

// Building reports that a rebuild starts because of changed.
func (l *Logger) Building(changed []string) {
	if l.jsonOut {
		l.writeJSON(map[string]any{
			"event":   "building",
			"changed": changed,
			"time":    time.Now().Format(time.RFC3339),
		})
		return
	}
	switch len(changed) {
	case 0:
		l.printf("[%s] building...\n", l.timestamp())
	case 1:
		l.printf("[%s] %s changed, building...\n", l.timestamp(), changed[0])
	default:
		l.printf("[%s] %d files changed, building...\n", l.timestamp(), len(changed))
	}
}

// Built reports a successful rebuild.
func (l *Logger) Built(r BuildResult) {
	l.statsMu.Lock()
	l.stats.Builds++
	l.statsMu.Unlock()

	if l.jsonOut {
		l.writeJSON(map[string]any{
			"event":        "built",
			"ran":          r.Ran,
			"reconfigured": r.Reconfigured,
			"up_to_date":   r.UpToDate,
			"duration":     r.Duration.String(),
			"time":         time.Now().Format(time.RFC3339),
		})
		return
	}

	check := l.colorize("✓", ChangeAdded)
	switch {
	case r.UpToDate:
		l.printf("[%s] %s up to date\n", l.timestamp(), check)
	case r.Reconfigured:
		l.printf("[%s] %s reconfigured, %d commands in %s\n", l.timestamp(), check, r.Ran, r.Duration.Round(time.Millisecond))
	default:
		l.printf("[%s] %s %d commands in %s\n", l.timestamp(), check, r.Ran, r.Duration.Round(time.Millisecond))
	}
}

// Error reports a failed rebuild or a watcher problem.
func (l *Logger) Error(err error) {
	l.statsMu.Lock()
	l.stats.Failures++
	l.statsMu.Unlock()

	if l.jsonOut {
		l.writeJSON(map[string]any{
			"event": "error",
			"error": err.Error(),
			"time":  time.Now().Format(time.RFC3339),
		})
		return
	}
	xmark := l.colorize("✗", ChangeDeleted)
	l.printf("[%s] %s %v\n", l.timestamp(), xmark, err)
}

// Shutdown prints the session totals.
func (l *Logger) Shutdown() {
	stats := l.Stats()
	if l.jsonOut {
		l.writeJSON(map[string]any{
			"event":    "shutdown",
			"builds":   stats.Builds,
			"failures": stats.Failures,
			"duration": time.Since(stats.StartTime).String(),
		})
		return
	}
	l.println()
	l.printf("ambuild: shutting down (%d builds, %d failures)\n", stats.Builds, stats.Failures)
}

// Stats returns a snapshot of the session counters.
func (l *Logger) Stats() Stats {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	return l.stats
}

func (l *Logger) timestamp() string {
	return time.Now().Format("15:04:05")
}

func (l *Logger) colorize(s string, change ChangeType) string {
	if l.noColor || !l.isTTY {
		return s
	}
	var color string
	switch change {
	case ChangeAdded:
		color = "\033[32m"
	case ChangeModified:
		color = "\033[33m"
	case ChangeDeleted:
		color = "\033[31m"
	default:
		return s
	}
	return color + s + "\033[0m"
}

func (l *Logger) writeJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		l.println(`{"event":"internal_error","error":"json marshal failed"}`)
		return
	}
	l.println(string(data))
}

// Output errors are ignored; the event stream is informational.
func (l *Logger) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(l.writer, format, args...)
}

func (l *Logger) println(args ...any) {
	_, _ = fmt.Fprintln(l.writer, args...)
}
