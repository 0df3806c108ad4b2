package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/albertocavalcante/ambuild/internal/langs"
	"github.com/albertocavalcante/ambuild/internal/log"
)

// DefaultDebounce is used when Config.Debounce is not positive.
const DefaultDebounce = 300 * time.Millisecond

// ErrWatchLimitReached is returned when the OS watch limit is exceeded.
var ErrWatchLimitReached = errors.New("filesystem watch limit reached")

// RebuildFunc brings the build folder up to date.
type RebuildFunc func(ctx context.Context) (BuildResult, error)

// Config configures a Watcher.
type Config struct {
	// SourcePath is the tree to watch; BuildPath is skipped when it lies
	// inside it.
	SourcePath string
	BuildPath  string

	// Kinds limits the files that trigger a rebuild. Empty means any file.
	Kinds []langs.Kind

	// Debounce is the quiet window in milliseconds.
	Debounce int

	// InitialBuild runs Rebuild once before waiting for changes.
	InitialBuild bool

	Rebuild RebuildFunc

	Writer  io.Writer
	Verbose bool
	NoColor bool
	JSON    bool
}

// Watcher rebuilds a build folder whenever its source tree changes.
type Watcher struct {
	config     Config
	fsWatcher  *fsnotify.Watcher
	debouncer  *Debouncer
	logger     *Logger
	extensions map[string]bool
	ignoreDirs map[string]bool
	dirs       int

	// ctx is the context of the running loop, read by rebuilds.
	ctx context.Context

	// buildMu keeps rebuilds from overlapping.
	buildMu sync.Mutex
}

// New returns a watcher for cfg. Paths are made absolute.
func New(cfg Config) (*Watcher, error) {
	if cfg.Rebuild == nil {
		return nil, errors.New("watch: no rebuild function")
	}
	var err error
	if cfg.SourcePath, err = filepath.Abs(cfg.SourcePath); err != nil {
		return nil, err
	}
	if cfg.BuildPath != "" {
		if cfg.BuildPath, err = filepath.Abs(cfg.BuildPath); err != nil {
			return nil, err
		}
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	var extensions map[string]bool
	if len(cfg.Kinds) > 0 {
		extensions = langs.ExtensionSet(cfg.Kinds)
	}

	return &Watcher{
		config:     cfg,
		fsWatcher:  fsWatcher,
		extensions: extensions,
		ignoreDirs: langs.IgnoreDirSet(nil),
		logger: NewLogger(LoggerConfig{
			Writer:  cfg.Writer,
			Verbose: cfg.Verbose,
			NoColor: cfg.NoColor,
			JSON:    cfg.JSON,
		}),
	}, nil
}

// Logger returns the event logger.
func (w *Watcher) Logger() *Logger { return w.logger }

// Run watches until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	w.ctx = ctx
	window := time.Duration(w.config.Debounce) * time.Millisecond
	if window <= 0 {
		window = DefaultDebounce
	}
	w.debouncer = NewDebouncer(window, w.rebuild)
	defer w.debouncer.Stop()

	if err := w.addRecursive(w.config.SourcePath); err != nil {
		return fmt.Errorf("failed to watch source tree: %w", err)
	}
	w.logger.Ready(w.dirs, w.config.SourcePath, w.config.BuildPath)

	if w.config.InitialBuild {
		w.rebuild(nil)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Shutdown()
			return nil

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error(err)
		}
	}
}

// skipDir reports whether a directory stays unwatched.
func (w *Watcher) skipDir(path string) bool {
	if path == w.config.BuildPath {
		return true
	}
	if path == w.config.SourcePath {
		return false
	}
	name := filepath.Base(path)
	for prefix := range w.ignoreDirs {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				if w.config.Verbose {
					w.logger.Error(fmt.Errorf("permission denied: %s", path))
				}
				return nil
			}
			w.logger.Error(fmt.Errorf("walk error at %s: %w", path, err))
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.skipDir(path) {
			return filepath.SkipDir
		}

		if err := w.fsWatcher.Add(path); err != nil {
			if isWatchLimitError(err) {
				return fmt.Errorf("%w at %s: %w\n"+
					"Increase limit with: sudo sysctl fs.inotify.max_user_watches=524288",
					ErrWatchLimitReached, path, err)
			}
			if w.config.Verbose {
				w.logger.Error(fmt.Errorf("failed to watch %s: %w", path, err))
			}
			return nil
		}
		w.dirs++
		return nil
	})
}

func isWatchLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no space left on device") ||
		strings.Contains(msg, "too many open files")
}

// relevant reports whether a change to path can affect the build.
func (w *Watcher) relevant(path string) bool {
	if w.config.BuildPath != "" && isWithin(w.config.BuildPath, path) {
		return false
	}
	if w.extensions == nil {
		return true
	}
	if w.extensions[filepath.Ext(path)] {
		return true
	}
	// Build scripts always matter, whatever the filter.
	return langs.Classify(path) == langs.Script
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if w.skipDir(path) {
				return
			}
			if err := w.addRecursive(path); err != nil {
				w.logger.Error(fmt.Errorf("failed to watch new directory %s: %w", path, err))
			}
			return
		}
	}

	if !w.relevant(path) {
		return
	}

	var change ChangeType
	switch {
	case event.Has(fsnotify.Create):
		change = ChangeAdded
	case event.Has(fsnotify.Write):
		change = ChangeModified
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		change = ChangeDeleted
	default:
		return
	}

	rel, err := filepath.Rel(w.config.SourcePath, path)
	if err != nil {
		rel = path
	}
	w.logger.FileChanged(rel, change)
	w.debouncer.Add(rel)
}

// rebuild runs on the debouncer's goroutine.
func (w *Watcher) rebuild(changed []string) {
	w.buildMu.Lock()
	defer w.buildMu.Unlock()

	ctx := w.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}

	w.logger.Building(changed)
	log.Component("watch").Debug("rebuilding", "changed", changed)

	result, err := w.config.Rebuild(ctx)
	if err != nil {
		w.logger.Error(err)
		return
	}
	w.logger.Built(result)
}

// Close releases the underlying watches.
func (w *Watcher) Close() error {
	if w.fsWatcher != nil {
		return w.fsWatcher.Close()
	}
	return nil
}

func isWithin(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
