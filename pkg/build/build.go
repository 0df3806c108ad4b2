package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/albertocavalcante/ambuild/internal/log"
	"github.com/albertocavalcante/ambuild/internal/runner"
	"github.com/albertocavalcante/ambuild/pkg/cpp"
	"github.com/albertocavalcante/ambuild/pkg/damage"
	"github.com/albertocavalcante/ambuild/pkg/database"
	"github.com/albertocavalcante/ambuild/pkg/graph"
	"github.com/albertocavalcante/ambuild/pkg/metrics"
	"github.com/albertocavalcante/ambuild/pkg/task"
)

var (
	// ErrBuildFailed is returned when any task failed or crashed.
	ErrBuildFailed = errors.New("build failed")

	// ErrUndeclaredInclude is returned when a compile reads a file inside
	// the build folder that no command declares as an output.
	ErrUndeclaredInclude = errors.New("undeclared generated include")
)

// Options controls a build.
type Options struct {
	BuildPath string

	// Jobs is the worker count; 0 picks one from the CPU count.
	Jobs int

	// Refactor fails the build if any command would run.
	Refactor bool

	// Stdout receives command output prefixed by the worker id; Stderr
	// receives command diagnostics verbatim.
	Stdout io.Writer
	Stderr io.Writer

	Recorder metrics.Recorder

	// Runner executes commands; Finder and Getenv are used if the build
	// has to reconfigure. All default to the real environment.
	Runner *runner.Runner
	Finder cpp.Finder
	Getenv func(string) string
}

// Summary describes a finished build.
type Summary struct {
	Reconfigured bool
	Damage       *damage.Report
	Ran          int
	Failed       int
	Duration     time.Duration
}

// Builder brings one build folder up to date.
type Builder struct {
	opts Options
	db   *database.Database

	summary *Summary
}

// New returns a Builder. Missing options get their defaults.
func New(opts Options) *Builder {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	if opts.Runner == nil {
		opts.Runner = runner.New()
	}
	if opts.Finder == nil {
		opts.Finder = opts.Runner
	}
	return &Builder{opts: opts}
}

// Build reconfigures if a build script changed, computes damage and runs
// every dirty command. A failed task yields ErrBuildFailed.
func (b *Builder) Build(ctx context.Context) (*Summary, error) {
	start := time.Now()
	summary, err := b.build(ctx)
	if summary != nil {
		summary.Duration = time.Since(start)
	}
	b.opts.Recorder.ObserveBuildDuration(time.Since(start))

	switch {
	case err == nil && summary.Damage.IsEmpty():
		b.opts.Recorder.IncBuildOutcome(metrics.OutcomeUpToDate)
	case err == nil:
		b.opts.Recorder.IncBuildOutcome(metrics.OutcomeSuccess)
	case errors.Is(err, context.Canceled):
		b.opts.Recorder.IncBuildOutcome(metrics.OutcomeCanceled)
	default:
		b.opts.Recorder.IncBuildOutcome(metrics.OutcomeFailed)
	}
	return summary, err
}

func (b *Builder) build(ctx context.Context) (*Summary, error) {
	logger := log.Component("build")
	buildPath, err := filepath.Abs(b.opts.BuildPath)
	if err != nil {
		return nil, err
	}
	vars, err := graph.LoadVars(buildPath)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(graph.DatabasePath(buildPath), buildPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()
	b.db = db
	b.summary = &Summary{}

	stale, err := needsReconfigure(db)
	if err != nil {
		return nil, err
	}
	if stale {
		logger.Info("build scripts changed; reconfiguring")
		_, err := configure(db, ConfigureOptions{
			SourcePath: vars.SourcePath,
			BuildPath:  buildPath,
			CC:         vars.CC,
			CXX:        vars.CXX,
			Arch:       vars.Arch,
			Refactor:   b.opts.Refactor,
			Finder:     b.opts.Finder,
			Getenv:     b.opts.Getenv,
		})
		if err != nil {
			return nil, fmt.Errorf("reconfigure: %w", err)
		}
		b.summary.Reconfigured = true
	}

	if err := createFolders(db); err != nil {
		return nil, err
	}

	report, err := damage.Compute(ctx, db)
	if err != nil {
		return nil, err
	}
	b.summary.Damage = report
	b.opts.Recorder.SetDamage(report.TotalChanges(), len(report.Commands))
	if report.IsEmpty() {
		logger.Info("build folder is up to date")
		return b.summary, report.Persist(db)
	}

	if b.opts.Refactor {
		lines := make([]string, 0, len(report.Commands))
		for _, c := range report.Commands {
			lines = append(lines, c.Command)
		}
		return b.summary, fmt.Errorf("%w: %d commands would run:\n  %s",
			database.ErrRefactoring, len(lines), strings.Join(lines, "\n  "))
	}

	if err := report.Persist(db); err != nil {
		return nil, err
	}

	tasks, err := task.NewGraph(db, report.DirtyCommands())
	if err != nil {
		return nil, err
	}
	master := &task.Master{
		Graph:  tasks,
		Worker: &task.Worker{BuildPath: buildPath, Runner: b.opts.Runner},
		Jobs:   b.opts.Jobs,
	}
	logger.Info("running tasks", "count", tasks.Len())
	if err := master.Run(ctx, b.handle); err != nil {
		if errors.Is(err, task.ErrTaskFailed) {
			return b.summary, fmt.Errorf("%w: %w", ErrBuildFailed, err)
		}
		return b.summary, err
	}
	return b.summary, nil
}

func createFolders(db *database.Database) error {
	folders, err := db.QueryMkdir()
	if err != nil {
		return err
	}
	for _, f := range folders {
		if err := os.MkdirAll(db.FilePath(f), 0o755); err != nil {
			return fmt.Errorf("create folder %s: %w", f.Path, err)
		}
	}
	return nil
}
