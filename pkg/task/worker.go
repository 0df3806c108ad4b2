package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/albertocavalcante/ambuild/internal/runner"
	"github.com/albertocavalcante/ambuild/pkg/cpp"
	"github.com/albertocavalcante/ambuild/pkg/nodetypes"
	"github.com/albertocavalcante/ambuild/pkg/stamp"
)

// Status is the outcome of one task.
type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusCrashed Status = "crashed"
)

// Update is the stamp of an output written by a task.
type Update struct {
	Path  string
	Stamp stamp.Stamp
}

// Result is what a worker reports after running a task.
type Result struct {
	Task     *Task
	Worker   int
	Status   Status
	Stdout   string
	Stderr   string
	Deps     []string // discovered includes: absolute, or build-relative for outputs
	Updates  []Update
	Duration time.Duration
	Err      error
}

// OK reports whether the task succeeded.
func (r *Result) OK() bool {
	return r.Status == StatusOK
}

// Worker executes tasks inside one build folder.
type Worker struct {
	BuildPath string
	Runner    *runner.Runner
}

// Execute runs t and never panics; a panic is reported as a crashed result.
func (w *Worker) Execute(ctx context.Context, id int, t *Task) (r *Result) {
	start := time.Now()
	r = &Result{Task: t, Worker: id, Status: StatusOK}
	defer func() {
		if p := recover(); p != nil {
			r.Status = StatusCrashed
			r.Err = fmt.Errorf("%v", p)
			r.Stderr = string(debug.Stack())
		}
		r.Duration = time.Since(start)
	}()

	if err := w.removeOutputs(t); err != nil {
		return r.fail(err)
	}

	dir := filepath.Join(w.BuildPath, t.Folder)
	var err error
	switch t.Type {
	case nodetypes.Command:
		err = w.command(ctx, dir, t, r)
	case nodetypes.Cxx:
		err = w.compile(ctx, dir, t, r)
	case nodetypes.Copy:
		err = copyFile(w.sourcePath(t.Data.Source), filepath.Join(dir, t.Data.Dest))
	case nodetypes.Symlink:
		err = os.Symlink(w.sourcePath(t.Data.Source), filepath.Join(dir, t.Data.Dest))
	default:
		err = fmt.Errorf("unknown task type %q", t.Type)
	}
	if err != nil {
		return r.fail(err)
	}
	if !r.OK() {
		return r
	}

	for _, out := range t.Outputs {
		s, err := stamp.Of(filepath.Join(w.BuildPath, out))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return r.fail(fmt.Errorf("command did not produce %s", out))
			}
			return r.fail(err)
		}
		r.Updates = append(r.Updates, Update{Path: out, Stamp: s})
	}
	return r
}

func (r *Result) fail(err error) *Result {
	r.Status = StatusFailed
	r.Err = err
	return r
}

// removeOutputs deletes stale outputs so that a failed command cannot leave
// an old file looking up to date.
func (w *Worker) removeOutputs(t *Task) error {
	for _, out := range t.Outputs {
		if err := os.Remove(filepath.Join(w.BuildPath, out)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove stale output: %w", err)
		}
	}
	return nil
}

func (w *Worker) sourcePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(w.BuildPath, p)
}

func (w *Worker) run(ctx context.Context, dir string, t *Task, r *Result) (*runner.Output, error) {
	if t.Data == nil || len(t.Data.Argv) == 0 {
		return nil, errors.New("command has no argv")
	}
	out, err := w.Runner.Run(ctx, dir, t.Data.Argv)
	if err != nil {
		return nil, err
	}
	r.Stdout = out.Stdout
	r.Stderr = out.Stderr
	if !out.OK() {
		r.Status = StatusFailed
		r.Err = fmt.Errorf("exit status %d", out.ExitCode)
	}
	return out, nil
}

func (w *Worker) command(ctx context.Context, dir string, t *Task, r *Result) error {
	_, err := w.run(ctx, dir, t, r)
	return err
}

func (w *Worker) compile(ctx context.Context, dir string, t *Task, r *Result) error {
	out, err := w.run(ctx, dir, t, r)
	if err != nil {
		return err
	}

	var deps []string
	switch t.Data.Behavior {
	case cpp.MSVC:
		r.Stdout, deps = cpp.ParseMSVCDeps(out.Stdout)
	default:
		r.Stderr, deps = cpp.ParseGCCDeps(out.Stderr)
	}
	if !r.OK() {
		return nil
	}
	for _, dep := range deps {
		r.Deps = append(r.Deps, w.normalizeDep(dir, dep))
	}
	return nil
}

// normalizeDep makes an include path absolute against the working folder,
// then relative to the build folder when it lives inside it.
func (w *Worker) normalizeDep(dir, dep string) string {
	if !filepath.IsAbs(dep) {
		dep = filepath.Join(dir, dep)
	}
	dep = filepath.Clean(dep)
	if rel, err := filepath.Rel(w.BuildPath, dep); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return rel
	}
	return dep
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
