// Package runner locates and executes the external programs a build uses.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when none of the requested programs can be located.
var ErrNotFound = errors.New("program not found")

// Output is the captured result of a finished process.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// OK reports whether the process exited with status zero.
func (o *Output) OK() bool {
	return o.ExitCode == 0
}

// Runner finds and executes programs.
type Runner struct {
	env      []string
	lookPath func(string) (string, error)
}

// Option configures a Runner.
type Option func(*Runner)

// WithEnv sets the environment of executed processes. The default is the
// current process environment.
func WithEnv(env []string) Option {
	return func(r *Runner) {
		r.env = env
	}
}

// WithLookPath replaces PATH lookup.
// Used primarily for testing.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(r *Runner) {
		r.lookPath = fn
	}
}

// New creates a new Runner with the given options.
func New(opts ...Option) *Runner {
	r := &Runner{lookPath: exec.LookPath}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Find returns the first of names that resolves. A name containing a path
// separator must exist as given; bare names are looked up on PATH.
func (r *Runner) Find(names ...string) (string, error) {
	for _, name := range names {
		if name == "" {
			continue
		}
		if strings.ContainsRune(name, filepath.Separator) || strings.ContainsRune(name, '/') {
			if fileExists(name) {
				return name, nil
			}
			continue
		}
		if path, err := r.lookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: tried %s", ErrNotFound, strings.Join(names, ", "))
}

// Run executes argv in dir and waits for it. A non-zero exit status is
// reported through Output.ExitCode; the error is reserved for processes that
// could not be started or were cancelled.
func (r *Runner) Run(ctx context.Context, dir string, argv []string) (*Output, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command line")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	if r.env != nil {
		cmd.Env = r.env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := &Output{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return out, ctx.Err()
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()
	default:
		return out, fmt.Errorf("run %s: %w", argv[0], err)
	}
	return out, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
