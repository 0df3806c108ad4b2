package build

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/albertocavalcante/ambuild/internal/log"
	"github.com/albertocavalcante/ambuild/pkg/nodetypes"
	"github.com/albertocavalcante/ambuild/pkg/task"
)

// handle runs in the goroutine driving the master, so it is the only writer
// to the database while tasks execute.
func (b *Builder) handle(r *task.Result) error {
	if r.Stdout != "" {
		fmt.Fprintf(b.opts.Stdout, "[%d] %s", r.Worker, r.Stdout)
	}
	if r.Stderr != "" && r.Status != task.StatusCrashed {
		fmt.Fprint(b.opts.Stderr, r.Stderr)
	}
	b.opts.Recorder.ObserveTask(string(r.Task.Type), string(r.Status), r.Duration)

	switch r.Status {
	case task.StatusCrashed:
		b.summary.Failed++
		fmt.Fprintf(b.opts.Stderr, "Crashed trying to perform update:\n  : %s\n", r.Task.Format())
		log.Component("build").Debug("task crashed", "error", r.Err, "stack", r.Stderr)
		return nil
	case task.StatusFailed:
		b.summary.Failed++
		log.Component("build").Debug("task failed", "task", r.Task.Format(), "error", r.Err)
		return nil
	}

	b.summary.Ran++
	return b.db.Transaction(func() error {
		cmd := r.Task.Entry
		if cmd.Type == nodetypes.Cxx {
			if err := b.updateDynamicEdges(cmd, r.Deps); err != nil {
				return err
			}
		}
		for _, u := range r.Updates {
			out, err := b.db.QueryPath(u.Path)
			if err != nil {
				return err
			}
			if out == nil {
				return fmt.Errorf("output %s has no node", u.Path)
			}
			if err := b.db.UnmarkDirtyStamp(out, u.Stamp); err != nil {
				return err
			}
		}
		return b.db.UnmarkDirty(cmd)
	})
}

// updateDynamicEdges replaces the discovered inputs of cmd with deps.
// Absolute paths are sources; build-relative paths must be declared outputs.
func (b *Builder) updateDynamicEdges(cmd *nodetypes.Entry, deps []string) error {
	current, err := b.db.QueryDynamicInputs(cmd)
	if err != nil {
		return err
	}

	wanted := make(map[*nodetypes.Entry]bool, len(deps))
	for _, dep := range deps {
		var node *nodetypes.Entry
		if filepath.IsAbs(dep) {
			if node, err = b.db.FindOrAddSource(dep); err != nil {
				return err
			}
			if node.Stamp == 0 && node.Hash == "" {
				// First sighting: record it so the next build does not
				// count it as changed.
				if err := b.db.UnmarkDirty(node); err != nil {
					return err
				}
			}
		} else {
			if node, err = b.db.QueryPath(dep); err != nil {
				return err
			}
			if node == nil || node.Type != nodetypes.Output {
				return fmt.Errorf("%w: %s includes %s", ErrUndeclaredInclude, cmd.Format(), dep)
			}
		}
		wanted[node] = true
		if slices.Contains(current, node) {
			continue
		}
		if err := b.db.AddDynamicEdge(node, cmd); err != nil {
			return err
		}
	}

	for _, in := range current {
		if wanted[in] {
			continue
		}
		if err := b.db.DropDynamicEdge(in, cmd); err != nil {
			return err
		}
		// Forget headers nothing includes any more.
		dropped, err := b.db.DropSourceIfUnused(in)
		if err != nil {
			return err
		}
		if dropped {
			log.Component("build").Debug("dropped unused header", "path", in.Path)
		}
	}
	return nil
}
