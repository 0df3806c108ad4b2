// Package damage works out which commands must run again by comparing the
// file nodes of the graph database against the filesystem.
package damage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"slices"

	"github.com/albertocavalcante/ambuild/internal/log"
	"github.com/albertocavalcante/ambuild/pkg/database"
	"github.com/albertocavalcante/ambuild/pkg/nodetypes"
	"github.com/albertocavalcante/ambuild/pkg/stamp"
)

// ErrSourceMissing is returned when a source that a command reads directly
// no longer exists. Reconfiguring is the only fix.
var ErrSourceMissing = errors.New("source file is missing")

// Command is one dirty command in a Report.
type Command struct {
	ID      int64  `json:"id"`
	Type    string `json:"type"`
	Command string `json:"command"`
}

// Report is the damage found in one build folder.
type Report struct {
	Modified []string  `json:"modified"`
	Missing  []string  `json:"missing"`
	Commands []Command `json:"commands"`

	dirty   []*nodetypes.Entry
	files   []*nodetypes.Entry
	unused  []*nodetypes.Entry
	refresh []refresh
}

type refresh struct {
	entry *nodetypes.Entry
	stamp stamp.Stamp
}

func newReport() *Report {
	return &Report{
		Modified: []string{},
		Missing:  []string{},
		Commands: []Command{},
	}
}

// IsEmpty returns true if no command needs to run.
func (r *Report) IsEmpty() bool {
	if r == nil {
		return true
	}
	return len(r.Commands) == 0
}

// TotalChanges returns the number of changed or missing files.
func (r *Report) TotalChanges() int {
	if r == nil {
		return 0
	}
	return len(r.Modified) + len(r.Missing)
}

// DirtyCommands returns the affected command entries ordered by id.
func (r *Report) DirtyCommands() []*nodetypes.Entry {
	if r == nil {
		return nil
	}
	return r.dirty
}

// Compute inspects db without modifying it. Nodes already marked dirty are
// damaged; clean sources and outputs are damaged when their content changed.
// Damage flows from a node to everything that consumes it, and from a damaged
// output back to the command producing it.
func Compute(ctx context.Context, db *database.Database) (*Report, error) {
	logger := log.Component("damage")
	r := newReport()

	known, err := db.QueryKnownDirty()
	if err != nil {
		return nil, err
	}
	roots := slices.Clone(known)
	for _, e := range known {
		if e.Type.IsFile() {
			r.files = append(r.files, e)
		}
	}

	maybe, err := db.QueryMaybeDirty()
	if err != nil {
		return nil, err
	}
	for _, e := range maybe {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		damaged, err := r.check(db, e)
		if err != nil {
			return nil, err
		}
		if !damaged {
			continue
		}
		roots = append(roots, e)
		if e.Type == nodetypes.Output {
			producer, err := db.Producer(e)
			if err != nil {
				return nil, err
			}
			if producer != nil {
				roots = append(roots, producer)
			}
		}
	}

	if err := r.propagate(db, roots); err != nil {
		return nil, err
	}

	slices.Sort(r.Modified)
	slices.Sort(r.Missing)
	logger.Debug("computed damage",
		"modified", len(r.Modified), "missing", len(r.Missing), "commands", len(r.Commands))
	return r, nil
}

// check compares one clean file node against disk.
func (r *Report) check(db *database.Database, e *nodetypes.Entry) (bool, error) {
	path := db.FilePath(e)
	changed, cur, err := stamp.Changed(path, e.Stamp, e.Hash)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if e.Type == nodetypes.Source {
			consumers, err := db.QueryStrongOutgoing(e)
			if err != nil {
				return false, err
			}
			if len(consumers) > 0 {
				return false, fmt.Errorf("%w: %s (reconfigure to drop it)", ErrSourceMissing, path)
			}
			users, err := db.QueryOutgoing(e)
			if err != nil {
				return false, err
			}
			if len(users) == 0 {
				r.unused = append(r.unused, e)
				return false, nil
			}
		}
		// Outputs are rebuilt. Sources only reached through discovered
		// includes send their consumers back to the compiler.
		r.Missing = append(r.Missing, e.Path)
		return true, nil
	case err != nil:
		return false, fmt.Errorf("stat %s: %w", path, err)
	}

	if !changed {
		if cur.ModTime != e.Stamp {
			r.refresh = append(r.refresh, refresh{entry: e, stamp: cur})
		}
		return false, nil
	}

	r.Modified = append(r.Modified, e.Path)
	if e.Type == nodetypes.Source {
		r.refresh = append(r.refresh, refresh{entry: e, stamp: cur})
	}
	return true, nil
}

func (r *Report) propagate(db *database.Database, roots []*nodetypes.Entry) error {
	seen := make(map[int64]bool)
	queue := roots
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		if e.IsCommand() {
			r.dirty = append(r.dirty, e)
		}

		next, err := db.QueryOutgoing(e)
		if err != nil {
			return err
		}
		queue = append(queue, next...)
	}

	slices.SortFunc(r.dirty, func(a, b *nodetypes.Entry) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	for _, e := range r.dirty {
		r.Commands = append(r.Commands, Command{ID: e.ID, Type: string(e.Type), Command: e.Format()})
	}
	return nil
}

// Persist records the report in db in one transaction. Commands are marked
// dirty before any source stamp is refreshed, so the damage survives an
// interrupted build. Deleted sources nothing depends on are dropped.
func (r *Report) Persist(db *database.Database) error {
	return db.Transaction(func() error {
		for _, e := range r.dirty {
			if e.IsDirty() {
				continue
			}
			if err := db.MarkDirty(e); err != nil {
				return err
			}
		}
		for _, f := range r.refresh {
			if err := db.UnmarkDirtyStamp(f.entry, f.stamp); err != nil {
				return err
			}
		}
		for _, e := range r.files {
			if e.Type != nodetypes.Source {
				continue
			}
			if err := db.UnmarkDirty(e); err != nil {
				return err
			}
		}
		for _, e := range r.unused {
			if _, err := db.DropSourceIfUnused(e); err != nil {
				return err
			}
		}
		return nil
	})
}
