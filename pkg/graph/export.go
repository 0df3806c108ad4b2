package graph

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/albertocavalcante/ambuild/internal/log"
	"github.com/albertocavalcante/ambuild/pkg/database"
	"github.com/albertocavalcante/ambuild/pkg/nodetypes"
)

// ExportStats summarizes what a reconcile changed.
type ExportStats struct {
	Added   int
	Updated int
	Dropped int
}

type exporter struct {
	db          *database.Database
	graph       *Builder
	refactoring bool

	entries map[*Node]*nodetypes.Entry
	created map[*Node]bool
	keep    map[int64]bool
	stats   ExportStats
}

// Export reconciles the graph into db inside one transaction. Existing
// commands are matched by the set of outputs they produce; unmatched database
// nodes are dropped along with their files. scripts replaces the list of
// build scripts that trigger a reconfigure. With refactoring set, any change
// to the set of commands or their inputs is an error.
func Export(db *database.Database, b *Builder, scripts []string, refactoring bool) (*ExportStats, error) {
	e := &exporter{
		db:          db,
		graph:       b,
		refactoring: refactoring,
		entries:     make(map[*Node]*nodetypes.Entry),
		created:     make(map[*Node]bool),
		keep:        make(map[int64]bool),
	}
	if err := db.Transaction(func() error { return e.run(scripts) }); err != nil {
		return nil, err
	}

	log.Component("graph").Info("exported graph",
		"added", e.stats.Added, "updated", e.stats.Updated, "dropped", e.stats.Dropped)
	return &e.stats, nil
}

func (e *exporter) run(scripts []string) error {
	steps := []func() error{
		e.folders,
		e.sources,
		e.groups,
		e.outputs,
		e.commands,
		e.edges,
		e.dropStale,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return e.scripts(scripts)
}

func (e *exporter) refactorError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", database.ErrRefactoring, fmt.Sprintf(format, args...))
}

func (e *exporter) bind(n *Node, entry *nodetypes.Entry, created bool) {
	e.entries[n] = entry
	e.keep[entry.ID] = true
	if created {
		e.created[n] = true
		e.stats.Added++
	}
}

// existingFile returns the database node at path if it has the wanted type.
func (e *exporter) existingFile(path string, typ nodetypes.Type) (*nodetypes.Entry, error) {
	entry, err := e.db.QueryPath(path)
	if err != nil || entry == nil {
		return nil, err
	}
	if entry.Type != typ {
		return nil, fmt.Errorf("path %q was a %s node and is now declared as %s", path, entry.Type, typ)
	}
	return entry, nil
}

func (e *exporter) folders() error {
	for _, n := range e.graph.Folders() {
		entry, err := e.existingFile(n.Path, nodetypes.Mkdir)
		if err != nil {
			return err
		}
		created := entry == nil
		if created {
			if entry, err = e.db.AddFolder(e.entries[n.Folder], n.Path); err != nil {
				return err
			}
		}
		e.bind(n, entry, created)
	}
	return nil
}

func (e *exporter) sources() error {
	for _, n := range e.graph.Sources() {
		existing, err := e.db.QueryPath(n.Path)
		if err != nil {
			return err
		}
		entry, err := e.db.FindOrAddSource(n.Path)
		if err != nil {
			return err
		}
		e.bind(n, entry, existing == nil)
	}
	return nil
}

func (e *exporter) groups() error {
	for _, n := range e.graph.Groups() {
		name := strings.TrimPrefix(n.Path, nodetypes.GroupPrefix)
		entry, err := e.db.FindGroup(name)
		if err != nil {
			return err
		}
		created := entry == nil
		if created {
			if entry, err = e.db.AddGroup(name); err != nil {
				return err
			}
		}
		e.bind(n, entry, created)
	}
	return nil
}

func (e *exporter) outputs() error {
	for _, n := range e.graph.Outputs() {
		entry, err := e.existingFile(n.Path, nodetypes.Output)
		if err != nil {
			return err
		}
		created := entry == nil
		if created {
			if entry, err = e.db.AddOutput(e.entries[n.Folder], n.Path); err != nil {
				return err
			}
		}
		e.bind(n, entry, created)
	}
	return nil
}

func outputKey(paths []string) string {
	sort.Strings(paths)
	return strings.Join(paths, "\x00")
}

func (e *exporter) commands() error {
	existing, err := e.db.QueryCommands()
	if err != nil {
		return err
	}
	byKey := make(map[string]*nodetypes.Entry, len(existing))
	for _, cmd := range existing {
		outs, err := e.db.QueryStrongOutgoing(cmd)
		if err != nil {
			return err
		}
		var paths []string
		for _, o := range outs {
			if o.Type == nodetypes.Output {
				paths = append(paths, o.Path)
			}
		}
		byKey[outputKey(paths)] = cmd
	}

	for _, n := range e.graph.Commands() {
		paths := make([]string, 0, len(n.Outputs))
		for _, o := range n.Outputs {
			paths = append(paths, o.Path)
		}
		key := outputKey(paths)
		folder := e.entries[n.Folder]

		if entry, ok := byKey[key]; ok {
			delete(byKey, key)
			changed, err := e.db.UpdateCommand(entry, n.Type, folder, n.Data, e.refactoring)
			if err != nil {
				return err
			}
			if changed {
				e.stats.Updated++
			}
			e.bind(n, entry, false)
			continue
		}

		if e.refactoring {
			return e.refactorError("new command: %s", n.Format())
		}
		entry, err := e.db.AddCommand(n.Type, folder, n.Data)
		if err != nil {
			return err
		}
		e.bind(n, entry, true)
	}
	return nil
}

func (e *exporter) allNodes() []*Node {
	var nodes []*Node
	nodes = append(nodes, e.graph.Groups()...)
	nodes = append(nodes, e.graph.Outputs()...)
	return append(nodes, e.graph.Commands()...)
}

func (e *exporter) edges() error {
	for _, n := range e.allNodes() {
		entry := e.entries[n]

		strongChanged, err := e.reconcile(n, entry, n.Strong, e.db.QueryStrongInputs, e.db.AddStrongEdge, e.db.DropStrongEdge)
		if err != nil {
			return err
		}
		weakChanged, err := e.reconcile(n, entry, n.Weak, e.db.QueryWeakInputs, e.db.AddWeakEdge, e.db.DropWeakEdge)
		if err != nil {
			return err
		}

		if (strongChanged || weakChanged) && !e.created[n] && entry.IsCommand() && !entry.IsDirty() {
			if err := e.db.MarkDirty(entry); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *exporter) reconcile(
	n *Node,
	entry *nodetypes.Entry,
	want []*Node,
	query func(*nodetypes.Entry) ([]*nodetypes.Entry, error),
	add, drop func(from, to *nodetypes.Entry) error,
) (bool, error) {
	current, err := query(entry)
	if err != nil {
		return false, err
	}

	wanted := make(map[*nodetypes.Entry]bool, len(want))
	for _, w := range want {
		wanted[e.entries[w]] = true
	}

	changed := false
	for _, w := range want {
		in := e.entries[w]
		if slices.Contains(current, in) {
			continue
		}
		if e.refactoring && !e.created[n] {
			return false, e.refactorError("new input %q for %s", in.Format(), entry.Format())
		}
		if err := add(in, entry); err != nil {
			return false, err
		}
		changed = true
	}
	for _, in := range current {
		if wanted[in] {
			continue
		}
		if e.refactoring {
			return false, e.refactorError("removed input %q from %s", in.Format(), entry.Format())
		}
		if err := drop(in, entry); err != nil {
			return false, err
		}
		changed = true
	}
	return changed, nil
}

func (e *exporter) dropStale() error {
	commands, err := e.db.QueryCommands()
	if err != nil {
		return err
	}
	for _, cmd := range commands {
		if e.keep[cmd.ID] {
			continue
		}
		if e.refactoring {
			return e.refactorError("removed command: %s", cmd.Format())
		}
		if err := e.db.DropCommand(cmd); err != nil {
			return err
		}
		e.stats.Dropped++
	}

	outputs, err := e.db.QueryOutputs()
	if err != nil {
		return err
	}
	for _, out := range outputs {
		if e.keep[out.ID] {
			continue
		}
		if err := e.db.DropOutput(out); err != nil {
			return err
		}
		e.stats.Dropped++
	}

	groups, err := e.db.QueryGroups()
	if err != nil {
		return err
	}
	for _, g := range groups {
		if e.keep[g.ID] {
			continue
		}
		if err := e.db.DropGroup(g); err != nil {
			return err
		}
		e.stats.Dropped++
	}

	folders, err := e.db.QueryMkdir()
	if err != nil {
		return err
	}
	// Children before parents.
	slices.SortFunc(folders, func(a, b *nodetypes.Entry) int {
		return len(b.Path) - len(a.Path)
	})
	for _, f := range folders {
		if e.keep[f.ID] {
			continue
		}
		if err := e.db.DropFolder(f); err != nil {
			return err
		}
		e.stats.Dropped++
	}

	n, err := e.db.DropUnusedSources()
	if err != nil {
		return err
	}
	e.stats.Dropped += n
	return nil
}

func (e *exporter) scripts(paths []string) error {
	wanted := make(map[string]bool, len(paths))
	for _, p := range paths {
		wanted[p] = true
	}

	existing, err := e.db.QueryScripts()
	if err != nil {
		return err
	}
	for _, s := range existing {
		if !wanted[s.Path] {
			if err := e.db.DropScript(s.Path); err != nil {
				return err
			}
		}
	}
	for _, p := range paths {
		if err := e.db.AddOrUpdateScript(p); err != nil {
			return err
		}
	}
	return nil
}
