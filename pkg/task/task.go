// Package task turns dirty command nodes into a dependency-ordered graph and
// executes it on a pool of workers.
package task

import (
	"fmt"
	"strings"

	"github.com/albertocavalcante/ambuild/pkg/database"
	"github.com/albertocavalcante/ambuild/pkg/nodetypes"
)

// Task is one command to execute.
type Task struct {
	ID      int64
	Type    nodetypes.Type
	Data    *nodetypes.Data
	Folder  string   // build-relative working folder, "" for the build root
	Outputs []string // build-relative paths the command produces
	Entry   *nodetypes.Entry

	outgoing []*Task
	incoming int
}

// Format renders the task as build output shows it.
func (t *Task) Format() string {
	return t.Entry.Format()
}

// Graph is the set of tasks for one build, with an edge from every task to
// the tasks consuming its outputs.
type Graph struct {
	Tasks []*Task

	roots []*Task
}

// Len returns the number of tasks.
func (g *Graph) Len() int {
	return len(g.Tasks)
}

// NewGraph builds the graph for commands, which must be the full dirty set
// (everything downstream of a dirty command is dirty too). Commands outside
// the set are treated as up to date.
func NewGraph(db *database.Database, commands []*nodetypes.Entry) (*Graph, error) {
	g := &Graph{}
	byID := make(map[int64]*Task, len(commands))
	for _, cmd := range commands {
		t := &Task{
			ID:     cmd.ID,
			Type:   cmd.Type,
			Data:   cmd.Data,
			Folder: cmd.FolderPath(),
			Entry:  cmd,
		}
		outs, err := db.QueryStrongOutgoing(cmd)
		if err != nil {
			return nil, err
		}
		for _, o := range outs {
			if o.Type == nodetypes.Output {
				t.Outputs = append(t.Outputs, o.Path)
			}
		}
		byID[cmd.ID] = t
		g.Tasks = append(g.Tasks, t)
	}

	for _, t := range g.Tasks {
		upstream, err := producers(db, t.Entry)
		if err != nil {
			return nil, err
		}
		for _, p := range upstream {
			dep, ok := byID[p.ID]
			if !ok || dep == t {
				continue
			}
			dep.outgoing = append(dep.outgoing, t)
			t.incoming++
		}
	}

	for _, t := range g.Tasks {
		if t.incoming == 0 {
			g.roots = append(g.roots, t)
		}
	}
	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}

// producers returns the commands whose results cmd reads: producers of its
// strong, dynamic and weak inputs, looking through groups.
func producers(db *database.Database, cmd *nodetypes.Entry) ([]*nodetypes.Entry, error) {
	var inputs []*nodetypes.Entry
	for _, query := range []func(*nodetypes.Entry) ([]*nodetypes.Entry, error){
		db.QueryStrongInputs, db.QueryDynamicInputs, db.QueryWeakInputs,
	} {
		in, err := query(cmd)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in...)
	}

	var out []*nodetypes.Entry
	seen := make(map[int64]bool)
	for len(inputs) > 0 {
		in := inputs[0]
		inputs = inputs[1:]
		if seen[in.ID] {
			continue
		}
		seen[in.ID] = true

		switch {
		case in.IsCommand():
			out = append(out, in)
		case in.Type == nodetypes.Output:
			p, err := db.Producer(in)
			if err != nil {
				return nil, err
			}
			if p != nil && !seen[p.ID] {
				seen[p.ID] = true
				out = append(out, p)
			}
		case in.Type == nodetypes.Group:
			members, err := db.QueryStrongInputs(in)
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, members...)
		}
	}
	return out, nil
}

func (g *Graph) checkAcyclic() error {
	remaining := make(map[*Task]int, len(g.Tasks))
	for _, t := range g.Tasks {
		remaining[t] = t.incoming
	}
	queue := append([]*Task(nil), g.roots...)
	visited := 0
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range t.outgoing {
			remaining[next]--
			if remaining[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited == len(g.Tasks) {
		return nil
	}

	var stuck []string
	for _, t := range g.Tasks {
		if remaining[t] > 0 {
			stuck = append(stuck, t.Format())
		}
	}
	return fmt.Errorf("dependency cycle between %d commands:\n  %s", len(stuck), strings.Join(stuck, "\n  "))
}
