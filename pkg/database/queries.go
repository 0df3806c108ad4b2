package database

import (
	"database/sql"
	"fmt"
	"slices"

	"github.com/albertocavalcante/ambuild/internal/log"
	"github.com/albertocavalcante/ambuild/pkg/nodetypes"
)

const nodeColumns = "type, stamp, dirty, generated, path, folder, data, hash, id"

// nodeRow is a nodes row before its folder has been resolved.
type nodeRow struct {
	typ       string
	stamp     float64
	dirty     int
	generated int
	path      sql.NullString
	folder    sql.NullInt64
	data      []byte
	hash      string
	id        int64
}

func scanRow(s interface{ Scan(...any) error }) (nodeRow, error) {
	var r nodeRow
	err := s.Scan(&r.typ, &r.stamp, &r.dirty, &r.generated, &r.path, &r.folder, &r.data, &r.hash, &r.id)
	return r, err
}

// queryRows reads every row before returning, since importing a row may
// issue further queries on the single connection.
func (d *Database) queryRows(query string, args ...any) ([]nodeRow, error) {
	rows, err := d.conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []nodeRow
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *Database) queryIDs(query string, args ...any) ([]int64, error) {
	rows, err := d.conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// QueryNode returns the node with the given id.
func (d *Database) QueryNode(id int64) (*nodetypes.Entry, error) {
	if e, ok := d.nodeCache[id]; ok {
		return e, nil
	}

	r, err := scanRow(d.conn().QueryRow("select "+nodeColumns+" from nodes where id = ?", id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("node %d does not exist", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query node %d: %w", id, err)
	}
	return d.importNode(r)
}

// QueryPath returns the node with the given path, or nil if there is none.
func (d *Database) QueryPath(path string) (*nodetypes.Entry, error) {
	if e, ok := d.pathCache[path]; ok {
		return e, nil
	}

	r, err := scanRow(d.conn().QueryRow("select "+nodeColumns+" from nodes where path = ?", path))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query path %q: %w", path, err)
	}
	return d.importNode(r)
}

func (d *Database) importNode(r nodeRow) (*nodetypes.Entry, error) {
	if e, ok := d.nodeCache[r.id]; ok {
		return e, nil
	}

	var folder *nodetypes.Entry
	if r.folder.Valid {
		var err error
		folder, err = d.QueryNode(r.folder.Int64)
		if err != nil {
			return nil, fmt.Errorf("folder of node %d: %w", r.id, err)
		}
	}

	data, err := nodetypes.DecodeData(r.data)
	if err != nil {
		return nil, fmt.Errorf("node %d: %w", r.id, err)
	}

	entry := &nodetypes.Entry{
		ID:        r.id,
		Type:      nodetypes.Type(r.typ),
		Path:      r.path.String,
		Data:      data,
		Folder:    folder,
		Stamp:     r.stamp,
		Hash:      r.hash,
		Dirty:     r.dirty,
		Generated: r.generated != 0,
	}
	d.cache(entry)
	log.Trace("imported node", "id", entry.ID, "type", entry.Type, "path", entry.Path)
	return entry, nil
}

func (d *Database) cache(e *nodetypes.Entry) {
	d.nodeCache[e.ID] = e
	if e.Path != "" {
		d.pathCache[e.Path] = e
	}
}

func (d *Database) importAll(rows []nodeRow) ([]*nodetypes.Entry, error) {
	out := make([]*nodetypes.Entry, 0, len(rows))
	for _, r := range rows {
		e, err := d.importNode(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (d *Database) queryEntries(query string, args ...any) ([]*nodetypes.Entry, error) {
	ids, err := d.queryIDs(query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]*nodetypes.Entry, 0, len(ids))
	for _, id := range ids {
		e, err := d.QueryNode(id)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// loadSet fills *set from the query the first time it is asked for.
func (d *Database) loadSet(set *map[*nodetypes.Entry]struct{}, queries []string, id int64) ([]*nodetypes.Entry, error) {
	if *set == nil {
		loaded := make(map[*nodetypes.Entry]struct{})
		for _, q := range queries {
			entries, err := d.queryEntries(q, id)
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				loaded[e] = struct{}{}
			}
		}
		*set = loaded
	}
	return sortEntries(*set), nil
}

// QueryStrongInputs returns the nodes node declares as inputs.
func (d *Database) QueryStrongInputs(node *nodetypes.Entry) ([]*nodetypes.Entry, error) {
	return d.loadSet(&node.StrongInputs, []string{"select incoming from edges where outgoing = ?"}, node.ID)
}

// QueryWeakInputs returns the nodes that must be ordered before node.
func (d *Database) QueryWeakInputs(node *nodetypes.Entry) ([]*nodetypes.Entry, error) {
	return d.loadSet(&node.WeakInputs, []string{"select incoming from weak_edges where outgoing = ?"}, node.ID)
}

// QueryDynamicInputs returns the inputs discovered by running node.
func (d *Database) QueryDynamicInputs(node *nodetypes.Entry) ([]*nodetypes.Entry, error) {
	return d.loadSet(&node.DynamicInputs, []string{"select incoming from dynamic_edges where outgoing = ?"}, node.ID)
}

// QueryOutgoing returns every node that depends on node, through strong or
// dynamic edges.
func (d *Database) QueryOutgoing(node *nodetypes.Entry) ([]*nodetypes.Entry, error) {
	return d.loadSet(&node.Outgoing, []string{
		"select outgoing from edges where incoming = ?",
		"select outgoing from dynamic_edges where incoming = ?",
	}, node.ID)
}

// QueryStrongOutgoing returns the nodes that declare node as an input. It is
// not cached.
func (d *Database) QueryStrongOutgoing(node *nodetypes.Entry) ([]*nodetypes.Entry, error) {
	return d.queryEntries("select outgoing from edges where incoming = ? order by outgoing", node.ID)
}

// QueryMkdir returns every folder node.
func (d *Database) QueryMkdir() ([]*nodetypes.Entry, error) {
	rows, err := d.queryRows("select " + nodeColumns + " from nodes where type = 'mkd' order by path")
	if err != nil {
		return nil, err
	}
	return d.importAll(rows)
}

// QueryKnownDirty returns every dirty node except folders.
func (d *Database) QueryKnownDirty() ([]*nodetypes.Entry, error) {
	rows, err := d.queryRows("select " + nodeColumns + " from nodes where dirty = 1 and type != 'mkd' order by id")
	if err != nil {
		return nil, err
	}
	return d.importAll(rows)
}

// QueryMaybeDirty returns clean file nodes that must be checked against disk.
// The result never overlaps QueryKnownDirty.
func (d *Database) QueryMaybeDirty() ([]*nodetypes.Entry, error) {
	rows, err := d.queryRows("select " + nodeColumns + " from nodes where dirty = 0 and (type = 'src' or type = 'out') order by id")
	if err != nil {
		return nil, err
	}
	return d.importAll(rows)
}

// QueryCommands returns every command node.
func (d *Database) QueryCommands() ([]*nodetypes.Entry, error) {
	rows, err := d.queryRows("select " + nodeColumns + " from nodes where type not in ('src', 'out', 'grp', 'mkd') order by id")
	if err != nil {
		return nil, err
	}
	return d.importAll(rows)
}

// QueryGroups returns every group node.
func (d *Database) QueryGroups() ([]*nodetypes.Entry, error) {
	rows, err := d.queryRows("select " + nodeColumns + " from nodes where type = 'grp' order by id")
	if err != nil {
		return nil, err
	}
	return d.importAll(rows)
}

// QueryOutputs returns every output node.
func (d *Database) QueryOutputs() ([]*nodetypes.Entry, error) {
	rows, err := d.queryRows("select " + nodeColumns + " from nodes where type = 'out' order by id")
	if err != nil {
		return nil, err
	}
	return d.importAll(rows)
}

// Producer returns the command that produces output, or nil for sources.
func (d *Database) Producer(output *nodetypes.Entry) (*nodetypes.Entry, error) {
	if output.Type != nodetypes.Output {
		return nil, nil
	}
	inputs, err := d.QueryStrongInputs(output)
	if err != nil {
		return nil, err
	}
	for _, in := range inputs {
		if in.IsCommand() {
			return in, nil
		}
	}
	return nil, nil
}

func sortEntries(set map[*nodetypes.Entry]struct{}) []*nodetypes.Entry {
	out := make([]*nodetypes.Entry, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *nodetypes.Entry) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}
