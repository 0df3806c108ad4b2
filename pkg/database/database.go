// Package database persists the build graph in SQLite.
//
// The nodes table holds every source, output, folder, group and command. Three
// edge tables connect them: edges (declared by build scripts), weak_edges
// (ordering only, never propagate damage) and dynamic_edges (discovered while
// running commands, such as C++ includes). An edge row (outgoing, incoming)
// means incoming must be up to date before outgoing.
//
// Every node is imported into memory at most once per connection; the id and
// path caches return the same *Entry for repeated queries so that edge sets
// can be compared by pointer.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/albertocavalcante/ambuild/internal/log"
	"github.com/albertocavalcante/ambuild/pkg/nodetypes"
	"github.com/albertocavalcante/ambuild/pkg/stamp"

	_ "modernc.org/sqlite"
)

// ErrRefactoring is returned by UpdateCommand when a command changes while
// refactoring mode forbids it.
var ErrRefactoring = errors.New("refactoring error: command changed")

// ErrFolderInUse is returned when a folder is dropped while nodes still live in it.
var ErrFolderInUse = errors.New("folder still in use")

// execer is the subset shared by *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Database is a connection to a graph database.
type Database struct {
	path string
	root string
	db   *sql.DB
	tx   *sql.Tx

	nodeCache map[int64]*nodetypes.Entry
	pathCache map[string]*nodetypes.Entry
}

// Open connects to the database at path. root is the build folder against
// which output and folder paths are resolved when files are removed.
// Use ":memory:" for a throwaway database.
func Open(path, root string) (*Database, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open graph database: %w", err)
	}
	// One connection keeps :memory: databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}

	return &Database{
		path:      path,
		root:      root,
		db:        db,
		nodeCache: make(map[int64]*nodetypes.Entry),
		pathCache: make(map[string]*nodetypes.Entry),
	}, nil
}

// Close rolls back any open transaction and closes the connection.
func (d *Database) Close() error {
	if d.tx != nil {
		_ = d.tx.Rollback()
		d.tx = nil
	}
	return d.db.Close()
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.path
}

// Root returns the build folder.
func (d *Database) Root() string {
	return d.root
}

func (d *Database) conn() execer {
	if d.tx != nil {
		return d.tx
	}
	return d.db
}

// Begin starts a transaction; subsequent statements run inside it until
// Commit or Rollback.
func (d *Database) Begin() error {
	if d.tx != nil {
		return errors.New("transaction already open")
	}
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	d.tx = tx
	return nil
}

// Commit commits the open transaction. It is a no-op without one.
func (d *Database) Commit() error {
	if d.tx == nil {
		return nil
	}
	err := d.tx.Commit()
	d.tx = nil
	if err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Rollback abandons the open transaction and flushes the caches, since
// in-memory entries may reflect rolled back rows.
func (d *Database) Rollback() error {
	if d.tx == nil {
		return nil
	}
	err := d.tx.Rollback()
	d.tx = nil
	d.FlushCaches()
	return err
}

// Transaction runs fn inside a transaction, committing on success.
func (d *Database) Transaction(fn func() error) error {
	if err := d.Begin(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		_ = d.Rollback()
		return err
	}
	return d.Commit()
}

// FlushCaches forgets every imported entry.
func (d *Database) FlushCaches() {
	d.nodeCache = make(map[int64]*nodetypes.Entry)
	d.pathCache = make(map[string]*nodetypes.Entry)
}

// CreateTables creates the schema if it does not exist.
func (d *Database) CreateTables() error {
	queries := []string{
		`create table if not exists nodes(
			id integer primary key autoincrement,
			type varchar(4) not null,
			stamp real not null default 0.0,
			dirty int not null default 0,
			generated int not null default 0,
			path text,
			folder int,
			data blob,
			hash text not null default ''
		)`,

		// Links specified by build scripts; only reconfigures change them.
		`create table if not exists edges(
			outgoing int not null,
			incoming int not null,
			unique (outgoing, incoming)
		)`,

		// Ordering-only links. They do not propagate damage or updates.
		`create table if not exists weak_edges(
			outgoing int not null,
			incoming int not null,
			unique (outgoing, incoming)
		)`,

		// Links discovered by running commands, e.g. C++ #includes.
		`create table if not exists dynamic_edges(
			outgoing int not null,
			incoming int not null,
			unique (outgoing, incoming)
		)`,

		// Scripts whose modification triggers a reconfigure.
		`create table if not exists reconfigure(
			stamp real not null default 0.0,
			path text unique
		)`,

		"create index if not exists outgoing_edge on edges(outgoing)",
		"create index if not exists incoming_edge on edges(incoming)",
		"create index if not exists weak_outgoing_edge on weak_edges(outgoing)",
		"create index if not exists weak_incoming_edge on weak_edges(incoming)",
		"create index if not exists dyn_outgoing_edge on dynamic_edges(outgoing)",
		"create index if not exists dyn_incoming_edge on dynamic_edges(incoming)",
		"create index if not exists node_path on nodes(path)",
	}
	for _, q := range queries {
		if _, err := d.conn().Exec(q); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

// AddFolder inserts a Mkdir node for a build-relative, normalized path.
func (d *Database) AddFolder(parent *nodetypes.Entry, path string) (*nodetypes.Entry, error) {
	if err := checkRelative(path); err != nil {
		return nil, err
	}
	return d.addFile(nodetypes.Mkdir, path, false, parent)
}

// AddOutput inserts an Output node. The path must be build-relative and live
// directly in folder.
func (d *Database) AddOutput(folder *nodetypes.Entry, path string) (*nodetypes.Entry, error) {
	if err := checkRelative(path); err != nil {
		return nil, err
	}
	if folder != nil && filepath.Dir(path) != folder.Path {
		return nil, fmt.Errorf("output %q is not inside folder %q", path, folder.Path)
	}
	return d.addFile(nodetypes.Output, path, false, folder)
}

// FindOrAddSource returns the Source node for an absolute path, inserting it
// if needed.
func (d *Database) FindOrAddSource(path string) (*nodetypes.Entry, error) {
	node, err := d.QueryPath(path)
	if err != nil {
		return nil, err
	}
	if node != nil {
		if node.Type != nodetypes.Source {
			return nil, fmt.Errorf("path %q is a %s node, not a source", path, node.Type)
		}
		return node, nil
	}
	return d.AddSource(path, false)
}

// AddSource inserts a Source node for an absolute path.
func (d *Database) AddSource(path string, generated bool) (*nodetypes.Entry, error) {
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("source path %q must be absolute", path)
	}
	return d.addFile(nodetypes.Source, path, generated, nil)
}

// FindGroup returns the named group, or nil.
func (d *Database) FindGroup(name string) (*nodetypes.Entry, error) {
	return d.QueryPath(nodetypes.GroupPrefix + name)
}

// AddGroup inserts a Group node.
func (d *Database) AddGroup(name string) (*nodetypes.Entry, error) {
	return d.addFile(nodetypes.Group, nodetypes.GroupPrefix+name, false, nil)
}

func (d *Database) addFile(typ nodetypes.Type, path string, generated bool, folder *nodetypes.Entry) (*nodetypes.Entry, error) {
	if _, ok := d.pathCache[path]; ok {
		return nil, fmt.Errorf("path %q already has a node", path)
	}

	var folderID any
	if folder != nil {
		folderID = folder.ID
	}

	res, err := d.conn().Exec(
		"insert into nodes (type, generated, path, folder) values (?, ?, ?, ?)",
		string(typ), boolInt(generated), path, folderID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert %s node %q: %w", typ, path, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	entry := &nodetypes.Entry{
		ID:        id,
		Type:      typ,
		Path:      path,
		Folder:    folder,
		Generated: generated,
	}
	d.cache(entry)
	return entry, nil
}

// AddCommand inserts a command node. New commands start dirty.
func (d *Database) AddCommand(typ nodetypes.Type, folder *nodetypes.Entry, data *nodetypes.Data) (*nodetypes.Entry, error) {
	blob, err := data.Encode()
	if err != nil {
		return nil, err
	}
	var folderID any
	if folder != nil {
		folderID = folder.ID
	}

	res, err := d.conn().Exec(
		"insert into nodes (type, folder, data, dirty) values (?, ?, ?, ?)",
		string(typ), folderID, blob, nodetypes.KnownDirty,
	)
	if err != nil {
		return nil, fmt.Errorf("insert %s command: %w", typ, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	entry := &nodetypes.Entry{
		ID:     id,
		Type:   typ,
		Data:   data,
		Folder: folder,
		Dirty:  nodetypes.KnownDirty,
	}
	d.cache(entry)
	return entry, nil
}

// UpdateCommand rewrites a command's type, folder and payload. It returns
// false when nothing changed. With refactoring set, a change is an error.
func (d *Database) UpdateCommand(entry *nodetypes.Entry, typ nodetypes.Type, folder *nodetypes.Entry, data *nodetypes.Data, refactoring bool) (bool, error) {
	if entry.Type == typ && entry.Folder == folder && entry.Data.Equal(data) {
		return false, nil
	}

	if refactoring {
		old := entry.Format()
		changed := &nodetypes.Entry{Type: typ, Data: data, Folder: folder}
		return false, fmt.Errorf("%w\n  old: %s\n  new: %s", ErrRefactoring, old, changed.Format())
	}

	blob, err := data.Encode()
	if err != nil {
		return false, err
	}
	var folderID any
	if folder != nil {
		folderID = folder.ID
	}

	_, err = d.conn().Exec(
		"update nodes set type = ?, folder = ?, data = ?, dirty = ? where id = ?",
		string(typ), folderID, blob, nodetypes.KnownDirty, entry.ID,
	)
	if err != nil {
		return false, fmt.Errorf("update command %d: %w", entry.ID, err)
	}
	entry.Type = typ
	entry.Folder = folder
	entry.Data = data
	entry.Dirty = nodetypes.KnownDirty
	return true, nil
}

// AddStrongEdge records that to depends on from.
func (d *Database) AddStrongEdge(from, to *nodetypes.Entry) error {
	if _, err := d.conn().Exec("insert into edges (outgoing, incoming) values (?, ?)", to.ID, from.ID); err != nil {
		return fmt.Errorf("add edge %d -> %d: %w", from.ID, to.ID, err)
	}
	if to.StrongInputs != nil {
		to.StrongInputs[from] = struct{}{}
	}
	if from.Outgoing != nil {
		from.Outgoing[to] = struct{}{}
	}
	return nil
}

// AddWeakEdge records that from must run before to, without damage flow.
func (d *Database) AddWeakEdge(from, to *nodetypes.Entry) error {
	if _, err := d.conn().Exec("insert into weak_edges (outgoing, incoming) values (?, ?)", to.ID, from.ID); err != nil {
		return fmt.Errorf("add weak edge %d -> %d: %w", from.ID, to.ID, err)
	}
	if to.WeakInputs != nil {
		to.WeakInputs[from] = struct{}{}
	}
	return nil
}

// AddDynamicEdge records a discovered dependency of to on from.
func (d *Database) AddDynamicEdge(from, to *nodetypes.Entry) error {
	if _, err := d.conn().Exec("insert into dynamic_edges (outgoing, incoming) values (?, ?)", to.ID, from.ID); err != nil {
		return fmt.Errorf("add dynamic edge %d -> %d: %w", from.ID, to.ID, err)
	}
	if to.DynamicInputs != nil {
		to.DynamicInputs[from] = struct{}{}
	}
	if from.Outgoing != nil {
		from.Outgoing[to] = struct{}{}
	}
	return nil
}

// DropStrongEdge removes a strong edge.
func (d *Database) DropStrongEdge(from, to *nodetypes.Entry) error {
	if _, err := d.conn().Exec("delete from edges where outgoing = ? and incoming = ?", to.ID, from.ID); err != nil {
		return fmt.Errorf("drop edge %d -> %d: %w", from.ID, to.ID, err)
	}
	delete(to.StrongInputs, from)
	delete(from.Outgoing, to)
	return nil
}

// DropWeakEdge removes a weak edge.
func (d *Database) DropWeakEdge(from, to *nodetypes.Entry) error {
	if _, err := d.conn().Exec("delete from weak_edges where outgoing = ? and incoming = ?", to.ID, from.ID); err != nil {
		return fmt.Errorf("drop weak edge %d -> %d: %w", from.ID, to.ID, err)
	}
	delete(to.WeakInputs, from)
	return nil
}

// DropDynamicEdge removes a dynamic edge.
func (d *Database) DropDynamicEdge(from, to *nodetypes.Entry) error {
	if _, err := d.conn().Exec("delete from dynamic_edges where outgoing = ? and incoming = ?", to.ID, from.ID); err != nil {
		return fmt.Errorf("drop dynamic edge %d -> %d: %w", from.ID, to.ID, err)
	}
	delete(to.DynamicInputs, from)
	delete(from.Outgoing, to)
	return nil
}

// MarkDirty flags an entry as needing work.
func (d *Database) MarkDirty(entry *nodetypes.Entry) error {
	if _, err := d.conn().Exec("update nodes set dirty = 1 where id = ?", entry.ID); err != nil {
		return fmt.Errorf("mark %d dirty: %w", entry.ID, err)
	}
	entry.Dirty = nodetypes.KnownDirty
	return nil
}

// UnmarkDirty clears the dirty flag. Commands get a zero stamp; files are
// stamped from disk. A file that cannot be stamped is left dirty.
func (d *Database) UnmarkDirty(entry *nodetypes.Entry) error {
	if entry.IsCommand() || !entry.Type.IsFile() {
		return d.UnmarkDirtyStamp(entry, stamp.Stamp{})
	}

	s, err := stamp.Of(d.filePath(entry))
	if err != nil {
		log.Component("database").Error("could not unmark file as dirty; leaving dirty",
			"path", entry.Path, "error", err)
		return nil
	}
	return d.UnmarkDirtyStamp(entry, s)
}

// UnmarkDirtyStamp clears the dirty flag and records a known stamp.
func (d *Database) UnmarkDirtyStamp(entry *nodetypes.Entry, s stamp.Stamp) error {
	_, err := d.conn().Exec("update nodes set dirty = 0, stamp = ?, hash = ? where id = ?", s.ModTime, s.Hash, entry.ID)
	if err != nil {
		return fmt.Errorf("unmark %d dirty: %w", entry.ID, err)
	}
	entry.Dirty = nodetypes.Clean
	entry.Stamp = s.ModTime
	entry.Hash = s.Hash
	return nil
}

// filePath resolves an entry's path on disk: sources are absolute, outputs
// and folders are relative to the build root.
func (d *Database) filePath(entry *nodetypes.Entry) string {
	if filepath.IsAbs(entry.Path) {
		return entry.Path
	}
	return filepath.Join(d.root, entry.Path)
}

// FilePath is the exported form of filePath.
func (d *Database) FilePath(entry *nodetypes.Entry) string {
	return d.filePath(entry)
}

// AddOrUpdateScript records a build script and its current mtime.
func (d *Database) AddOrUpdateScript(path string) error {
	s, err := stamp.Stat(path)
	if err != nil {
		return fmt.Errorf("stat script %s: %w", path, err)
	}
	_, err = d.conn().Exec("insert or replace into reconfigure (path, stamp) values (?, ?)", path, s.ModTime)
	if err != nil {
		return fmt.Errorf("record script %s: %w", path, err)
	}
	return nil
}

// Script is one row of the reconfigure table.
type Script struct {
	RowID int64
	Path  string
	Stamp float64
}

// QueryScripts returns every recorded build script.
func (d *Database) QueryScripts() ([]Script, error) {
	rows, err := d.conn().Query("select rowid, path, stamp from reconfigure order by path")
	if err != nil {
		return nil, fmt.Errorf("query scripts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var scripts []Script
	for rows.Next() {
		var s Script
		if err := rows.Scan(&s.RowID, &s.Path, &s.Stamp); err != nil {
			return nil, fmt.Errorf("scan script: %w", err)
		}
		scripts = append(scripts, s)
	}
	return scripts, rows.Err()
}

// DropScript forgets a build script.
func (d *Database) DropScript(path string) error {
	_, err := d.conn().Exec("delete from reconfigure where path = ?", path)
	return err
}

// DropEntry deletes a node and every edge touching it.
func (d *Database) DropEntry(entry *nodetypes.Entry) error {
	queries := []string{
		"delete from nodes where id = ?",
		"delete from edges where incoming = ? or outgoing = ?",
		"delete from dynamic_edges where incoming = ? or outgoing = ?",
		"delete from weak_edges where incoming = ? or outgoing = ?",
	}
	for i, q := range queries {
		args := []any{entry.ID}
		if i > 0 {
			args = append(args, entry.ID)
		}
		if _, err := d.conn().Exec(q, args...); err != nil {
			return fmt.Errorf("drop node %d: %w", entry.ID, err)
		}
	}

	for _, other := range d.nodeCache {
		delete(other.StrongInputs, entry)
		delete(other.DynamicInputs, entry)
		delete(other.WeakInputs, entry)
		delete(other.Outgoing, entry)
	}

	delete(d.nodeCache, entry.ID)
	if entry.Path != "" {
		delete(d.pathCache, entry.Path)
	}
	return nil
}

// DropFolder removes a Mkdir node and its directory. The directory must be
// empty of graph nodes.
func (d *Database) DropFolder(entry *nodetypes.Entry) error {
	if entry.Type != nodetypes.Mkdir {
		return fmt.Errorf("node %d is not a folder", entry.ID)
	}

	var amount int
	if err := d.conn().QueryRow("select count(*) from nodes where folder = ?", entry.ID).Scan(&amount); err != nil {
		return fmt.Errorf("count folder users: %w", err)
	}
	if amount > 0 {
		return fmt.Errorf("%w: %s (id %d)", ErrFolderInUse, entry.Path, entry.ID)
	}

	path := d.filePath(entry)
	if _, err := os.Stat(path); err == nil {
		log.Component("database").Warn("removing old folder", "path", entry.Path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not remove folder %s: %w", entry.Path, err)
	}

	return d.DropEntry(entry)
}

// DropOutput removes an Output node and its file.
func (d *Database) DropOutput(output *nodetypes.Entry) error {
	if output.Type != nodetypes.Output {
		return fmt.Errorf("node %d is not an output", output.ID)
	}

	path := d.filePath(output)
	if _, err := os.Lstat(path); err == nil {
		log.Component("database").Warn("removing old output", "path", output.Path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not remove file %s: %w", output.Path, err)
	}
	return d.DropEntry(output)
}

// DropCommand removes a command along with the outputs it produces.
func (d *Database) DropCommand(cmd *nodetypes.Entry) error {
	outgoing, err := d.QueryStrongOutgoing(cmd)
	if err != nil {
		return err
	}
	for _, out := range outgoing {
		if out.Type != nodetypes.Output {
			continue
		}
		if err := d.DropOutput(out); err != nil {
			return err
		}
	}
	return d.DropEntry(cmd)
}

// DropGroup removes a group node.
func (d *Database) DropGroup(group *nodetypes.Entry) error {
	return d.DropEntry(group)
}

const unusedSources = `select id from nodes where type = 'src'
	and id not in (select incoming from edges)
	and id not in (select incoming from dynamic_edges)
	and id not in (select incoming from weak_edges)`

// DropSourceIfUnused removes source once nothing depends on it. It reports
// whether the node was dropped.
func (d *Database) DropSourceIfUnused(source *nodetypes.Entry) (bool, error) {
	if source.Type != nodetypes.Source {
		return false, nil
	}
	ids, err := d.queryIDs(unusedSources+" and id = ?", source.ID)
	if err != nil || len(ids) == 0 {
		return false, err
	}
	return true, d.DropEntry(source)
}

// DropUnusedSources removes source nodes that nothing depends on, such as
// headers no longer included anywhere. It returns how many were dropped.
func (d *Database) DropUnusedSources() (int, error) {
	ids, err := d.queryIDs(unusedSources)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		node, err := d.QueryNode(id)
		if err != nil {
			return 0, err
		}
		if err := d.DropEntry(node); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// PrintGraph writes every folder, then every node nobody depends on with its
// inputs indented below it.
func (d *Database) PrintGraph(w io.Writer) error {
	folders, err := d.QueryMkdir()
	if err != nil {
		return err
	}
	for _, f := range folders {
		if _, err := fmt.Fprintf(w, " : mkdir %q\n", f.Path); err != nil {
			return err
		}
	}

	ids, err := d.queryIDs("select id from nodes where id not in (select incoming from edges) and type != 'mkd' order by id")
	if err != nil {
		return err
	}
	printed := make(map[int64]bool)
	for _, id := range ids {
		node, err := d.QueryNode(id)
		if err != nil {
			return err
		}
		if err := d.printGraphNode(w, node, 0, printed); err != nil {
			return err
		}
	}
	return nil
}

// printGraphNode lists the inputs of a node only the first time it is
// printed. Later sightings print the node alone.
func (d *Database) printGraphNode(w io.Writer, node *nodetypes.Entry, indent int, printed map[int64]bool) error {
	if _, err := fmt.Fprintf(w, "%s - %s\n", strings.Repeat("  ", indent), node.Format()); err != nil {
		return err
	}
	if printed[node.ID] {
		return nil
	}
	printed[node.ID] = true

	strong, err := d.QueryStrongInputs(node)
	if err != nil {
		return err
	}
	dynamic, err := d.QueryDynamicInputs(node)
	if err != nil {
		return err
	}
	for _, set := range [][]*nodetypes.Entry{strong, dynamic} {
		for _, in := range set {
			if err := d.printGraphNode(w, in, indent+1, printed); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkRelative(path string) error {
	if filepath.IsAbs(path) {
		return fmt.Errorf("path %q must be relative to the build folder", path)
	}
	if filepath.Clean(path) != path {
		return fmt.Errorf("path %q is not normalized", path)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
