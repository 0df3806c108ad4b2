// Package graph builds the dependency graph described by build scripts and
// reconciles it into the graph database.
package graph

import (
	"fmt"
	"path/filepath"

	"github.com/albertocavalcante/ambuild/pkg/nodetypes"
)

// Node is a vertex of the in-memory graph. Files are keyed by Path; commands
// are anonymous and identified by their outputs.
type Node struct {
	Type      nodetypes.Type
	Path      string
	Folder    *Node
	Data      *nodetypes.Data
	Generated bool

	// Strong and Weak list what this node depends on, in insertion order.
	Strong []*Node
	Weak   []*Node

	// Outputs lists the output nodes a command produces.
	Outputs []*Node

	strongSet map[*Node]bool
	weakSet   map[*Node]bool
}

// Format renders the node like a database entry.
func (n *Node) Format() string {
	e := nodetypes.Entry{Type: n.Type, Path: n.Path, Data: n.Data}
	return e.Format()
}

// Builder accumulates nodes for one configure run.
type Builder struct {
	files    map[string]*Node
	folders  []*Node
	commands []*Node
	groups   []*Node
	sources  []*Node
	outputs  []*Node
}

// NewBuilder returns an empty graph.
func NewBuilder() *Builder {
	return &Builder{files: make(map[string]*Node)}
}

// Folders returns folder nodes, parents before children.
func (b *Builder) Folders() []*Node { return b.folders }

// Commands returns command nodes in creation order.
func (b *Builder) Commands() []*Node { return b.commands }

// Groups returns group nodes in creation order.
func (b *Builder) Groups() []*Node { return b.groups }

// Sources returns source nodes in creation order.
func (b *Builder) Sources() []*Node { return b.sources }

// Outputs returns output nodes in creation order.
func (b *Builder) Outputs() []*Node { return b.outputs }

// Lookup returns the file, folder or group node at path.
func (b *Builder) Lookup(path string) *Node {
	return b.files[path]
}

// AddSource returns the source node for an absolute path, creating it once.
func (b *Builder) AddSource(path string) (*Node, error) {
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("source path %q must be absolute", path)
	}
	path = filepath.Clean(path)
	if n, ok := b.files[path]; ok {
		if n.Type != nodetypes.Source {
			return nil, fmt.Errorf("path %q is already a %s node", path, n.Type)
		}
		return n, nil
	}
	n := &Node{Type: nodetypes.Source, Path: path}
	b.files[path] = n
	b.sources = append(b.sources, n)
	return n, nil
}

// AddOutput declares a build-relative output file. Its folder is generated
// on demand. An output may only be declared once.
func (b *Builder) AddOutput(path string) (*Node, error) {
	if filepath.IsAbs(path) {
		return nil, fmt.Errorf("output path %q must be relative to the build folder", path)
	}
	path = filepath.Clean(path)
	if _, ok := b.files[path]; ok {
		return nil, fmt.Errorf("output %q is declared more than once", path)
	}

	folder, err := b.GenerateFolder(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	n := &Node{Type: nodetypes.Output, Path: path, Folder: folder}
	b.files[path] = n
	b.outputs = append(b.outputs, n)
	return n, nil
}

// GenerateFolder returns the folder node for a build-relative path, creating
// it and its parents. The build root itself is nil.
func (b *Builder) GenerateFolder(path string) (*Node, error) {
	path = filepath.Clean(path)
	if path == "." || path == "" {
		return nil, nil
	}
	if filepath.IsAbs(path) || path == ".." || hasParentPrefix(path) {
		return nil, fmt.Errorf("folder %q is outside the build folder", path)
	}
	if n, ok := b.files[path]; ok {
		if n.Type != nodetypes.Mkdir {
			return nil, fmt.Errorf("folder %q is already a %s node", path, n.Type)
		}
		return n, nil
	}

	parent, err := b.GenerateFolder(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	n := &Node{Type: nodetypes.Mkdir, Path: path, Folder: parent}
	b.files[path] = n
	b.folders = append(b.folders, n)
	return n, nil
}

// AddCommand creates a command node.
func (b *Builder) AddCommand(typ nodetypes.Type, folder *Node, data *nodetypes.Data) *Node {
	n := &Node{Type: typ, Folder: folder, Data: data}
	b.commands = append(b.commands, n)
	return n
}

// AddDependency records that outgoing depends on incoming. When outgoing is
// an output and incoming a command, the command produces the output.
func (b *Builder) AddDependency(outgoing, incoming *Node) {
	if outgoing.strongSet == nil {
		outgoing.strongSet = make(map[*Node]bool)
	}
	if outgoing.strongSet[incoming] {
		return
	}
	outgoing.strongSet[incoming] = true
	outgoing.Strong = append(outgoing.Strong, incoming)

	if outgoing.Type == nodetypes.Output && incoming.Type.IsCommand() {
		incoming.Outputs = append(incoming.Outputs, outgoing)
	}
}

// AddWeakDependency records that incoming must run before outgoing without
// propagating damage.
func (b *Builder) AddWeakDependency(outgoing, incoming *Node) {
	if outgoing.weakSet == nil {
		outgoing.weakSet = make(map[*Node]bool)
	}
	if outgoing.weakSet[incoming] {
		return
	}
	outgoing.weakSet[incoming] = true
	outgoing.Weak = append(outgoing.Weak, incoming)
}

// DepNodeForPath resolves an input: absolute paths are sources, relative
// paths must name a declared output or folder.
func (b *Builder) DepNodeForPath(path string) (*Node, error) {
	if filepath.IsAbs(path) {
		return b.AddSource(path)
	}
	n, ok := b.files[filepath.Clean(path)]
	if !ok {
		return nil, fmt.Errorf("%q is not an output of any command declared so far", path)
	}
	return n, nil
}

// AddCommandWithOutputs creates a command in folder producing the given file
// names inside it.
func (b *Builder) AddCommandWithOutputs(typ nodetypes.Type, folder *Node, data *nodetypes.Data, names ...string) (*Node, []*Node, error) {
	cmd := b.AddCommand(typ, folder, data)
	dir := ""
	if folder != nil {
		dir = folder.Path
	}
	outs := make([]*Node, 0, len(names))
	for _, name := range names {
		out, err := b.AddOutput(filepath.Join(dir, name))
		if err != nil {
			return nil, nil, err
		}
		b.AddDependency(out, cmd)
		outs = append(outs, out)
	}
	return cmd, outs, nil
}

// AddCopy copies source into folder under its base name.
func (b *Builder) AddCopy(source string, folder *Node) (*Node, *Node, error) {
	src, err := b.DepNodeForPath(source)
	if err != nil {
		return nil, nil, err
	}
	name := filepath.Base(source)
	cmd, outs, err := b.AddCommandWithOutputs(nodetypes.Copy, folder, &nodetypes.Data{Source: source, Dest: name}, name)
	if err != nil {
		return nil, nil, err
	}
	b.AddDependency(cmd, src)
	return cmd, outs[0], nil
}

// AddSymlink links output (build-relative) to source.
func (b *Builder) AddSymlink(source, output string) (*Node, *Node, error) {
	src, err := b.DepNodeForPath(source)
	if err != nil {
		return nil, nil, err
	}
	folder, err := b.GenerateFolder(filepath.Dir(output))
	if err != nil {
		return nil, nil, err
	}
	name := filepath.Base(output)
	cmd, outs, err := b.AddCommandWithOutputs(nodetypes.Symlink, folder, &nodetypes.Data{Source: source, Dest: name}, name)
	if err != nil {
		return nil, nil, err
	}
	b.AddDependency(cmd, src)
	return cmd, outs[0], nil
}

// AddGroup returns the named group, creating it once.
func (b *Builder) AddGroup(name string) *Node {
	path := nodetypes.GroupPrefix + name
	if n, ok := b.files[path]; ok {
		return n
	}
	n := &Node{Type: nodetypes.Group, Path: path}
	b.files[path] = n
	b.groups = append(b.groups, n)
	return n
}

// AddToGroup makes group depend on node.
func (b *Builder) AddToGroup(group, node *Node) {
	b.AddDependency(group, node)
}

func hasParentPrefix(p string) bool {
	return len(p) >= 3 && p[:2] == ".." && (p[2] == '/' || p[2] == filepath.Separator)
}
