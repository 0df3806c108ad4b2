package graph

import (
	"fmt"
	"path/filepath"

	"github.com/albertocavalcante/ambuild/internal/langs"
	"github.com/albertocavalcante/ambuild/internal/log"
	"github.com/albertocavalcante/ambuild/pkg/buildscript"
	"github.com/albertocavalcante/ambuild/pkg/cpp"
	"github.com/albertocavalcante/ambuild/pkg/nodetypes"
)

// Generator turns build scripts into a graph.
type Generator struct {
	SourcePath string
	BuildPath  string
	Compiler   *cpp.Compiler

	// Arch is the arch list for targets that do not name one.
	Arch []string

	graph     *Builder
	libraries map[string]map[string]string
}

// NewGenerator returns a generator for one configure run.
func NewGenerator(sourcePath, buildPath string, c *cpp.Compiler) *Generator {
	return &Generator{
		SourcePath: sourcePath,
		BuildPath:  buildPath,
		Compiler:   c,
		graph:      NewBuilder(),
		libraries:  make(map[string]map[string]string),
	}
}

// Graph returns the graph built so far.
func (g *Generator) Graph() *Builder {
	return g.graph
}

// Generate processes scripts in order. A script may only refer to outputs
// and libraries declared by itself or by scripts before it.
func (g *Generator) Generate(scripts []*buildscript.Script) (*Builder, error) {
	for _, s := range scripts {
		if err := g.script(s); err != nil {
			return nil, err
		}
	}
	log.V(log.VerbosityDebug).Debug("generated graph",
		"commands", len(g.graph.Commands()),
		"outputs", len(g.graph.Outputs()),
		"folders", len(g.graph.Folders()))
	return g.graph, nil
}

func (g *Generator) vars() buildscript.Vars {
	return buildscript.Vars{SourceRoot: g.SourcePath, BuildRoot: g.BuildPath}
}

func (g *Generator) input(path string) (*Node, error) {
	p, isSource := buildscript.ResolveInput(path, g.vars())
	if isSource {
		return g.graph.AddSource(p)
	}
	return g.graph.DepNodeForPath(p)
}

func (g *Generator) script(s *buildscript.Script) error {
	wrap := func(table string, err error) error {
		return fmt.Errorf("%s: [[%s]]: %w", s.Path, table, err)
	}

	for _, f := range s.Folders {
		if _, err := g.graph.GenerateFolder(s.BuildPath(f.Path)); err != nil {
			return wrap("folder", err)
		}
	}

	for _, c := range s.Commands {
		if err := g.command(s, c); err != nil {
			return wrap("command", err)
		}
	}

	for _, c := range s.Copies {
		folder, err := g.graph.GenerateFolder(s.BuildPath(c.Folder))
		if err != nil {
			return wrap("copy", err)
		}
		source, _ := buildscript.ResolveInput(s.SourcePath(c.Source), g.vars())
		_, out, err := g.graph.AddCopy(source, folder)
		if err != nil {
			return wrap("copy", err)
		}
		if c.Group != "" {
			g.graph.AddToGroup(g.graph.AddGroup(c.Group), out)
		}
	}

	for _, l := range s.Symlinks {
		source, _ := buildscript.ResolveInput(s.SourcePath(l.Source), g.vars())
		_, out, err := g.graph.AddSymlink(source, s.BuildPath(l.Output))
		if err != nil {
			return wrap("symlink", err)
		}
		if l.Group != "" {
			g.graph.AddToGroup(g.graph.AddGroup(l.Group), out)
		}
	}

	base := g.scriptCompiler(s)
	for _, t := range s.Binaries() {
		if err := g.target(s, base, t); err != nil {
			return wrap(string(t.Kind), fmt.Errorf("%s: %w", t.Binary.Name, err))
		}
	}
	return nil
}

func (g *Generator) command(s *buildscript.Script, c buildscript.Command) error {
	folder, err := g.graph.GenerateFolder(s.BuildPath(c.Folder))
	if err != nil {
		return err
	}
	cmd, outs, err := g.graph.AddCommandWithOutputs(nodetypes.Command, folder, &nodetypes.Data{Argv: c.Argv}, c.Outputs...)
	if err != nil {
		return err
	}
	for _, in := range c.Inputs {
		node, err := g.input(in)
		if err != nil {
			return err
		}
		g.graph.AddDependency(cmd, node)
	}
	for _, in := range c.WeakInputs {
		node, err := g.input(in)
		if err != nil {
			return err
		}
		g.graph.AddWeakDependency(cmd, node)
	}
	if c.Group != "" {
		group := g.graph.AddGroup(c.Group)
		for _, out := range outs {
			g.graph.AddToGroup(group, out)
		}
	}
	return nil
}

// scriptCompiler applies a script's [compiler] table to the detected compiler.
func (g *Generator) scriptCompiler(s *buildscript.Script) *cpp.Compiler {
	c := g.Compiler.Clone()
	o := s.Compiler
	if o.CC != "" {
		c.CC = o.CC
	}
	if o.CXX != "" {
		c.CXX = o.CXX
	}
	c.CFlags = append(c.CFlags, o.CFlags...)
	c.CXXFlags = append(c.CXXFlags, o.CXXFlags...)
	c.Defines = append(c.Defines, o.Defines...)
	for _, inc := range o.Includes {
		c.Includes = append(c.Includes, s.SourcePath(inc))
	}
	c.LinkFlags = append(c.LinkFlags, o.LinkFlags...)
	return c
}

func kindOf(k buildscript.Kind) cpp.Kind {
	switch k {
	case buildscript.KindSharedLibrary:
		return cpp.SharedLibrary
	case buildscript.KindProgram:
		return cpp.Program
	}
	return cpp.StaticLibrary
}

func (g *Generator) target(s *buildscript.Script, base *cpp.Compiler, t buildscript.Target) error {
	spec := t.Binary
	arches := spec.Arch
	if len(arches) == 0 {
		arches = g.Arch
	}
	if len(arches) == 0 {
		arches = []string{""}
	}

	var sourceDeps []*Node
	for _, dep := range spec.SourceDeps {
		node, err := g.input(dep)
		if err != nil {
			return fmt.Errorf("source_deps: %w", err)
		}
		sourceDeps = append(sourceDeps, node)
	}

	for _, arch := range arches {
		c, err := base.ForArch(arch)
		if err != nil {
			return err
		}
		c.Defines = append(c.Defines, spec.Defines...)
		for _, inc := range spec.Includes {
			c.Includes = append(c.Includes, s.SourcePath(inc))
		}
		c.CFlags = append(c.CFlags, spec.CFlags...)
		c.CXXFlags = append(c.CXXFlags, spec.CXXFlags...)
		c.LinkFlags = append(c.LinkFlags, spec.LinkFlags...)
		c.Postlink = append(c.Postlink, spec.Postlink...)

		folder := filepath.Join(s.BuildFolder, spec.Name)
		if arch != "" {
			folder = filepath.Join(s.BuildFolder, arch, spec.Name)
		}

		bin := &cpp.Binary{
			Kind:     kindOf(t.Kind),
			Name:     spec.Name,
			Folder:   folder,
			Compiler: c,
		}
		for _, src := range spec.Sources {
			bin.Sources = append(bin.Sources, s.SourcePath(src))
		}
		for _, h := range spec.PrecompiledHeaders {
			bin.PrecompiledHeaders = append(bin.PrecompiledHeaders, s.SourcePath(h))
		}
		for _, name := range spec.LinkDeps {
			out, ok := g.libraries[name][arch]
			if !ok {
				return fmt.Errorf("link_deps: no library %q for arch %q declared before this target", name, archLabel(arch))
			}
			bin.LinkDeps = append(bin.LinkDeps, out)
		}

		if err := bin.Generate(); err != nil {
			return err
		}
		if _, err := g.AddCxxTasks(bin, sourceDeps); err != nil {
			return err
		}

		if bin.Kind != cpp.Program {
			if g.libraries[spec.Name] == nil {
				g.libraries[spec.Name] = make(map[string]string)
			}
			g.libraries[spec.Name][arch] = bin.OutputFile
		}
	}
	return nil
}

func archLabel(arch string) string {
	if arch == "" {
		return "default"
	}
	return arch
}

// AddCxxTasks adds the compile, precompiled header and link commands of an
// expanded binary. Every compile depends on sourceDeps. It returns the
// binary's output node.
func (g *Generator) AddCxxTasks(bin *cpp.Binary, sourceDeps []*Node) (*Node, error) {
	b := g.graph
	folder, err := b.GenerateFolder(bin.Folder)
	if err != nil {
		return nil, err
	}

	binNode, err := b.AddOutput(bin.OutputFile)
	if err != nil {
		return nil, err
	}
	linkCmd := b.AddCommand(nodetypes.Command, folder, &nodetypes.Data{Argv: bin.Argv})
	b.AddDependency(binNode, linkCmd)

	for _, dep := range bin.LinkDeps {
		node, err := b.DepNodeForPath(dep)
		if err != nil {
			return nil, err
		}
		b.AddDependency(linkCmd, node)
	}

	behavior := bin.Compiler.Behavior
	var pchOutputs []*Node
	for _, pch := range bin.PCHFiles {
		srcNode, err := b.AddSource(pch.HeaderFile)
		if err != nil {
			return nil, err
		}
		cmd, outs, err := b.AddCommandWithOutputs(nodetypes.Cxx, folder,
			&nodetypes.Data{Argv: pch.Argv, Behavior: behavior}, filepath.Base(pch.OutputFile))
		if err != nil {
			return nil, err
		}
		b.AddDependency(cmd, srcNode)
		for _, dep := range sourceDeps {
			b.AddDependency(cmd, dep)
		}
		pchOutputs = append(pchOutputs, outs...)
	}

	for _, obj := range bin.ObjFiles {
		srcNode, err := b.AddSource(obj.SourceFile)
		if err != nil {
			return nil, err
		}
		cmd, outs, err := b.AddCommandWithOutputs(nodetypes.Cxx, folder,
			&nodetypes.Data{Argv: obj.Argv, Behavior: behavior}, filepath.Base(obj.OutputFile))
		if err != nil {
			return nil, err
		}
		b.AddDependency(cmd, srcNode)
		for _, dep := range sourceDeps {
			b.AddDependency(cmd, dep)
		}
		if !langs.IsC(obj.SourceFile) {
			for _, pch := range pchOutputs {
				b.AddDependency(cmd, pch)
			}
		}
		b.AddDependency(linkCmd, outs[0])
	}

	return binNode, nil
}
