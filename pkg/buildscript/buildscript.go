// Package buildscript loads TOML build descriptions.
//
// A source tree has an AMBuildScript.toml at its root. Each entry of its
// subdirs list names a folder holding an AMBuilder.toml, which may list
// further subdirs. Every script builds into the folder of the same relative
// path under the build root.
package buildscript

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/albertocavalcante/ambuild/internal/log"
)

const (
	// RootScript is the script at the top of a source tree.
	RootScript = "AMBuildScript.toml"

	// SubScript is the script inside every subdirs entry.
	SubScript = "AMBuilder.toml"
)

// CompilerOverrides adjusts the detected compiler for one script and the
// scripts below it.
type CompilerOverrides struct {
	CC        string   `toml:"cc"`
	CXX       string   `toml:"cxx"`
	CFlags    []string `toml:"cflags"`
	CXXFlags  []string `toml:"cxxflags"`
	Defines   []string `toml:"defines"`
	Includes  []string `toml:"includes"`
	LinkFlags []string `toml:"linkflags"`
}

// Command is a custom step with declared inputs and outputs.
type Command struct {
	Name string `toml:"name"`

	// Folder is relative to the script's build folder.
	Folder string   `toml:"folder"`
	Argv   []string `toml:"argv"`

	// Inputs are absolute source paths or build-relative outputs of other steps.
	Inputs     []string `toml:"inputs"`
	WeakInputs []string `toml:"weak_inputs"`

	// Outputs are file names inside Folder.
	Outputs []string `toml:"outputs"`
	Group   string   `toml:"group"`
}

// Binary is a library or program target.
type Binary struct {
	Name      string   `toml:"name"`
	Sources   []string `toml:"sources"`
	Includes  []string `toml:"includes"`
	Defines   []string `toml:"defines"`
	CFlags    []string `toml:"cflags"`
	CXXFlags  []string `toml:"cxxflags"`
	LinkFlags []string `toml:"linkflags"`

	// SourceDeps must exist before any source compiles, e.g. generated headers.
	SourceDeps []string `toml:"source_deps"`

	// LinkDeps names other library targets this binary links against.
	LinkDeps []string `toml:"link_deps"`

	// Postlink goes on the link line right after objects and link_deps,
	// where system libraries like -lpthread must appear.
	Postlink []string `toml:"postlink"`

	Arch               []string `toml:"arch"`
	PrecompiledHeaders []string `toml:"precompiled_headers"`
}

// Copy places a file into a build folder.
type Copy struct {
	Source string `toml:"source"`
	Folder string `toml:"folder"`
	Group  string `toml:"group"`
}

// Symlink creates a link inside a build folder.
type Symlink struct {
	Source string `toml:"source"`
	Output string `toml:"output"`
	Group  string `toml:"group"`
}

// Folder requests an empty build folder.
type Folder struct {
	Path string `toml:"path"`
}

// Script is one parsed build description.
type Script struct {
	// Path is the absolute path of the script file.
	Path string `toml:"-"`

	// SourceDir is the absolute directory containing the script.
	SourceDir string `toml:"-"`

	// BuildFolder is SourceDir relative to the source root; "" for the root.
	BuildFolder string `toml:"-"`

	Compiler        CompilerOverrides `toml:"compiler"`
	Commands        []Command         `toml:"command"`
	Libraries       []Binary          `toml:"library"`
	SharedLibraries []Binary          `toml:"shared_library"`
	Programs        []Binary          `toml:"program"`
	Copies          []Copy            `toml:"copy"`
	Symlinks        []Symlink         `toml:"symlink"`
	Folders         []Folder          `toml:"folder"`
	Subdirs         []string          `toml:"subdirs"`
}

// Vars are the values substituted for ${NAME} references.
type Vars struct {
	SourceRoot string
	BuildRoot  string
}

// Load parses the root script of sourceRoot and every script reachable
// through subdirs. Scripts are returned parents first.
func Load(sourceRoot, buildRoot string) ([]*Script, error) {
	var err error
	if sourceRoot, err = filepath.Abs(sourceRoot); err != nil {
		return nil, err
	}
	if buildRoot, err = filepath.Abs(buildRoot); err != nil {
		return nil, err
	}
	vars := Vars{SourceRoot: sourceRoot, BuildRoot: buildRoot}
	root, err := Parse(filepath.Join(sourceRoot, RootScript), vars)
	if err != nil {
		return nil, err
	}

	scripts := []*Script{root}
	seen := map[string]bool{root.Path: true}
	for i := 0; i < len(scripts); i++ {
		parent := scripts[i]
		for _, sub := range parent.Subdirs {
			path := filepath.Join(parent.SourceDir, filepath.FromSlash(sub), SubScript)
			if seen[path] {
				return nil, fmt.Errorf("%s: subdir %q included twice", parent.Path, sub)
			}
			seen[path] = true

			child, err := Parse(path, vars)
			if err != nil {
				return nil, err
			}
			child.inherit(parent)
			scripts = append(scripts, child)
		}
	}

	log.V(log.VerbosityDebug).Debug("loaded build scripts", "count", len(scripts))
	return scripts, nil
}

// Parse reads one script. vars provides the roots used for the script's
// build folder and for variable expansion.
func Parse(path string, vars Vars) (*Script, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	var s Script
	md, err := toml.DecodeFile(abs, &s)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("build script not found: %s", abs)
		}
		return nil, fmt.Errorf("%s: %w", abs, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("%s: unknown keys: %s", abs, strings.Join(keys, ", "))
	}

	s.Path = abs
	s.SourceDir = filepath.Dir(abs)
	rel, err := filepath.Rel(vars.SourceRoot, s.SourceDir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("%s: script is outside the source root %s", abs, vars.SourceRoot)
	}
	if rel == "." {
		rel = ""
	}
	s.BuildFolder = rel

	if err := s.expand(vars); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// inherit prepends the parent's compiler overrides.
func (s *Script) inherit(parent *Script) {
	p := parent.Compiler
	if s.Compiler.CC == "" {
		s.Compiler.CC = p.CC
	}
	if s.Compiler.CXX == "" {
		s.Compiler.CXX = p.CXX
	}
	s.Compiler.CFlags = concat(p.CFlags, s.Compiler.CFlags)
	s.Compiler.CXXFlags = concat(p.CXXFlags, s.Compiler.CXXFlags)
	s.Compiler.Defines = concat(p.Defines, s.Compiler.Defines)
	s.Compiler.Includes = concat(p.Includes, s.Compiler.Includes)
	s.Compiler.LinkFlags = concat(p.LinkFlags, s.Compiler.LinkFlags)
}

// Binaries returns every binary target with its kind.
func (s *Script) Binaries() []Target {
	var out []Target
	for _, b := range s.Libraries {
		out = append(out, Target{Kind: KindLibrary, Binary: b})
	}
	for _, b := range s.SharedLibraries {
		out = append(out, Target{Kind: KindSharedLibrary, Binary: b})
	}
	for _, b := range s.Programs {
		out = append(out, Target{Kind: KindProgram, Binary: b})
	}
	return out
}

// Kind distinguishes binary tables.
type Kind string

const (
	KindLibrary       Kind = "library"
	KindSharedLibrary Kind = "shared_library"
	KindProgram       Kind = "program"
)

// Target pairs a binary with the table it came from.
type Target struct {
	Kind   Kind
	Binary Binary
}

// Validate checks required fields. Errors name the script and the table.
func (s *Script) Validate() error {
	fail := func(table string, i int, format string, args ...any) error {
		return fmt.Errorf("%s: [[%s]] #%d: %s", s.Path, table, i+1, fmt.Sprintf(format, args...))
	}

	for i, c := range s.Commands {
		if len(c.Argv) == 0 {
			return fail("command", i, "argv is required")
		}
		if len(c.Outputs) == 0 {
			return fail("command", i, "at least one output is required")
		}
		for _, out := range c.Outputs {
			if out == "" || filepath.IsAbs(out) || strings.ContainsAny(out, `/\`) {
				return fail("command", i, "output %q must be a plain file name", out)
			}
		}
		if err := checkFolder(c.Folder); err != nil {
			return fail("command", i, "%v", err)
		}
	}

	names := map[string]bool{}
	for _, t := range []struct {
		kind Kind
		list []Binary
	}{
		{KindLibrary, s.Libraries},
		{KindSharedLibrary, s.SharedLibraries},
		{KindProgram, s.Programs},
	} {
		for i, b := range t.list {
			if b.Name == "" {
				return fail(string(t.kind), i, "name is required")
			}
			if names[b.Name] {
				return fail(string(t.kind), i, "duplicate target name %q", b.Name)
			}
			names[b.Name] = true
			if len(b.Sources) == 0 {
				return fail(string(t.kind), i, "target %q has no sources", b.Name)
			}
			for _, arch := range b.Arch {
				if arch != "x86" && arch != "x86_64" {
					return fail(string(t.kind), i, "unknown arch %q", arch)
				}
			}
		}
	}

	for i, c := range s.Copies {
		if c.Source == "" {
			return fail("copy", i, "source is required")
		}
		if err := checkFolder(c.Folder); err != nil {
			return fail("copy", i, "%v", err)
		}
	}
	for i, l := range s.Symlinks {
		if l.Source == "" || l.Output == "" {
			return fail("symlink", i, "source and output are required")
		}
		if err := checkFolder(l.Output); err != nil {
			return fail("symlink", i, "%v", err)
		}
	}
	for i, f := range s.Folders {
		if f.Path == "" {
			return fail("folder", i, "path is required")
		}
		if err := checkFolder(f.Path); err != nil {
			return fail("folder", i, "%v", err)
		}
	}
	for _, sub := range s.Subdirs {
		if err := checkFolder(sub); err != nil || sub == "" {
			return fmt.Errorf("%s: subdirs: invalid entry %q", s.Path, sub)
		}
	}
	return nil
}

// SourcePath resolves a path from the script against its source directory.
func (s *Script) SourcePath(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(s.SourceDir, filepath.FromSlash(p))
}

// BuildPath resolves a folder from the script against its build folder.
func (s *Script) BuildPath(p string) string {
	return filepath.Join(s.BuildFolder, filepath.FromSlash(p))
}

func checkFolder(p string) error {
	if p == "" {
		return nil
	}
	if filepath.IsAbs(p) {
		return fmt.Errorf("path %q must be relative", p)
	}
	clean := filepath.ToSlash(filepath.Clean(filepath.FromSlash(p)))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("path %q escapes the build folder", p)
	}
	return nil
}

func concat(a, b []string) []string {
	if len(a) == 0 {
		return b
	}
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
