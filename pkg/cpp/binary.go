package cpp

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/albertocavalcante/ambuild/internal/langs"
)

// Kind is the type of a linked binary.
type Kind string

const (
	StaticLibrary Kind = "static"
	SharedLibrary Kind = "shared"
	Program       Kind = "program"
)

// ObjectFile is one compile step of a binary.
type ObjectFile struct {
	// SourceFile is absolute.
	SourceFile string
	// OutputFile is relative to the build root.
	OutputFile string
	Argv       []string
}

// PCHFile is a precompiled header step.
type PCHFile struct {
	HeaderFile string
	OutputFile string
	Argv       []string
}

// Binary expands a target into compile and link command lines. Every command
// runs inside Folder, so command lines name sibling files by base name.
type Binary struct {
	Kind     Kind
	Name     string
	Folder   string
	Compiler *Compiler

	// Sources and PrecompiledHeaders are absolute paths.
	Sources            []string
	PrecompiledHeaders []string

	// LinkDeps are build-relative paths of libraries to link against.
	LinkDeps []string

	// Filled in by Generate.
	ObjFiles   []ObjectFile
	PCHFiles   []PCHFile
	OutputFile string
	Argv       []string
}

// ErrPCHUnsupported is returned for precompiled headers with MSVC.
var ErrPCHUnsupported = errors.New("precompiled headers require a gcc-style compiler")

// Generate computes object, precompiled header and link steps.
func (b *Binary) Generate() error {
	c := b.Compiler
	if c == nil {
		return errors.New("binary has no compiler")
	}
	if len(b.Sources) == 0 {
		return fmt.Errorf("binary %s has no sources", b.Name)
	}
	if len(b.PrecompiledHeaders) > 0 && c.Behavior != GCC {
		return fmt.Errorf("%s: %w", b.Name, ErrPCHUnsupported)
	}

	b.ObjFiles = nil
	b.PCHFiles = nil

	var pchArgs []string
	for _, header := range b.PrecompiledHeaders {
		base := filepath.Base(header)
		argv := []string{c.CXX}
		argv = append(argv, c.CFlags...)
		argv = append(argv, c.CXXFlags...)
		argv = append(argv, b.preprocessorArgs()...)
		argv = append(argv, "-H", "-x", "c++-header", header, "-o", base+".gch")
		b.PCHFiles = append(b.PCHFiles, PCHFile{
			HeaderFile: header,
			OutputFile: filepath.Join(b.Folder, base+".gch"),
			Argv:       argv,
		})
		pchArgs = append(pchArgs, "-I"+filepath.Dir(header), "-include", base)
	}

	used := map[string]int{}
	for _, src := range b.Sources {
		stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
		name := stem + c.ObjectSuffix()
		if n := used[stem]; n > 0 {
			name = fmt.Sprintf("%s_%d%s", stem, n, c.ObjectSuffix())
		}
		used[stem]++

		b.ObjFiles = append(b.ObjFiles, ObjectFile{
			SourceFile: src,
			OutputFile: filepath.Join(b.Folder, name),
			Argv:       b.compileArgv(src, name, pchArgs),
		})
	}

	out := c.OutputName(b.Kind, b.Name)
	b.OutputFile = filepath.Join(b.Folder, out)

	deps := make([]string, 0, len(b.LinkDeps))
	for _, dep := range b.LinkDeps {
		rel, err := filepath.Rel(b.Folder, dep)
		if err != nil {
			return fmt.Errorf("link dependency %s: %w", dep, err)
		}
		deps = append(deps, rel)
	}
	b.Argv = b.linkArgv(out, deps)
	return nil
}

func (b *Binary) preprocessorArgs() []string {
	c := b.Compiler
	prefixD, prefixI := "-D", "-I"
	if c.Behavior == MSVC {
		prefixD, prefixI = "/D", "/I"
	}
	var args []string
	for _, d := range c.Defines {
		args = append(args, prefixD+d)
	}
	for _, inc := range c.Includes {
		args = append(args, prefixI+inc)
	}
	return args
}

func (b *Binary) compileArgv(src, obj string, pchArgs []string) []string {
	c := b.Compiler
	isC := langs.IsC(src)

	driver := c.CXX
	if isC {
		driver = c.CC
	}
	argv := []string{driver}
	argv = append(argv, c.CFlags...)
	if !isC {
		argv = append(argv, c.CXXFlags...)
	}
	argv = append(argv, b.preprocessorArgs()...)

	if c.Behavior == MSVC {
		return append(argv, "/showIncludes", "/nologo", "/c", src, "/Fo"+obj)
	}
	if b.Kind == SharedLibrary && c.Platform != "windows" {
		argv = append(argv, "-fPIC")
	}
	if !isC {
		argv = append(argv, pchArgs...)
	}
	return append(argv, "-H", "-c", src, "-o", obj)
}

func (b *Binary) linkArgv(out string, deps []string) []string {
	c := b.Compiler
	objs := make([]string, 0, len(b.ObjFiles))
	for _, o := range b.ObjFiles {
		objs = append(objs, filepath.Base(o.OutputFile))
	}

	if b.Kind == StaticLibrary {
		if c.Behavior == MSVC {
			argv := []string{c.AR, "/NOLOGO", "/OUT:" + out}
			return append(argv, objs...)
		}
		argv := []string{c.AR, "rcs", out}
		return append(argv, objs...)
	}

	argv := []string{c.CXX}
	argv = append(argv, objs...)
	argv = append(argv, deps...)
	argv = append(argv, c.Postlink...)

	if c.Behavior == MSVC {
		argv = append(argv, "/nologo", "/link")
		argv = append(argv, c.LinkFlags...)
		if b.Kind == SharedLibrary {
			argv = append(argv, "/DLL")
		}
		return append(argv, "/OUT:"+out)
	}

	argv = append(argv, c.LinkFlags...)
	if b.Kind == SharedLibrary {
		argv = append(argv, "-shared")
	}
	return append(argv, "-o", out)
}
