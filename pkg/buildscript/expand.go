package buildscript

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Expand replaces ${SOURCE}, ${BUILD}, ${SOURCE_FOLDER} and ${BUILD_FOLDER}
// in value. BUILD_FOLDER is relative to the build root ("." at the top).
// A bare $NAME is left alone, so flags like -Wl,-rpath,$ORIGIN pass through.
func Expand(value string, vars Vars, sourceFolder, buildFolder string) (string, error) {
	lookup := func(name string) (string, bool) {
		switch name {
		case "SOURCE":
			return vars.SourceRoot, true
		case "BUILD":
			return vars.BuildRoot, true
		case "SOURCE_FOLDER":
			return sourceFolder, true
		case "BUILD_FOLDER":
			if buildFolder == "" {
				return ".", true
			}
			return buildFolder, true
		}
		return "", false
	}

	var b strings.Builder
	rest := value
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			return "", fmt.Errorf("unterminated ${ in %q", value)
		}
		name := rest[start+2 : start+end]
		sub, ok := lookup(name)
		if !ok {
			return "", fmt.Errorf("unknown variable ${%s} in %q", name, value)
		}
		b.WriteString(rest[:start])
		b.WriteString(sub)
		rest = rest[start+end+1:]
	}
}

func (s *Script) expand(vars Vars) error {
	one := func(table string, v *string) error {
		out, err := Expand(*v, vars, s.SourceDir, s.BuildFolder)
		if err != nil {
			return fmt.Errorf("%s: [%s]: %w", s.Path, table, err)
		}
		*v = out
		return nil
	}
	list := func(table string, vs []string) error {
		for i := range vs {
			if err := one(table, &vs[i]); err != nil {
				return err
			}
		}
		return nil
	}

	c := &s.Compiler
	for _, l := range [][]string{c.CFlags, c.CXXFlags, c.Defines, c.Includes, c.LinkFlags} {
		if err := list("compiler", l); err != nil {
			return err
		}
	}
	if err := one("compiler", &c.CC); err != nil {
		return err
	}
	if err := one("compiler", &c.CXX); err != nil {
		return err
	}

	for i := range s.Commands {
		cmd := &s.Commands[i]
		for _, l := range [][]string{cmd.Argv, cmd.Inputs, cmd.WeakInputs} {
			if err := list("command", l); err != nil {
				return err
			}
		}
	}

	for _, table := range []struct {
		name string
		list []Binary
	}{
		{"library", s.Libraries},
		{"shared_library", s.SharedLibraries},
		{"program", s.Programs},
	} {
		for i := range table.list {
			b := &table.list[i]
			for _, l := range [][]string{b.Sources, b.Includes, b.Defines, b.CFlags, b.CXXFlags, b.LinkFlags, b.SourceDeps, b.PrecompiledHeaders, b.Postlink} {
				if err := list(table.name, l); err != nil {
					return err
				}
			}
		}
	}

	for i := range s.Copies {
		if err := one("copy", &s.Copies[i].Source); err != nil {
			return err
		}
	}
	for i := range s.Symlinks {
		if err := one("symlink", &s.Symlinks[i].Source); err != nil {
			return err
		}
	}
	return nil
}

// ResolveInput turns an expanded input into either an absolute source path
// or a build-relative path, cleaned to the host separator. Paths under the
// build root are made build-relative.
func ResolveInput(input string, vars Vars) (path string, isSource bool) {
	p := filepath.Clean(filepath.FromSlash(input))
	if !filepath.IsAbs(p) {
		return p, false
	}
	if rel, err := filepath.Rel(vars.BuildRoot, p); err == nil && rel != ".." && !hasParentPrefix(rel) {
		return rel, false
	}
	return p, true
}

func hasParentPrefix(rel string) bool {
	return len(rel) >= 3 && rel[:2] == ".." && os.IsPathSeparator(rel[2])
}
