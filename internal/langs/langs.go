// Package langs maps file extensions to the source kinds a build cares about.
//
// The mapping is shared by the compiler model, which picks the C or C++
// driver per source, and by the watcher, which only reacts to files that can
// affect a build.
package langs

import (
	"path/filepath"
	"strings"
)

// Kind is a source classification.
type Kind string

const (
	C      Kind = "c"
	CXX    Kind = "cxx"
	Header Kind = "header"
	Script Kind = "script"
)

// Extensions maps each kind to its file extensions.
var Extensions = map[Kind][]string{
	C:      {".c"},
	CXX:    {".cc", ".cpp", ".cxx", ".c++", ".C", ".mm"},
	Header: {".h", ".hh", ".hpp", ".hxx", ".inl"},
	Script: {".toml", ".py"},
}

// IgnoredDirs contains directory prefixes to skip while watching.
//
// Prefix matching means "." matches ".git" and ".ambuild2".
var IgnoredDirs = []string{
	".",
	"node_modules",
	"__pycache__",
}

// Classify returns the kind of path, or "" if the extension is unknown.
// ".C" is C++ on case-sensitive file systems, so the exact extension is
// tried before its lower-case form.
func Classify(path string) Kind {
	ext := filepath.Ext(path)
	if ext == "" {
		return ""
	}
	if k := lookup(ext); k != "" {
		return k
	}
	return lookup(strings.ToLower(ext))
}

func lookup(ext string) Kind {
	for kind, exts := range Extensions {
		for _, e := range exts {
			if e == ext {
				return kind
			}
		}
	}
	return ""
}

// IsC reports whether path should be compiled with the C driver.
func IsC(path string) bool {
	return filepath.Ext(path) == ".c"
}

// ExtensionSet returns a set of all extensions for the given kinds.
//
// If kinds is empty, returns every known extension.
func ExtensionSet(kinds []Kind) map[string]bool {
	extensions := make(map[string]bool)
	if len(kinds) == 0 {
		for _, exts := range Extensions {
			for _, ext := range exts {
				extensions[ext] = true
			}
		}
		return extensions
	}
	for _, kind := range kinds {
		for _, ext := range Extensions[kind] {
			extensions[ext] = true
		}
	}
	return extensions
}

// IgnoreDirSet returns a set of ignored directory prefixes,
// combining defaults with any additional patterns.
func IgnoreDirSet(additional []string) map[string]bool {
	dirs := make(map[string]bool)
	for _, dir := range IgnoredDirs {
		dirs[dir] = true
	}
	for _, dir := range additional {
		dirs[dir] = true
	}
	return dirs
}
