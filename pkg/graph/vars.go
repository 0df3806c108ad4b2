package graph

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const (
	// CacheFolder holds the graph database and vars inside a build folder.
	CacheFolder = ".ambuild2"

	databaseFile = "graph"
	varsFile     = "vars"
)

// ErrNotConfigured is returned when a folder has no configured build.
var ErrNotConfigured = errors.New("build folder is not configured; run ambuild configure first")

// Vars records how a build folder was configured, so that a build can
// reconfigure itself without the original command line.
type Vars struct {
	SourcePath string   `toml:"source_path"`
	BuildPath  string   `toml:"build_path"`
	CC         string   `toml:"cc,omitempty"`
	CXX        string   `toml:"cxx,omitempty"`
	Arch       []string `toml:"arch,omitempty"`
}

// DatabasePath returns the graph database location for a build folder.
func DatabasePath(buildPath string) string {
	return filepath.Join(buildPath, CacheFolder, databaseFile)
}

// SaveVars writes vars into the build folder's cache folder.
func SaveVars(v Vars) error {
	dir := filepath.Join(v.BuildPath, CacheFolder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache folder: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("encode vars: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, varsFile), buf.Bytes(), 0o644)
}

// LoadVars reads the vars of a configured build folder.
func LoadVars(buildPath string) (*Vars, error) {
	path := filepath.Join(buildPath, CacheFolder, varsFile)
	var v Vars
	if _, err := toml.DecodeFile(path, &v); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotConfigured, buildPath)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &v, nil
}
