// Package build drives the two phases of a build: configure turns build
// scripts into the graph database, build brings a configured folder up to
// date.
package build

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/albertocavalcante/ambuild/internal/log"
	"github.com/albertocavalcante/ambuild/internal/runner"
	"github.com/albertocavalcante/ambuild/pkg/buildscript"
	"github.com/albertocavalcante/ambuild/pkg/cpp"
	"github.com/albertocavalcante/ambuild/pkg/database"
	"github.com/albertocavalcante/ambuild/pkg/graph"
	"github.com/albertocavalcante/ambuild/pkg/stamp"
)

// ErrSourceIsBuild is returned when configuring into the source folder.
var ErrSourceIsBuild = errors.New("build folder must differ from the source folder")

// ConfigureOptions controls a configure run.
type ConfigureOptions struct {
	SourcePath string
	BuildPath  string

	CC   string
	CXX  string
	Arch []string

	// Refactor fails the configure if any command would change.
	Refactor bool

	// Finder locates compilers; defaults to a runner searching PATH.
	Finder cpp.Finder

	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

func (o *ConfigureOptions) normalize() error {
	var err error
	if o.SourcePath, err = filepath.Abs(o.SourcePath); err != nil {
		return err
	}
	if o.BuildPath, err = filepath.Abs(o.BuildPath); err != nil {
		return err
	}
	if o.SourcePath == o.BuildPath {
		return fmt.Errorf("%w: %s", ErrSourceIsBuild, o.SourcePath)
	}
	if o.Finder == nil {
		o.Finder = runner.New()
	}
	if o.Getenv == nil {
		o.Getenv = os.Getenv
	}
	return nil
}

// Configure generates the graph for a source folder and reconciles it into
// the build folder's database, creating it on first use.
func Configure(opts ConfigureOptions) (*graph.ExportStats, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(opts.BuildPath, graph.CacheFolder), 0o755); err != nil {
		return nil, fmt.Errorf("create build folder: %w", err)
	}

	db, err := database.Open(graph.DatabasePath(opts.BuildPath), opts.BuildPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	return configure(db, opts)
}

func configure(db *database.Database, opts ConfigureOptions) (*graph.ExportStats, error) {
	logger := log.Component("configure")
	if err := db.CreateTables(); err != nil {
		return nil, err
	}

	scripts, err := buildscript.Load(opts.SourcePath, opts.BuildPath)
	if err != nil {
		return nil, err
	}

	compiler, err := cpp.Detect(opts.Finder, cpp.DetectOptions{
		CC:     opts.CC,
		CXX:    opts.CXX,
		Getenv: opts.Getenv,
	})
	if err != nil {
		return nil, err
	}

	gen := graph.NewGenerator(opts.SourcePath, opts.BuildPath, compiler)
	gen.Arch = opts.Arch
	g, err := gen.Generate(scripts)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(scripts))
	for _, s := range scripts {
		paths = append(paths, s.Path)
	}
	stats, err := graph.Export(db, g, paths, opts.Refactor)
	if err != nil {
		return nil, err
	}

	err = graph.SaveVars(graph.Vars{
		SourcePath: opts.SourcePath,
		BuildPath:  opts.BuildPath,
		CC:         opts.CC,
		CXX:        opts.CXX,
		Arch:       opts.Arch,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("configured build folder", "source", opts.SourcePath, "build", opts.BuildPath, "scripts", len(scripts))
	return stats, nil
}

// needsReconfigure reports whether any recorded build script changed or
// disappeared since the last configure.
func needsReconfigure(db *database.Database) (bool, error) {
	scripts, err := db.QueryScripts()
	if err != nil {
		return false, err
	}
	if len(scripts) == 0 {
		return true, nil
	}
	for _, s := range scripts {
		cur, err := stamp.Stat(s.Path)
		if err != nil {
			log.Component("build").Debug("build script is gone", "path", s.Path)
			return true, nil
		}
		if cur.ModTime != s.Stamp {
			log.Component("build").Debug("build script changed", "path", s.Path)
			return true, nil
		}
	}
	return false, nil
}
