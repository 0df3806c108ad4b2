package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/albertocavalcante/ambuild/pkg/damage"
	"github.com/albertocavalcante/ambuild/pkg/database"
	"github.com/albertocavalcante/ambuild/pkg/graph"
)

// openConfigured opens the database of a configured build folder.
func openConfigured(buildPath string) (*database.Database, error) {
	buildPath, err := filepath.Abs(buildPath)
	if err != nil {
		return nil, err
	}
	if _, err := graph.LoadVars(buildPath); err != nil {
		return nil, err
	}
	return database.Open(graph.DatabasePath(buildPath), buildPath)
}

// Status computes what a build would do without changing anything.
func Status(ctx context.Context, buildPath string) (*damage.Report, error) {
	db, err := openConfigured(buildPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()
	return damage.Compute(ctx, db)
}

// PrintGraph writes the dependency graph of a build folder to w.
func PrintGraph(buildPath string, w io.Writer) error {
	db, err := openConfigured(buildPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return db.PrintGraph(w)
}

// Clean deletes every output of a build folder and marks every command
// dirty, so the next build runs everything. It returns the number of files
// removed.
func Clean(buildPath string) (int, error) {
	db, err := openConfigured(buildPath)
	if err != nil {
		return 0, err
	}
	defer func() { _ = db.Close() }()

	removed := 0
	err = db.Transaction(func() error {
		commands, err := db.QueryCommands()
		if err != nil {
			return err
		}
		for _, cmd := range commands {
			if err := db.MarkDirty(cmd); err != nil {
				return err
			}
		}

		outputs, err := db.QueryOutputs()
		if err != nil {
			return err
		}
		for _, out := range outputs {
			err := os.Remove(db.FilePath(out))
			switch {
			case err == nil:
				removed++
			case !errors.Is(err, fs.ErrNotExist):
				return fmt.Errorf("remove %s: %w", out.Path, err)
			}
		}
		return nil
	})
	return removed, err
}
