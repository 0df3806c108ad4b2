package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/albertocavalcante/ambuild/cmd/ambuild/internal/watch"
	"github.com/albertocavalcante/ambuild/internal/langs"
	"github.com/albertocavalcante/ambuild/pkg/build"
	"github.com/albertocavalcante/ambuild/pkg/graph"
)

var watchFlags struct {
	debounce int
	kinds    []string
	jobs     int
	verbose  bool
	json     bool
	noColor  bool
}

var watchCmd = &cobra.Command{
	Use:   "watch [folder]",
	Short: "Rebuild whenever the source tree changes",
	Long: `Builds the folder once, then watches the source tree it was configured
from and rebuilds after every burst of changes. The build folder itself is
never watched.

Example output:

  $ ambuild watch obj

  ambuild: watching 12 directories in /path/to/src
  ambuild: build folder /path/to/src/obj
  ambuild: ready

  [14:32:15] core/vector.h changed, building...
  [14:32:16] ✓ 3 commands in 812ms

Press Ctrl+C to stop watching.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().IntVar(&watchFlags.debounce, "debounce", 0,
		"Debounce window in milliseconds (default from config, 300)")
	watchCmd.Flags().StringSliceVar(&watchFlags.kinds, "only", nil,
		"Only react to these file kinds (comma-separated: c, cxx, header)")
	watchCmd.Flags().IntVarP(&watchFlags.jobs, "jobs", "j", 0,
		"Parallel jobs (0 picks one from the CPU count)")
	watchCmd.Flags().BoolVar(&watchFlags.verbose, "verbose", false,
		"Show file-level changes")
	watchCmd.Flags().BoolVar(&watchFlags.json, "json", false,
		"Stream JSON events (for tooling integration)")
	watchCmd.Flags().BoolVar(&watchFlags.noColor, "no-color", false,
		"Disable colored output")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	folder, err := buildFolder(args)
	if err != nil {
		return err
	}
	vars, err := graph.LoadVars(folder)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	debounce := watchFlags.debounce
	if debounce <= 0 {
		debounce = cfg.Watch.Debounce
	}
	jobs := watchFlags.jobs
	if !cmd.Flags().Changed("jobs") {
		jobs = cfg.JobCount()
	}

	// JSON events own stdout; command output goes to stderr.
	stdout := cmd.OutOrStdout()
	if watchFlags.json {
		stdout = cmd.ErrOrStderr()
	}

	w, err := watch.New(watch.Config{
		SourcePath:   vars.SourcePath,
		BuildPath:    folder,
		Kinds:        kindsOf(watchFlags.kinds),
		Debounce:     debounce,
		InitialBuild: true,
		Rebuild:      rebuildFunc(folder, jobs, stdout, cmd.ErrOrStderr()),
		Writer:       cmd.OutOrStdout(),
		Verbose:      watchFlags.verbose,
		NoColor:      watchFlags.noColor,
		JSON:         watchFlags.json,
	})
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	return w.Run(ctx)
}

func rebuildFunc(folder string, jobs int, stdout, stderr io.Writer) watch.RebuildFunc {
	return func(ctx context.Context) (watch.BuildResult, error) {
		summary, err := build.New(build.Options{
			BuildPath: folder,
			Jobs:      jobs,
			Stdout:    stdout,
			Stderr:    stderr,
		}).Build(ctx)
		if err != nil {
			return watch.BuildResult{}, err
		}
		return watch.BuildResult{
			Ran:          summary.Ran,
			Failed:       summary.Failed,
			Reconfigured: summary.Reconfigured,
			UpToDate:     summary.Damage.IsEmpty(),
			Duration:     summary.Duration,
		}, nil
	}
}

func kindsOf(names []string) []langs.Kind {
	kinds := make([]langs.Kind, 0, len(names))
	for _, n := range names {
		kinds = append(kinds, langs.Kind(n))
	}
	return kinds
}
