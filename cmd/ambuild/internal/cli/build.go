package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/albertocavalcante/ambuild/internal/log"
	"github.com/albertocavalcante/ambuild/pkg/build"
	"github.com/albertocavalcante/ambuild/pkg/metrics"
)

var buildFlags struct {
	jobs        int
	refactor    bool
	metricsFile string
	showGraph   bool
}

var buildCmd = &cobra.Command{
	Use:   "build [folder]",
	Short: "Bring a configured build folder up to date",
	Long: `Computes which sources changed since the last build and runs every
command that depends on them, in dependency order and in parallel.

If a build script changed, the folder is reconfigured first. Any failing
command stops the build and the exit status is non-zero; the next build
retries what did not finish.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().IntVarP(&buildFlags.jobs, "jobs", "j", 0,
		"Parallel jobs (0 picks one from the CPU count)")
	buildCmd.Flags().BoolVar(&buildFlags.refactor, "refactor", false,
		"Fail if any command would run")
	buildCmd.Flags().StringVar(&buildFlags.metricsFile, "metrics-file", "",
		"Write Prometheus metrics for this build to a file")
	buildCmd.Flags().BoolVar(&buildFlags.showGraph, "show-graph", false,
		"Print the dependency graph and exit")

	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	folder, err := buildFolder(args)
	if err != nil {
		return err
	}
	if buildFlags.showGraph {
		return build.PrintGraph(folder, cmd.OutOrStdout())
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := build.Options{
		BuildPath: folder,
		Jobs:      buildFlags.jobs,
		Refactor:  buildFlags.refactor || cfg.RefactorMode(),
		Stdout:    cmd.OutOrStdout(),
		Stderr:    cmd.ErrOrStderr(),
	}
	if !cmd.Flags().Changed("jobs") {
		opts.Jobs = cfg.JobCount()
	}

	var recorder *metrics.PrometheusRecorder
	if buildFlags.metricsFile != "" {
		recorder = metrics.NewPrometheusRecorder(nil)
		opts.Recorder = recorder
	}

	summary, err := build.New(opts).Build(ctx)
	if recorder != nil {
		if werr := recorder.WriteFile(buildFlags.metricsFile); werr != nil {
			log.Component("cli").Warn("could not write metrics", "path", buildFlags.metricsFile, "error", werr)
		}
	}
	if err != nil {
		return err
	}
	printSummary(cmd, summary)
	return nil
}

func printSummary(cmd *cobra.Command, s *build.Summary) {
	out := cmd.OutOrStdout()
	if s.Reconfigured {
		fmt.Fprintln(out, "Reconfigured: build scripts changed.")
	}
	if s.Damage.IsEmpty() {
		fmt.Fprintln(out, "Build folder is up to date.")
		return
	}
	fmt.Fprintf(out, "Build succeeded: %d commands in %s.\n", s.Ran, s.Duration.Round(time.Millisecond))
}
