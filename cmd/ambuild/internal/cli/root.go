// Package cli implements the ambuild command-line interface.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/albertocavalcante/ambuild/internal/log"
	"github.com/albertocavalcante/ambuild/pkg/config"
	"github.com/albertocavalcante/ambuild/pkg/graph"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// globalFlags holds persistent flags that apply to all commands
var globalFlags struct {
	verbosity int
	logFormat string
}

// cfg is the layered configuration; flags that were set win over it.
var cfg = config.NewConfig()

var rootCmd = &cobra.Command{
	Use:   "ambuild",
	Short: "Incremental C/C++ build system",
	Long: `Ambuild configures a source tree described by TOML build scripts into a
build folder, then rebuilds only what changed since the last build.

  ambuild configure ../src --build .
  ambuild build`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "ambuild %s (%s)\n", Version, GitCommit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().IntVarP(&globalFlags.verbosity, "verbosity", "v", 1,
		"Verbosity level (0=error, 1=warn, 2=info, 3=debug, 4=trace)")
	rootCmd.PersistentFlags().StringVar(&globalFlags.logFormat, "log-format", "text",
		"Log format (text, json)")

	cobra.OnInitialize(initConfig)
}

// initConfig loads the config layers and applies logging settings.
// It runs after flags are parsed but before command execution.
func initConfig() {
	cfg = config.Load()

	verbosity := globalFlags.verbosity
	if !rootCmd.PersistentFlags().Changed("verbosity") && cfg.Log.Verbosity != nil {
		verbosity = *cfg.Log.Verbosity
	}
	format := globalFlags.logFormat
	if !rootCmd.PersistentFlags().Changed("log-format") && cfg.Log.Format != "" {
		format = cfg.Log.Format
	}
	log.Init(verbosity, format)
}

// buildFolder picks the folder a command operates on: the argument if given,
// else the working directory when it is configured, else the configured
// folder, which defaults to the working directory too.
func buildFolder(args []string) (string, error) {
	if len(args) > 0 {
		return filepath.Abs(args[0])
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if _, err := graph.LoadVars(wd); err == nil {
		return wd, nil
	}
	return filepath.Abs(cfg.Build.Folder)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// RootCmd returns the root command for testing.
func RootCmd() *cobra.Command {
	return rootCmd
}
