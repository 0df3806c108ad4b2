package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/albertocavalcante/ambuild/pkg/build"
)

var configureFlags struct {
	build    string
	cc       string
	cxx      string
	arch     []string
	refactor bool
}

var configureCmd = &cobra.Command{
	Use:   "configure <sourcedir>",
	Short: "Generate the build graph for a source tree",
	Long: `Reads AMBuildScript.toml from the source tree and every script it
includes, detects the compilers, and writes the resulting dependency graph
into the build folder, which defaults to the working directory.

Running configure again reconciles the graph: commands whose text is unchanged
keep their state, so only real changes rebuild. With --refactor, any change to
a command is an error instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().StringVar(&configureFlags.build, "build", "",
		"Build folder (default from config, else the working directory)")
	configureCmd.Flags().StringVar(&configureFlags.cc, "cc", "",
		"C compiler (default $CC or a PATH search)")
	configureCmd.Flags().StringVar(&configureFlags.cxx, "cxx", "",
		"C++ compiler (default $CXX or a PATH search)")
	configureCmd.Flags().StringSliceVar(&configureFlags.arch, "arch", nil,
		"Target architectures (comma-separated: x86, x86_64)")
	configureCmd.Flags().BoolVar(&configureFlags.refactor, "refactor", false,
		"Fail if any command would change")

	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	opts := build.ConfigureOptions{
		SourcePath: args[0],
		BuildPath:  firstSet(configureFlags.build, cfg.Build.Folder, wd),
		CC:         firstSet(configureFlags.cc, cfg.Compiler.CC),
		CXX:        firstSet(configureFlags.cxx, cfg.Compiler.CXX),
		Arch:       configureFlags.arch,
		Refactor:   configureFlags.refactor || cfg.RefactorMode(),
	}
	if len(opts.Arch) == 0 {
		opts.Arch = cfg.Compiler.Arch
	}

	stats, err := build.Configure(opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "configured %s: %d added, %d updated, %d dropped\n",
		opts.BuildPath, stats.Added, stats.Updated, stats.Dropped)
	return nil
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
