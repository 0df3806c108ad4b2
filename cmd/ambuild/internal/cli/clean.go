package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/albertocavalcante/ambuild/pkg/build"
)

var cleanCmd = &cobra.Command{
	Use:   "clean [folder]",
	Short: "Delete build outputs so the next build runs everything",
	Long: `Removes every file produced by a command in the build folder and marks
all commands dirty. The configuration and the graph are kept, so 'ambuild
build' works right away.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		folder, err := buildFolder(args)
		if err != nil {
			return err
		}
		removed, err := build.Clean(folder)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d files.\n", removed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}
