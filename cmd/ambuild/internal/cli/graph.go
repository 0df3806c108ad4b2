package cli

import (
	"github.com/spf13/cobra"

	"github.com/albertocavalcante/ambuild/pkg/build"
)

var graphCmd = &cobra.Command{
	Use:   "graph [folder]",
	Short: "Print the dependency graph of a build folder",
	Long: `Prints every output-producing command with the files and commands it
depends on, indented by depth. A node reached more than once has its inputs
listed only the first time.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		folder, err := buildFolder(args)
		if err != nil {
			return err
		}
		return build.PrintGraph(folder, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
