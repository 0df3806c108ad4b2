package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/albertocavalcante/ambuild/pkg/build"
	"github.com/albertocavalcante/ambuild/pkg/damage"
)

var statusFlags struct {
	json bool
}

var statusCmd = &cobra.Command{
	Use:   "status [folder]",
	Short: "Show what the next build would do",
	Long: `Compares the sources of a build folder against the state recorded by the
last build and lists changed files and the commands they would rerun.
Nothing is modified.

The --json flag outputs the result as JSON for scripting.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusFlags.json, "json", false,
		"Output as JSON")

	rootCmd.AddCommand(statusCmd)
}

// StatusOutput is the JSON output format for ambuild status.
type StatusOutput struct {
	UpToDate bool             `json:"up_to_date"`
	Modified []string         `json:"modified,omitempty"`
	Missing  []string         `json:"missing,omitempty"`
	Commands []damage.Command `json:"commands,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	folder, err := buildFolder(args)
	if err != nil {
		return err
	}
	report, err := build.Status(cmd.Context(), folder)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if statusFlags.json {
		return outputJSON(out, StatusOutput{
			UpToDate: report.IsEmpty(),
			Modified: report.Modified,
			Missing:  report.Missing,
			Commands: report.Commands,
		})
	}

	if report.IsEmpty() {
		fmt.Fprintln(out, "Build folder is up to date")
		return nil
	}
	if len(report.Modified) > 0 {
		fmt.Fprintf(out, "Modified files (%d):\n", len(report.Modified))
		for _, f := range report.Modified {
			fmt.Fprintf(out, "  ~ %s\n", f)
		}
	}
	if len(report.Missing) > 0 {
		fmt.Fprintf(out, "Missing files (%d):\n", len(report.Missing))
		for _, f := range report.Missing {
			fmt.Fprintf(out, "  - %s\n", f)
		}
	}
	fmt.Fprintf(out, "Commands to run (%d):\n", len(report.Commands))
	for _, c := range report.Commands {
		fmt.Fprintf(out, "  %s\n", c.Command)
	}
	return nil
}

func outputJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
