package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/promptsteer/promptsteer/internal/server/handlers"
)

var extended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. Use --extended for full details including Crucible and Go versions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := handlers.CurrentVersion()
		w := cmd.OutOrStdout()

		_, _ = fmt.Fprintf(w, "%s %s\n", info.App.Name, info.App.Version)
		if !extended {
			return nil
		}
		_, _ = fmt.Fprintf(w, "Commit: %s\n", info.App.Commit)
		_, _ = fmt.Fprintf(w, "Built: %s\n", info.App.BuildDate)
		_, _ = fmt.Fprintf(w, "Go: %s\n\n", info.App.GoVersion)
		_, _ = fmt.Fprintf(w, "Gofulmen: %s\n", info.Dependencies.Gofulmen)
		_, _ = fmt.Fprintf(w, "Crucible: %s\n", info.Dependencies.Crucible)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
}
