package cmd

import (
	"github.com/spf13/cobra"

	"github.com/promptsteer/promptsteer/internal/core/parse"
	"github.com/promptsteer/promptsteer/internal/output"
)

var parseImage bool

var parseCmd = &cobra.Command{
	Use:   "parse <prompt>...",
	Short: "Parse prompt directives without encoding them",
	Long: `Parse prompts of the form "text:weight:stop" and show the resolved
fields. Weight may carry a mask as weight_direction_cutoff where direction
is one of a, l, r, u, d.

Examples:
  promptsteer parse "a red barn:0.8_l_0.5:0.2"
  promptsteer parse --image "https://example.com/ref.png:0.5" -o json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parseFn := parse.Text
		if parseImage {
			parseFn = parse.Image
		}

		specs := make([]parse.Spec, 0, len(args))
		for _, raw := range args {
			spec, err := parseFn(raw)
			if err != nil {
				return err
			}
			specs = append(specs, spec)
		}

		return writeOutput(cmd, func(format output.Format) (string, error) {
			return output.FormatSpecs(format, specs)
		})
	},
}

func init() {
	rootCmd.AddCommand(parseCmd)
	parseCmd.Flags().BoolVar(&parseImage, "image", false, "parse as image prompts (URL-safe field splitting)")
	addOutputFlags(parseCmd)
}
