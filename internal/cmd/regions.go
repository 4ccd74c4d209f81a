package cmd

import (
	"github.com/spf13/cobra"

	"github.com/promptsteer/promptsteer/internal/output"
)

var regionsCmd = &cobra.Command{
	Use:   "regions <image>",
	Short: "Show the region embeddings an image prompt is built from",
	Long: `Fetch an image (path or http(s) URL), split it into the configured
region grid and print each region's position, size and embedding width.
JSON output includes the embeddings themselves.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		db := openStoreOptional(ctx, cfg)
		if db != nil {
			defer db.Close() // nolint:errcheck // best-effort cleanup
		}

		img, err := buildLoader(cfg, db, false).LoadImage(ctx, args[0])
		if err != nil {
			return err
		}
		embedder := buildEmbedder(cfg)
		regions, err := embedder.Embed(ctx, img)
		if err != nil {
			return err
		}

		return writeOutput(cmd, func(format output.Format) (string, error) {
			return output.FormatRegions(format, embedder.Name(), regions)
		})
	},
}

func init() {
	rootCmd.AddCommand(regionsCmd)
	addOutputFlags(regionsCmd)
}
