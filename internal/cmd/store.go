package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/promptsteer/promptsteer/internal/core/store"
	"github.com/promptsteer/promptsteer/internal/output"
)

var storeRunsLimit int

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Inspect and maintain the local store",
}

var storeMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade store tables and seed built-in profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		db, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Store ready (%s)\n", db.Driver())
		return err
	},
}

var storePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired embedding cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		db, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		removed, err := db.PurgeExpiredEmbeddings(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Purged %d expired embedding(s)\n", removed)
		return err
	},
}

var storeStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show embedding cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		db, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		stats, err := db.EmbeddingCacheStats(ctx)
		if err != nil {
			return err
		}
		return writeOutput(cmd, func(format output.Format) (string, error) {
			return formatCacheStats(format, stats)
		})
	},
}

var storeRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded score runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		db, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		runs, err := db.ListScoreRuns(ctx, storeRunsLimit)
		if err != nil {
			return err
		}
		return writeOutput(cmd, func(format output.Format) (string, error) {
			return output.FormatRuns(format, runs)
		})
	},
}

func formatCacheStats(format output.Format, stats store.EmbeddingStats) (string, error) {
	return output.Render(format, stats, func() output.Sheet {
		return output.Sheet{
			Title:  "Embedding cache",
			Header: []string{"Entries", "Expired"},
			Rows:   [][]string{{fmt.Sprint(stats.Entries), fmt.Sprint(stats.Expired)}},
		}
	})
}

func init() {
	rootCmd.AddCommand(storeCmd)
	storeCmd.AddCommand(storeMigrateCmd, storePurgeCmd, storeStatsCmd, storeRunsCmd)

	storeRunsCmd.Flags().IntVar(&storeRunsLimit, "limit", 20, "maximum runs to show")
	addOutputFlags(storeStatsCmd)
	addOutputFlags(storeRunsCmd)
}
