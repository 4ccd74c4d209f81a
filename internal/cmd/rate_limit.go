package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/promptsteer/promptsteer/internal/core/store"
	"github.com/promptsteer/promptsteer/internal/output"
)

var (
	rateLimitPrefix string
	rateLimitHost   string
	rateLimitAll    bool
	rateLimitYes    bool
)

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Manage persisted per-host fetch rate limits",
}

var rateLimitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored rate limit windows",
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

		query := store.RateLimitQuery{Prefix: strings.TrimSpace(rateLimitPrefix)}
		if query.Prefix == "" {
			query.All = true
		}
		entries, err := db.ListRateLimits(ctx, query)
		if err != nil {
			return err
		}
		return writeOutput(cmd, func(format output.Format) (string, error) {
			return output.FormatRateLimits(format, entries)
		})
	},
}

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear stored rate limit state",
	RunE: func(cmd *cobra.Command, args []string) error {
		query := store.RateLimitQuery{
			All:    rateLimitAll,
			Host:   strings.TrimSpace(rateLimitHost),
			Prefix: strings.TrimSpace(rateLimitPrefix),
		}
		if err := query.Validate(); err != nil {
			return err
		}
		if query.All && !rateLimitYes {
			return errors.New("--all requires --yes")
		}

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

		deleted, err := db.ResetRateLimits(ctx, query)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d rate limit entr(ies)\n", deleted)
		return err
	},
}

func init() {
	rootCmd.AddCommand(rateLimitCmd)
	rateLimitCmd.AddCommand(rateLimitListCmd, rateLimitResetCmd)

	rateLimitListCmd.Flags().StringVar(&rateLimitPrefix, "prefix", "", "only hosts with this prefix")
	addOutputFlags(rateLimitListCmd)

	rateLimitResetCmd.Flags().BoolVar(&rateLimitAll, "all", false, "reset every host")
	rateLimitResetCmd.Flags().StringVar(&rateLimitHost, "host", "", "reset a single host")
	rateLimitResetCmd.Flags().StringVar(&rateLimitPrefix, "prefix", "", "reset hosts with this prefix")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitYes, "yes", false, "confirm resetting every host")
}
