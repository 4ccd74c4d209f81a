package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/promptsteer/promptsteer/internal/core"
	"github.com/promptsteer/promptsteer/internal/core/parse"
	"github.com/promptsteer/promptsteer/internal/output"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage named prompt profiles",
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available profiles",
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

		records, err := db.ListProfiles(ctx)
		if err != nil {
			return err
		}
		return writeOutput(cmd, func(format output.Format) (string, error) {
			return output.FormatProfiles(format, records)
		})
	},
}

var profileShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show the prompts of a profile",
	Args:  cobra.ExactArgs(1),
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

		profile, err := resolveProfile(ctx, db, strings.TrimSpace(args[0]))
		if err != nil {
			return err
		}
		return writeOutput(cmd, func(format output.Format) (string, error) {
			return output.FormatProfile(format, *profile)
		})
	},
}

var profileAddCmd = &cobra.Command{
	Use:   "add <file>",
	Short: "Add or replace a profile from a YAML file",
	Long: `Add or replace a user profile. The file holds name, description,
prompts, image_prompts and location_aware. Every prompt is parsed before
the profile is stored.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// #nosec G304 -- profile files are user supplied paths
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read profile: %w", err)
		}
		var profile core.Profile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return fmt.Errorf("decode profile %s: %w", args[0], err)
		}
		if err := validateProfile(profile); err != nil {
			return err
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

		if _, builtin := core.FindBuiltInProfile(profile.Name); builtin {
			return fmt.Errorf("profile %q is built in; choose another name", profile.Name)
		}
		if err := db.UpsertProfile(ctx, profile, false, time.Now().UTC()); err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Saved profile %s\n", strings.TrimSpace(profile.Name))
		return err
	},
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a user profile",
	Args:  cobra.ExactArgs(1),
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

		deleted, err := db.DeleteProfile(ctx, args[0])
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("profile %q not found", args[0])
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted profile %s\n", args[0])
		return err
	},
}

func validateProfile(profile core.Profile) error {
	if strings.TrimSpace(profile.Name) == "" {
		return errors.New("profile name is required")
	}
	if len(profile.Prompts) == 0 && len(profile.ImagePrompts) == 0 {
		return fmt.Errorf("profile %s has no prompts", profile.Name)
	}
	for _, raw := range profile.Prompts {
		if _, err := parse.Text(raw); err != nil {
			return err
		}
	}
	for _, raw := range profile.ImagePrompts {
		if _, err := parse.Image(raw); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileListCmd, profileShowCmd, profileAddCmd, profileDeleteCmd)
	addOutputFlags(profileListCmd)
	addOutputFlags(profileShowCmd)
}
