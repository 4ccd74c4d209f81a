package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/promptsteer/promptsteer/internal/config"
	"github.com/promptsteer/promptsteer/internal/core/expr"
	"github.com/promptsteer/promptsteer/internal/observability"
)

var doctorInitForce bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Run diagnostic checks on the installation and configuration.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		log := observability.CLILogger
		log.Info("=== promptsteer doctor ===")
		log.Info("")

		const total = 6
		ok := true
		step := func(n int, name string) string { return fmt.Sprintf("[%d/%d] Checking %s...", n, total, name) }

		log.Info(step(1, "Go version")+" ✅ "+runtime.Version(), zap.String("go_version", runtime.Version()))

		version := crucible.GetVersion()
		if version.Crucible != "" && version.Gofulmen != "" {
			log.Info(step(2, "Gofulmen/Crucible") + fmt.Sprintf(" ✅ v%s / v%s", version.Gofulmen, version.Crucible))
		} else {
			log.Warn(step(2, "Gofulmen/Crucible") + " ⚠️  version metadata unavailable")
			ok = false
		}

		cfg, err := loadConfig(ctx)
		if err != nil {
			log.Error(step(3, "configuration")+" ❌", zap.Error(err))
			log.Warn("Remaining checks skipped")
			return
		}
		configPath := config.DefaultConfigPath()
		if fileExists(configPath) || cfgFile != "" {
			log.Info(step(3, "configuration") + " ✅ loaded")
		} else {
			log.Info(step(3, "configuration")+" ✅ defaults (no config file)", zap.String("expected_path", configPath))
		}

		db, err := openStore(ctx, cfg)
		if err != nil {
			log.Error(step(4, "store")+" ❌", zap.Error(err))
			ok = false
		} else {
			defer db.Close() // nolint:errcheck // best-effort cleanup
			stats, statsErr := db.EmbeddingCacheStats(ctx)
			if statsErr != nil {
				log.Warn(step(4, "store")+" ⚠️  cache stats unavailable", zap.Error(statsErr))
				ok = false
			} else {
				log.Info(step(4, "store") + fmt.Sprintf(" ✅ %s (%d cached embeddings, %d expired)", storeLocation(cfg), stats.Entries, stats.Expired))
			}
		}

		if encoders, encErr := buildEncoders(cfg, nil); encErr != nil {
			log.Error(step(5, "encoders")+" ❌", zap.Error(encErr))
			ok = false
		} else {
			names := make([]string, 0, len(encoders))
			for _, e := range encoders {
				names = append(names, e.Name())
			}
			log.Info(step(5, "encoders") + " ✅ " + strings.Join(names, ", "))
		}

		ec := expr.NewContext()
		ec.SetT(1)
		if v, evalErr := ec.Eval("t*2", nil); evalErr != nil || v != 2 {
			log.Error(step(6, "expression engine")+" ❌", zap.Error(evalErr), zap.Float64("value", v))
			ok = false
		} else {
			log.Info(step(6, "expression engine") + " ✅")
		}

		log.Info("")
		if ok {
			log.Info("✅ All checks passed")
		} else {
			log.Warn("⚠️  Some checks failed. Review the output above for details.")
		}
	},
}

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}
		if fileExists(configPath) && !doctorInitForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
		}
		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		if err := os.WriteFile(configPath, []byte(defaultConfigYAML), 0644); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}
		observability.CLILogger.Info("Config initialized", zap.String("path", configPath))
		return nil
	},
}

var doctorValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the current config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}
		if _, err := buildEncoders(cfg, nil); err != nil {
			return err
		}
		observability.CLILogger.Info("Config is valid")
		return nil
	},
}

const defaultConfigYAML = `# promptsteer config - created by 'promptsteer doctor init'
encoder:
  names: [hash]
  hash_dim: 192
  # base_url: https://api.openai.com/v1
  # model: text-embedding-3-small
  # api_key is best set via PROMPTSTEER_ENCODER_API_KEY
regions:
  rows: 3
  cols: 3
  patch: 8
cache:
  enabled: true
  embedding_ttl: 168h
fetch:
  timeout: 20s
  max_size: 512
  rate_limit_margin: 0.9
`

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.AddCommand(doctorInitCmd, doctorValidateCmd)
	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "overwrite existing config file")
}

func storeLocation(cfg *config.Config) string {
	if strings.TrimSpace(cfg.Store.URL) != "" {
		return cfg.Store.URL + " (remote)"
	}
	abs, err := filepath.Abs(cfg.Store.Path)
	if err != nil {
		return cfg.Store.Path
	}
	return abs
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
