package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/promptsteer/promptsteer/internal/config"
	"github.com/promptsteer/promptsteer/internal/observability"
	"github.com/promptsteer/promptsteer/internal/server/handlers"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display environment, configuration, and version information.",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		version := crucible.GetVersion()

		log.Info("=== promptsteer environment ===")
		log.Info("")
		log.Info("Application:")
		log.Info("  Name:       " + config.AppName)
		log.Info("  Version:    " + handlers.AppVersion)
		log.Info("  Commit:     " + handlers.AppCommit)
		log.Info("  Built:      " + handlers.AppBuildDate)
		log.Info("")

		log.Info("SSOT:")
		log.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		log.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		log.Info("")

		log.Info("Runtime:")
		log.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		log.Info("  Platform:   "+runtime.GOOS+"/"+runtime.GOARCH, zap.String("goos", runtime.GOOS), zap.String("goarch", runtime.GOARCH))
		log.Info(fmt.Sprintf("  NumCPU:     %d", runtime.NumCPU()), zap.Int("num_cpu", runtime.NumCPU()))
		log.Info("")

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			log.Warn("Config load failed", zap.Error(err))
			return
		}

		log.Info("Configuration:")
		log.Info("  Config File:  " + config.DefaultConfigPath())
		log.Info(fmt.Sprintf("  Server:       %s:%d", cfg.Server.Host, cfg.Server.Port))
		log.Info("  Log Level:    " + cfg.Logging.Level)
		if strings.TrimSpace(cfg.Store.URL) != "" {
			log.Info("  DB URL:       " + cfg.Store.URL)
		} else {
			log.Info("  DB Path:      " + cfg.Store.Path)
		}
		log.Info(fmt.Sprintf("  Cache:        enabled=%t ttl=%s", cfg.Cache.Enabled, cfg.Cache.EmbeddingTTL))
		log.Info(fmt.Sprintf("  Metrics:      enabled=%t port=%d", cfg.Metrics.Enabled, cfg.Metrics.Port))
		log.Info("")

		log.Info("Scoring:")
		log.Info("  Encoders:     " + strings.Join(cfg.Encoder.Names, ", "))
		log.Info(fmt.Sprintf("  Hash Dim:     %d", cfg.Encoder.HashDim))
		log.Info("  Region Grid:  " + buildEmbedder(cfg).Name())
		log.Info(fmt.Sprintf("  Fetch:        timeout=%s max_size=%d margin=%.2f", cfg.Fetch.Timeout, cfg.Fetch.MaxSize, cfg.Fetch.Margin))
	},
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
