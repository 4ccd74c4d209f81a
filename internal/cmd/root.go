package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/promptsteer/promptsteer/internal/config"
	"github.com/promptsteer/promptsteer/internal/observability"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Score image-generation candidates against steering prompts",
	Long: `promptsteer parses steering prompts, embeds them and scores candidate
embedding sets with a bounded, sign-aware spherical distance loss.

Prompts use the form "text:weight:stop" with an optional mask after the
weight, e.g. "a red barn:0.8_l_0.5:0.2".`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Config loading may report through gofulmen telemetry; keep the CLI
	// quiet until serve installs a real exporter.
	observability.DisableTelemetry()

	cobra.OnInitialize(initLogging)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", fmt.Sprintf("config file (default is $XDG_CONFIG_HOME/%s/config.yaml)", config.AppName))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
}

func initLogging() {
	observability.InitCLILogger(config.AppName, verbose)
}

// loadConfig resolves configuration for a command, honouring --config.
func loadConfig(ctx context.Context, overrides ...map[string]any) (*config.Config, error) {
	cfg, err := config.Load(ctx, config.Options{ConfigFile: cfgFile}, overrides...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if observability.CLILogger != nil {
		observability.CLILogger.Debug("Configuration loaded",
			zap.String("config_file", cfgFile),
			zap.Strings("encoders", cfg.Encoder.Names),
			zap.String("store_path", cfg.Store.Path))
	}
	return cfg, nil
}
