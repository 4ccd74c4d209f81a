package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/promptsteer/promptsteer/internal/config"
	apperrors "github.com/promptsteer/promptsteer/internal/errors"
	"github.com/promptsteer/promptsteer/internal/observability"
	"github.com/promptsteer/promptsteer/internal/server"
	"github.com/promptsteer/promptsteer/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return apperrors.NewInternalError("telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP scoring API",
	Long: `Start the HTTP server exposing /v1 parse, score, assign and eval
endpoints with graceful shutdown support.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-read the config file and apply the log level`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		overrides := map[string]any{}
		if cmd.Flags().Changed("host") {
			overrides["server"] = map[string]any{"host": serverHost}
		}
		if cmd.Flags().Changed("port") {
			srvOverride, _ := overrides["server"].(map[string]any)
			if srvOverride == nil {
				srvOverride = map[string]any{}
			}
			srvOverride["port"] = serverPort
			overrides["server"] = srvOverride
		}
		cfg, err := loadConfig(ctx, overrides)
		if err != nil {
			return err
		}

		observability.InitServerLogger(config.AppName, cfg.Logging.Level)
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(config.AppName, cfg.Metrics.Port); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return apperrors.Wrap(ctx, apperrors.CodeInternal, err, "metrics initialization failed")
			}
		}

		db, err := openStore(ctx, cfg)
		if err != nil {
			logger.Error("Failed to open store", zap.Error(err))
			return apperrors.WrapDatabaseError(ctx, err, "store initialization failed")
		}

		builder, err := buildBuilder(cfg, db, true)
		if err != nil {
			_ = db.Close()
			return apperrors.Wrap(ctx, apperrors.CodeInternal, err, "encoder configuration failed")
		}

		logger.Info("Initializing server",
			zap.String("service", config.AppName),
			zap.String("version", handlers.AppVersion),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Bool("metrics", cfg.Metrics.Enabled),
			zap.Int("metrics_port", observability.GetMetricsPort()),
			zap.Strings("encoders", cfg.Encoder.Names),
			zap.String("store", db.Driver()))

		hm := handlers.NewHealthManager(handlers.AppVersion)
		hm.RegisterChecker("store", handlers.CheckFunc(func(ctx context.Context) error {
			return db.DB.PingContext(ctx)
		}))
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		}

		srv := server.New(cfg.Server, handlers.NewAPI(builder, db), hm)

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// LIFO: the HTTP server stops first, then the store, then the logger.
		signals.OnShutdown(func(ctx context.Context) error {
			current := observability.ServerLogger
			current.Info("Flushing logger...")
			if err := current.Sync(); err != nil {
				current.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})
		signals.OnShutdown(func(ctx context.Context) error {
			if err := db.Close(); err != nil {
				logger.Warn("Store close failed", zap.Error(err))
			}
			return nil
		})
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return apperrors.Wrap(ctx, apperrors.CodeInternal, err, "server shutdown failed")
			}
			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: reloading configuration")
			reloaded, err := loadConfig(ctx, overrides)
			if err != nil {
				logger.Error("Config reload failed", zap.Error(err))
				return apperrors.Wrap(ctx, apperrors.CodeValidationFailed, err, "config reload failed")
			}
			observability.InitServerLogger(config.AppName, reloaded.Logging.Level)
			observability.ServerLogger.Info("Configuration reloaded",
				zap.String("log_level", reloaded.Logging.Level))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			logger.Info("Starting HTTP server...", zap.String("addr", srv.Addr()))
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(ctx); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return apperrors.Wrap(ctx, apperrors.CodeInternal, err, "server error")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host (overrides server.host)")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port (overrides server.port)")
}
