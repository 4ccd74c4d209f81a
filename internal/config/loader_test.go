package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		isolate(t)

		cfg, err := Load(ctx, Options{})
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		assert.Equal(t, "libsql", cfg.Store.Driver)
		expectedStorePath := filepath.Join(gfconfig.GetAppDataDir(AppName), AppName+".db")
		assert.Equal(t, expectedStorePath, cfg.Store.Path)
		assert.Equal(t, "", cfg.Store.URL)

		assert.True(t, cfg.Cache.Enabled)
		assert.Equal(t, 168*time.Hour, cfg.Cache.EmbeddingTTL)

		assert.Equal(t, []string{"hash"}, cfg.Encoder.Names)
		assert.Equal(t, 192, cfg.Encoder.HashDim)
		assert.Equal(t, 3, cfg.Regions.Rows)
		assert.Equal(t, 8, cfg.Regions.Patch)
		assert.Equal(t, 0.9, cfg.Fetch.Margin)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, 9090, cfg.Metrics.Port)
		assert.True(t, cfg.Health.Enabled)
		assert.False(t, cfg.Debug.Enabled)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		isolate(t)
		overrides := map[string]any{
			"server": map[string]any{
				"port": 9000,
				"host": "0.0.0.0",
			},
			"logging": map[string]any{
				"level": "debug",
			},
		}

		cfg, err := Load(ctx, Options{}, overrides)
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, 9090, cfg.Metrics.Port)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		isolate(t)
		t.Setenv("PROMPTSTEER_PORT", "3000")
		t.Setenv("PROMPTSTEER_LOG_LEVEL", "warn")
		t.Setenv("PROMPTSTEER_METRICS_ENABLED", "false")
		t.Setenv("PROMPTSTEER_ENCODERS", "hash,http")
		t.Setenv("PROMPTSTEER_FETCH_RATE_LIMIT_MARGIN", "0.8")
		t.Setenv("PROMPTSTEER_FETCH_ALLOWED_ROOTS", "/srv/refs,/data/img")

		cfg, err := Load(ctx, Options{})
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.False(t, cfg.Metrics.Enabled)
		assert.Equal(t, []string{"hash", "http"}, cfg.Encoder.Names)
		assert.Equal(t, 0.8, cfg.Fetch.Margin)
		assert.Equal(t, []string{"/srv/refs", "/data/img"}, cfg.Fetch.AllowedRoots)
	})

	t.Run("ConfigPrecedence", func(t *testing.T) {
		isolate(t)
		t.Setenv("PROMPTSTEER_PORT", "4000")

		overrides := map[string]any{
			"server": map[string]any{"port": 5000},
		}

		cfg, err := Load(ctx, Options{}, overrides)
		require.NoError(t, err)
		assert.Equal(t, 5000, cfg.Server.Port)
	})

	t.Run("ExplicitConfigFile", func(t *testing.T) {
		isolate(t)
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := "server:\n  port: 7070\nregions:\n  rows: 4\n  cols: 2\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		cfg, err := Load(ctx, Options{ConfigFile: path})
		require.NoError(t, err)
		assert.Equal(t, 7070, cfg.Server.Port)
		assert.Equal(t, 4, cfg.Regions.Rows)
		assert.Equal(t, 2, cfg.Regions.Cols)
	})

	t.Run("MissingExplicitConfigFile", func(t *testing.T) {
		isolate(t)
		_, err := Load(ctx, Options{ConfigFile: filepath.Join(t.TempDir(), "missing.yaml")})
		require.Error(t, err)
	})
}

func TestGetConfig(t *testing.T) {
	isolate(t)
	cfg, err := Load(context.Background(), Options{})
	require.NoError(t, err)

	retrieved := GetConfig()
	require.NotNil(t, retrieved)
	assert.Equal(t, cfg.Server.Port, retrieved.Server.Port)
	assert.Equal(t, cfg.Logging.Level, retrieved.Logging.Level)
}

func TestEnvSpecs(t *testing.T) {
	envVarNames := make(map[string]bool)
	for _, spec := range getEnvSpecs() {
		envVarNames[spec.Name] = true
	}

	assert.True(t, envVarNames["PROMPTSTEER_LOG_LEVEL"])
	assert.True(t, envVarNames["PROMPTSTEER_PORT"])
	assert.True(t, envVarNames["PROMPTSTEER_HOST"])
	assert.True(t, envVarNames["PROMPTSTEER_METRICS_PORT"])
	assert.True(t, envVarNames["PROMPTSTEER_DB_PATH"])
	assert.True(t, envVarNames["PROMPTSTEER_ENCODERS"])
}

func TestDurationParsing(t *testing.T) {
	isolate(t)
	t.Setenv("PROMPTSTEER_READ_TIMEOUT", "45s")
	t.Setenv("PROMPTSTEER_SHUTDOWN_TIMEOUT", "5m")
	t.Setenv("PROMPTSTEER_CACHE_EMBEDDING_TTL", "2h")

	cfg, err := Load(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 2*time.Hour, cfg.Cache.EmbeddingTTL)
}

func TestDecodeWeakTypes(t *testing.T) {
	cfg, err := Decode(map[string]any{
		"server":  map[string]any{"port": "8181", "read_timeout": "1m"},
		"encoder": map[string]any{"names": "hash, http"},
	})
	require.NoError(t, err)
	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, time.Minute, cfg.Server.ReadTimeout)
	assert.Len(t, cfg.Encoder.Names, 2)
}
