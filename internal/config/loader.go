// Package config provides centralized configuration management for
// promptsteer. Defaults live in SetDefaults; the user config file is found
// through gofulmen's XDG helpers; PROMPTSTEER_* environment variables and
// runtime overrides are merged on top.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// AppName names the config, data and cache directories.
	AppName = "promptsteer"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "PROMPTSTEER_"
)

var (
	appConfig *Config
	configMu  sync.RWMutex
)

// EnvVarSpec defines environment variable mappings for config fields
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// Options controls where Load looks for the config file.
type Options struct {
	// ConfigFile is an explicit path; when empty the XDG paths are searched.
	ConfigFile string
}

// Load resolves configuration. It is safe to call multiple times.
func Load(ctx context.Context, opts Options, runtimeOverrides ...map[string]any) (*Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	SetDefaults(v)

	path := strings.TrimSpace(opts.ConfigFile)
	if path == "" {
		path = findUserConfig()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if opts.ConfigFile != "" || !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
	}

	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if err := v.MergeConfigMap(envOverrides); err != nil {
		return nil, fmt.Errorf("failed to merge environment overrides: %w", err)
	}
	for _, override := range runtimeOverrides {
		if err := v.MergeConfigMap(override); err != nil {
			return nil, fmt.Errorf("failed to merge runtime overrides: %w", err)
		}
	}

	cfg, err := Decode(v.AllSettings())
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	setConfig(cfg)
	return cfg, nil
}

// Decode converts a merged settings map into a typed Config.
func Decode(settings map[string]any) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// SetDefaults registers built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_body_bytes", 8<<20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.embedding_ttl", "168h")

	v.SetDefault("encoder.names", []string{"hash"})
	v.SetDefault("encoder.hash_dim", 192)
	v.SetDefault("encoder.base_url", "https://api.openai.com/v1")
	v.SetDefault("encoder.api_key", "")
	v.SetDefault("encoder.model", "text-embedding-3-small")
	v.SetDefault("encoder.timeout", "30s")

	v.SetDefault("regions.rows", 3)
	v.SetDefault("regions.cols", 3)
	v.SetDefault("regions.patch", 8)

	v.SetDefault("fetch.timeout", "20s")
	v.SetDefault("fetch.max_size", 512)
	v.SetDefault("fetch.user_agent", "promptsteer/fetch")
	v.SetDefault("fetch.rate_limits", map[string]int{})
	v.SetDefault("fetch.rate_limit_margin", 0.9)
	v.SetDefault("fetch.allowed_roots", []string{})

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("health.enabled", true)

	v.SetDefault("debug.enabled", false)
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

func findUserConfig() string {
	for _, candidate := range gfconfig.GetAppConfigPaths(AppName) {
		if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
			return candidate
		}
	}
	return ""
}

// getEnvSpecs maps PROMPTSTEER_* variables to config paths.
func getEnvSpecs() []EnvVarSpec {
	prefix := EnvPrefix

	return []EnvVarSpec{
		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},

		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},

		{Name: prefix + "CACHE_ENABLED", Path: []string{"cache", "enabled"}, Type: EnvBool},
		{Name: prefix + "CACHE_EMBEDDING_TTL", Path: []string{"cache", "embedding_ttl"}, Type: EnvString},

		// Comma separated; split by the slice decode hook
		{Name: prefix + "ENCODERS", Path: []string{"encoder", "names"}, Type: EnvString},
		{Name: prefix + "ENCODER_HASH_DIM", Path: []string{"encoder", "hash_dim"}, Type: EnvInt},
		{Name: prefix + "ENCODER_BASE_URL", Path: []string{"encoder", "base_url"}, Type: EnvString},
		{Name: prefix + "ENCODER_API_KEY", Path: []string{"encoder", "api_key"}, Type: EnvString},
		{Name: prefix + "ENCODER_MODEL", Path: []string{"encoder", "model"}, Type: EnvString},
		{Name: prefix + "ENCODER_TIMEOUT", Path: []string{"encoder", "timeout"}, Type: EnvString},

		{Name: prefix + "REGIONS_ROWS", Path: []string{"regions", "rows"}, Type: EnvInt},
		{Name: prefix + "REGIONS_COLS", Path: []string{"regions", "cols"}, Type: EnvInt},
		{Name: prefix + "REGIONS_PATCH", Path: []string{"regions", "patch"}, Type: EnvInt},

		{Name: prefix + "FETCH_TIMEOUT", Path: []string{"fetch", "timeout"}, Type: EnvString},
		{Name: prefix + "FETCH_MAX_SIZE", Path: []string{"fetch", "max_size"}, Type: EnvInt},
		{Name: prefix + "FETCH_RATE_LIMIT_MARGIN", Path: []string{"fetch", "rate_limit_margin"}, Type: EnvString},
		{Name: prefix + "FETCH_ALLOWED_ROOTS", Path: []string{"fetch", "allowed_roots"}, Type: EnvString},

		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},

		{Name: prefix + "DEBUG_ENABLED", Path: []string{"debug", "enabled"}, Type: EnvBool},
	}
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(AppName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	return gfconfig.GetAppDataDir(AppName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := gfconfig.GetAppDataDir(AppName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}
