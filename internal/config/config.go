package config

import (
	"time"
)

// Config represents the complete application configuration.
// Values resolve in order: built-in defaults, the user config file,
// PROMPTSTEER_* environment variables, then runtime overrides.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Encoder EncoderConfig `mapstructure:"encoder"`
	Regions RegionsConfig `mapstructure:"regions"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
	Debug   DebugConfig   `mapstructure:"debug"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// CacheConfig controls the embedding cache.
type CacheConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	EmbeddingTTL time.Duration `mapstructure:"embedding_ttl"`
}

// EncoderConfig selects the text encoders a prompt is embedded with.
//
// Names: "hash" (offline feature hashing) and "http" (OpenAI-compatible
// embeddings endpoint). Several names concatenate their rows.
type EncoderConfig struct {
	Names   []string      `mapstructure:"names"`
	HashDim int           `mapstructure:"hash_dim"`
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RegionsConfig controls the grid region embedder used for image prompts.
type RegionsConfig struct {
	Rows  int `mapstructure:"rows"`
	Cols  int `mapstructure:"cols"`
	Patch int `mapstructure:"patch"`
}

// FetchConfig controls retrieval of image prompt references.
type FetchConfig struct {
	Timeout    time.Duration  `mapstructure:"timeout"`
	MaxSize    int            `mapstructure:"max_size"`
	UserAgent  string         `mapstructure:"user_agent"`
	RateLimits map[string]int `mapstructure:"rate_limits"`
	Margin     float64        `mapstructure:"rate_limit_margin"`
	// AllowedRoots are the only local directories the server may read image
	// prompts from. The CLI reads any path.
	AllowedRoots []string `mapstructure:"allowed_roots"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug configuration
type DebugConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
