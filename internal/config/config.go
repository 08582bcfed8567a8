// ABOUTME: Configuration loading and parsing for burrow-hub
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete burrow-hub configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Admin    AdminConfig    `yaml:"admin"`
	Keys     KeysConfig     `yaml:"keys"`
	Cache    CacheConfig    `yaml:"cache"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the HTTP listen address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AdminConfig holds admin authentication configuration
type AdminConfig struct {
	// APIKeyHash is the SHA-256 hex digest of the admin API key.
	// Admin endpoints report "not configured" when this is unset.
	APIKeyHash string `yaml:"api_key_hash"`
}

// KeysConfig controls agent API key issuance and rotation
type KeysConfig struct {
	// Prefix is prepended to every issued key and checked on verification.
	Prefix string `yaml:"prefix"`
	// Length is the number of random bytes in a key (hex-encoded in the output).
	Length int `yaml:"length"`

	DefaultGracePeriod time.Duration `yaml:"-"`
	SweepInterval      time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	DefaultGracePeriodRaw string `yaml:"default_grace_period"`
	SweepIntervalRaw      string `yaml:"sweep_interval"`
}

// CacheConfig holds distributed cache configuration
type CacheConfig struct {
	Enabled         bool   `yaml:"enabled"`
	RedisURL        string `yaml:"redis_url"`
	KeyPrefix       string `yaml:"key_prefix"`
	Channel         string `yaml:"channel"`
	MaxLocalEntries int    `yaml:"max_local_entries"`

	TTL       time.Duration `yaml:"-"`
	OpTimeout time.Duration `yaml:"-"`

	TTLRaw       string `yaml:"ttl"`
	OpTimeoutRaw string `yaml:"op_timeout"`
}

// WebhookConfig holds CI webhook configuration
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied by Load when fields are unset.
const (
	DefaultKeyPrefix       = "botburrow_agent_"
	DefaultKeyLength       = 32
	DefaultGracePeriod     = 24 * time.Hour
	DefaultSweepInterval   = time.Hour
	DefaultCacheTTL        = 5 * time.Minute
	DefaultCacheOpTimeout  = 5 * time.Second
	DefaultCacheKeyPrefix  = "burrow:cache:"
	DefaultCacheChannel    = "burrow:cache:invalidate"
	DefaultMaxLocalEntries = 1000
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in unset fields with their defaults.
func (c *Config) applyDefaults() {
	if c.Keys.Prefix == "" {
		c.Keys.Prefix = DefaultKeyPrefix
	}
	if c.Keys.Length == 0 {
		c.Keys.Length = DefaultKeyLength
	}
	if c.Keys.DefaultGracePeriod == 0 {
		c.Keys.DefaultGracePeriod = DefaultGracePeriod
	}
	if c.Keys.SweepInterval == 0 {
		c.Keys.SweepInterval = DefaultSweepInterval
	}
	if c.Cache.RedisURL == "" {
		c.Cache.RedisURL = "redis://localhost:6379/0"
	}
	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = DefaultCacheKeyPrefix
	}
	if c.Cache.Channel == "" {
		c.Cache.Channel = DefaultCacheChannel
	}
	if c.Cache.MaxLocalEntries == 0 {
		c.Cache.MaxLocalEntries = DefaultMaxLocalEntries
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.Cache.OpTimeout == 0 {
		c.Cache.OpTimeout = DefaultCacheOpTimeout
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Keys.Length < 16 {
		return fmt.Errorf("keys.length must be at least 16 bytes, got %d", c.Keys.Length)
	}
	if c.Webhook.Enabled && c.Webhook.Secret == "" {
		return fmt.Errorf("webhook.secret is required when webhook.enabled is true")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Keys.DefaultGracePeriodRaw != "" {
		cfg.Keys.DefaultGracePeriod, err = time.ParseDuration(cfg.Keys.DefaultGracePeriodRaw)
		if err != nil {
			return fmt.Errorf("parsing default_grace_period %q: %w", cfg.Keys.DefaultGracePeriodRaw, err)
		}
	}

	if cfg.Keys.SweepIntervalRaw != "" {
		cfg.Keys.SweepInterval, err = time.ParseDuration(cfg.Keys.SweepIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing sweep_interval %q: %w", cfg.Keys.SweepIntervalRaw, err)
		}
	}

	if cfg.Cache.TTLRaw != "" {
		cfg.Cache.TTL, err = time.ParseDuration(cfg.Cache.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing cache ttl %q: %w", cfg.Cache.TTLRaw, err)
		}
	}

	if cfg.Cache.OpTimeoutRaw != "" {
		cfg.Cache.OpTimeout, err = time.ParseDuration(cfg.Cache.OpTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing cache op_timeout %q: %w", cfg.Cache.OpTimeoutRaw, err)
		}
	}

	return nil
}
