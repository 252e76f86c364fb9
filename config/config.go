// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Counters  CountersConfig  `yaml:"counters"`
	Usage     UsageConfig     `yaml:"usage"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// WriteTimeout must exceed the longest expected download; zero
	// disables it so streams are never severed mid-transfer.
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ExtractorConfig configures the extraction service client.
type ExtractorConfig struct {
	URL             string        `yaml:"url"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
	AllowedHosts    []string      `yaml:"allowed_hosts"`
}

// AuthConfig configures authentication. The shared secret always works;
// minted keys are enabled when the database holds any.
type AuthConfig struct {
	Secret    string `yaml:"secret"`
	KeyPrefix string `yaml:"key_prefix"`
}

// WindowConfig configures one fixed window.
type WindowConfig struct {
	Limit  int           `yaml:"limit"`
	Period time.Duration `yaml:"period"`
}

// RateLimitConfig configures the per-route and global windows.
type RateLimitConfig struct {
	Download WindowConfig `yaml:"download"`
	Info     WindowConfig `yaml:"info"`
	Global   WindowConfig `yaml:"global"`

	// CountRejected charges rejected requests against the windows too.
	CountRejected bool `yaml:"count_rejected"`
}

// CountersConfig selects the rate limit counter backend.
// Use "memory" for single-process or "redis" for multi-process.
type CountersConfig struct {
	Backend string      `yaml:"backend"` // "memory" or "redis"
	Redis   RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig configures the Redis counter backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

// UsageConfig configures usage tracking.
type UsageConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Retention     time.Duration `yaml:"retention"`
}

// DatabaseConfig configures the database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite"
	DSN    string `yaml:"dsn"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path"`    // Custom path (default: /metrics)
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// Useful for Docker deployments where no config file is needed.
//
// Environment variables:
//
//	VIDGATE_EXTRACTOR_URL     - Extraction service URL (required)
//	VIDGATE_AUTH_SECRET       - Shared API secret (required)
//	VIDGATE_DATABASE_DSN      - Database path (default: vidgate.db)
//	VIDGATE_SERVER_HOST       - Server host (default: 0.0.0.0)
//	VIDGATE_SERVER_PORT       - Server port (default: 8080)
//	VIDGATE_COUNTERS_BACKEND  - Counter backend: memory or redis (default: memory)
//	VIDGATE_REDIS_ADDR        - Redis address (required for redis backend)
//	VIDGATE_LOG_LEVEL         - Log level: debug, info, warn, error (default: info)
//	VIDGATE_LOG_FORMAT        - Log format: json or console (default: json)
//	VIDGATE_METRICS_ENABLED   - Enable /metrics endpoint (default: false)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// HasEnvConfig reports whether enough environment configuration exists
// to run without a config file.
func HasEnvConfig() bool {
	return os.Getenv("VIDGATE_EXTRACTOR_URL") != ""
}

// LoadWithFallback tries to load from file, falls back to environment
// variables.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	if os.Getenv("VIDGATE_EXTRACTOR_URL") != "" {
		return LoadFromEnv()
	}

	return nil, fmt.Errorf("no configuration found: provide config file or set VIDGATE_EXTRACTOR_URL")
}

// applyEnvOverrides applies VIDGATE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("VIDGATE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("VIDGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("VIDGATE_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}

	// Extractor configuration
	if v := os.Getenv("VIDGATE_EXTRACTOR_URL"); v != "" {
		cfg.Extractor.URL = v
	}
	if v := os.Getenv("VIDGATE_EXTRACTOR_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Extractor.Timeout = d
		}
	}
	if v := os.Getenv("VIDGATE_EXTRACTOR_ALLOWED_HOSTS"); v != "" {
		cfg.Extractor.AllowedHosts = splitList(v)
	}

	// Auth configuration
	if v := os.Getenv("VIDGATE_AUTH_SECRET"); v != "" {
		cfg.Auth.Secret = v
	}
	if v := os.Getenv("VIDGATE_AUTH_KEY_PREFIX"); v != "" {
		cfg.Auth.KeyPrefix = v
	}

	// Rate limit configuration
	if v := os.Getenv("VIDGATE_RATELIMIT_DOWNLOAD_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.Download.Limit = n
		}
	}
	if v := os.Getenv("VIDGATE_RATELIMIT_INFO_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.Info.Limit = n
		}
	}
	if v := os.Getenv("VIDGATE_RATELIMIT_GLOBAL_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.Global.Limit = n
		}
	}
	if v := os.Getenv("VIDGATE_RATELIMIT_COUNT_REJECTED"); v != "" {
		cfg.RateLimit.CountRejected = parseBool(v)
	}

	// Counter backend configuration
	if v := os.Getenv("VIDGATE_COUNTERS_BACKEND"); v != "" {
		cfg.Counters.Backend = v
	}
	if v := os.Getenv("VIDGATE_REDIS_ADDR"); v != "" {
		cfg.Counters.Redis.Addr = v
	}
	if v := os.Getenv("VIDGATE_REDIS_PASSWORD"); v != "" {
		cfg.Counters.Redis.Password = v
	}

	// Usage configuration
	if v := os.Getenv("VIDGATE_USAGE_ENABLED"); v != "" {
		cfg.Usage.Enabled = parseBool(v)
	}

	// Database configuration
	if v := os.Getenv("VIDGATE_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("VIDGATE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	// Logging configuration
	if v := os.Getenv("VIDGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("VIDGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("VIDGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("VIDGATE_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

// splitList splits a comma-separated list, trimming whitespace.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 90 * time.Second
	}

	if cfg.Extractor.Timeout == 0 {
		cfg.Extractor.Timeout = 60 * time.Second
	}

	if cfg.Auth.KeyPrefix == "" {
		cfg.Auth.KeyPrefix = "vk_"
	}

	if cfg.RateLimit.Download.Limit == 0 {
		cfg.RateLimit.Download.Limit = 10
	}
	if cfg.RateLimit.Download.Period == 0 {
		cfg.RateLimit.Download.Period = time.Minute
	}
	if cfg.RateLimit.Info.Limit == 0 {
		cfg.RateLimit.Info.Limit = 20
	}
	if cfg.RateLimit.Info.Period == 0 {
		cfg.RateLimit.Info.Period = time.Minute
	}
	if cfg.RateLimit.Global.Limit == 0 {
		cfg.RateLimit.Global.Limit = 100
	}
	if cfg.RateLimit.Global.Period == 0 {
		cfg.RateLimit.Global.Period = 24 * time.Hour
	}

	if cfg.Counters.Backend == "" {
		cfg.Counters.Backend = "memory"
	}

	if cfg.Usage.BatchSize == 0 {
		cfg.Usage.BatchSize = 100
	}
	if cfg.Usage.FlushInterval == 0 {
		cfg.Usage.FlushInterval = 10 * time.Second
	}
	if cfg.Usage.Retention == 0 {
		cfg.Usage.Retention = 30 * 24 * time.Hour
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "vidgate.db"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	if cfg.Extractor.URL == "" {
		return fmt.Errorf("extractor.url is required")
	}
	if cfg.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required")
	}

	for name, w := range map[string]WindowConfig{
		"rate_limit.download": cfg.RateLimit.Download,
		"rate_limit.info":     cfg.RateLimit.Info,
		"rate_limit.global":   cfg.RateLimit.Global,
	} {
		if w.Limit < 1 {
			return fmt.Errorf("%s.limit must be >= 1, got %d", name, w.Limit)
		}
		if w.Period < time.Second {
			return fmt.Errorf("%s.period must be >= 1s, got %s", name, w.Period)
		}
	}

	switch cfg.Counters.Backend {
	case "memory":
	case "redis":
		if cfg.Counters.Redis.Addr == "" {
			return fmt.Errorf("counters.redis.addr is required when counters.backend is 'redis'")
		}
	default:
		return fmt.Errorf("counters.backend must be 'memory' or 'redis', got %q", cfg.Counters.Backend)
	}

	if cfg.Database.Driver != "sqlite" {
		return fmt.Errorf("database.driver must be 'sqlite', got %q", cfg.Database.Driver)
	}

	return nil
}
