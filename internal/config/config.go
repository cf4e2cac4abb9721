package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	Cache     CacheConfig     `yaml:"cache" envconfig:"CACHE"`
	Catalog   CatalogConfig   `yaml:"catalog" envconfig:"CATALOG"`
	Licensing LicensingConfig `yaml:"licensing" envconfig:"LICENSING"`
	Download  DownloadConfig  `yaml:"download" envconfig:"DOWNLOAD"`
	Tracing   TracingConfig   `yaml:"tracing" envconfig:"TRACING"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" default:"30s"`
	AllowedOrigins  []string      `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS" default:"*"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"stdout"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/extdist.log"`
}

// RateLimitConfig contains rate limiting configuration. Window and
// MaxRequests drive the per-identity fixed-window limiter; BackstopRPS and
// Burst drive the server-wide token bucket in the middleware chain.
type RateLimitConfig struct {
	Window      time.Duration `yaml:"window" envconfig:"WINDOW" default:"60s"`
	MaxRequests int           `yaml:"max_requests" envconfig:"MAX_REQUESTS" default:"60"`
	BackstopRPS float64       `yaml:"backstop_rps" envconfig:"BACKSTOP_RPS" default:"500"`
	Burst       int           `yaml:"burst" envconfig:"BURST" default:"100"`
}

// CacheConfig contains response cache configuration.
type CacheConfig struct {
	Backend   string        `yaml:"backend" envconfig:"BACKEND" default:"memory"`
	TTL       time.Duration `yaml:"ttl" envconfig:"TTL" default:"3600s"`
	MaxSize   int           `yaml:"max_size" envconfig:"MAX_SIZE" default:"10000"`
	RedisAddr string        `yaml:"redis_addr" envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisDB   int           `yaml:"redis_db" envconfig:"REDIS_DB" default:"0"`
}

// CatalogConfig contains extension catalog configuration.
type CatalogConfig struct {
	File    string        `yaml:"file" envconfig:"FILE" default:"catalog.yaml"`
	Timeout time.Duration `yaml:"timeout" envconfig:"TIMEOUT" default:"5s"`
}

// LicensingConfig contains license store configuration.
type LicensingConfig struct {
	Backend      string        `yaml:"backend" envconfig:"BACKEND" default:"sqlite"`
	SQLitePath   string        `yaml:"sqlite_path" envconfig:"SQLITE_PATH" default:"data/licenses.db"`
	StoreTimeout time.Duration `yaml:"store_timeout" envconfig:"STORE_TIMEOUT" default:"5s"`
}

// DownloadConfig contains package URL construction configuration.
type DownloadConfig struct {
	BaseURL string `yaml:"base_url" envconfig:"BASE_URL" default:"https://downloads.extdist.local"`
}

// TracingConfig contains OpenTelemetry tracing configuration.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" envconfig:"ENABLED" default:"false"`
	ServiceName string  `yaml:"service_name" envconfig:"SERVICE_NAME" default:"extdist"`
	SampleRatio float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" default:"1.0"`
}

// Load loads configuration from environment variables and an optional YAML
// file. Environment variables take precedence over the file.
func Load() (*Config, error) {
	cfg := Default()

	if path := configFilePath(); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process("EXTDIST", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate limit max requests must be positive")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown cache backend: %q", c.Cache.Backend)
	}
	switch c.Licensing.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown licensing backend: %q", c.Licensing.Backend)
	}
	if c.Download.BaseURL == "" {
		return fmt.Errorf("download base URL must be set")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing sample ratio must be in [0,1]")
	}
	return nil
}

// configFilePath returns the path to the config file, if one exists.
func configFilePath() string {
	if path := os.Getenv("EXTDIST_CONFIG"); path != "" {
		return path
	}
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  30 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "stdout",
			FilePath: "logs/extdist.log",
		},
		RateLimit: RateLimitConfig{
			Window:      60 * time.Second,
			MaxRequests: 60,
			BackstopRPS: 500,
			Burst:       100,
		},
		Cache: CacheConfig{
			Backend:   "memory",
			TTL:       time.Hour,
			MaxSize:   10000,
			RedisAddr: "localhost:6379",
		},
		Catalog: CatalogConfig{
			File:    "catalog.yaml",
			Timeout: 5 * time.Second,
		},
		Licensing: LicensingConfig{
			Backend:      "sqlite",
			SQLitePath:   "data/licenses.db",
			StoreTimeout: 5 * time.Second,
		},
		Download: DownloadConfig{
			BaseURL: "https://downloads.extdist.local",
		},
		Tracing: TracingConfig{
			ServiceName: "extdist",
			SampleRatio: 1.0,
		},
	}
}
