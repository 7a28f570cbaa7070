package utils

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all settings loaded from the YAML config file.
type Config struct {
	Server struct {
		Host    string `yaml:"host"`
		Port    string `yaml:"port"`
		Prefork bool   `yaml:"prefork"`
	} `yaml:"server"`

	Logger struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`

	Cache struct {
		RedisHost   string `yaml:"redis_host"`
		RateLimitDB int    `yaml:"rate_limit_db"`
	} `yaml:"cache"`

	RateLimiter struct {
		Interval          time.Duration `yaml:"interval"`
		UserLimit         int           `yaml:"user_limit"`
		EnableUserLimiter bool          `yaml:"enable_user_limiter"`
	} `yaml:"rate_limiter"`

	Auth struct {
		Postgres       PostgresConfig `yaml:"postgres"`
		ReloadInterval time.Duration  `yaml:"reload_interval"`
	} `yaml:"auth"`

	Render RenderConfig `yaml:"render"`

	Probe struct {
		ChromePath  string `yaml:"chrome_path"`
		NoSandbox   bool   `yaml:"no_sandbox"`
		TimeoutSecs int    `yaml:"timeout_secs"`
	} `yaml:"probe"`
}

// PostgresConfig describes the connection to the API key database.
// Host may also carry a full postgres:// URL.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// Enabled reports whether a key database is configured at all.
func (p PostgresConfig) Enabled() bool {
	return p.Host != ""
}

// RenderConfig controls how the fetch handler builds its render context.
type RenderConfig struct {
	NameHeader  string `yaml:"name_header"`
	DefaultName string `yaml:"default_name"`
}

const (
	DefaultConfigPath  = "config.yaml"
	DefaultNameHeader  = "X-Name"
	DefaultDisplayName = "John Smith"
)

// AppConfig is the process-wide configuration set by LoadConfig.
var AppConfig Config

// GetConfig returns the loaded application configuration.
func GetConfig() Config {
	return AppConfig
}

// LoadConfig reads the file named by CONFIG_PATH (or config.yaml) and stores
// the result in AppConfig. It panics if the file exists but is invalid.
func LoadConfig() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = DefaultConfigPath
	}
	AppConfig = LoadConfigFrom(path)
	return AppConfig
}

// LoadConfigFrom reads and validates a config file. A missing file yields the
// defaults.
func LoadConfigFrom(path string) Config {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// zero-config start
	case err != nil:
		panic(fmt.Sprintf("read config %s: %v", path, err))
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			panic(fmt.Sprintf("parse config %s: %v", path, err))
		}
	}

	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		panic(fmt.Sprintf("invalid config %s: %v", path, err))
	}
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8080"
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.RateLimiter.Interval == 0 {
		cfg.RateLimiter.Interval = time.Minute
	}
	if cfg.Auth.ReloadInterval == 0 {
		cfg.Auth.ReloadInterval = time.Minute
	}
	if cfg.Render.NameHeader == "" {
		cfg.Render.NameHeader = DefaultNameHeader
	}
	if cfg.Render.DefaultName == "" {
		cfg.Render.DefaultName = DefaultDisplayName
	}
	if cfg.Probe.TimeoutSecs == 0 {
		cfg.Probe.TimeoutSecs = 10
	}
}

func validate(cfg Config) error {
	if cfg.RateLimiter.Interval < 0 {
		return fmt.Errorf("rate_limiter.interval must be positive")
	}
	if cfg.RateLimiter.UserLimit < 0 {
		return fmt.Errorf("rate_limiter.user_limit must not be negative")
	}
	if cfg.Auth.ReloadInterval < 0 {
		return fmt.Errorf("auth.reload_interval must be positive")
	}
	if cfg.Probe.TimeoutSecs < 0 {
		return fmt.Errorf("probe.timeout_secs must not be negative")
	}
	if cfg.Cache.RateLimitDB < 0 {
		return fmt.Errorf("cache.rate_limit_db must not be negative")
	}
	return nil
}
