// Package config loads process configuration from defaults, a YAML file,
// dotenv files, the environment and command-line flags, in that order.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBolt     = "bolt"
	DriverRedis    = "redis"
)

// Config holds every runtime setting.
type Config struct {
	Addr        string `yaml:"addr" env:"PASTEIT_ADDR"`
	BaseURL     string `yaml:"base_url" env:"PASTEIT_BASE_URL"`
	BehindProxy bool   `yaml:"behind_proxy" env:"PASTEIT_BEHIND_PROXY"`

	LogLevel  string `yaml:"log_level" env:"PASTEIT_LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"PASTEIT_LOG_FORMAT"`

	StoreDriver   string `yaml:"store_driver" env:"PASTEIT_STORE_DRIVER"`
	DataPath      string `yaml:"data_path" env:"PASTEIT_DATA_PATH"`
	PostgresURL   string `yaml:"postgres_url" env:"PASTEIT_POSTGRES_URL"`
	RedisAddr     string `yaml:"redis_addr" env:"PASTEIT_REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"PASTEIT_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"PASTEIT_REDIS_DB"`

	Retention     time.Duration `yaml:"retention" env:"PASTEIT_RETENTION"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"PASTEIT_SWEEP_INTERVAL"`
	MaxBytes      int           `yaml:"max_bytes" env:"PASTEIT_MAX_BYTES"`

	SitePassword string `yaml:"site_password" env:"PASTEIT_SITE_PASSWORD"`
	CookieSecret string `yaml:"cookie_secret" env:"PASTEIT_COOKIE_SECRET"`

	HighlightStyle     string `yaml:"highlight_style" env:"PASTEIT_HIGHLIGHT_STYLE"`
	HighlightCacheSize int    `yaml:"highlight_cache_size" env:"PASTEIT_HIGHLIGHT_CACHE_SIZE"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Addr:               ":8080",
		LogLevel:           "info",
		LogFormat:          "json",
		StoreDriver:        DriverSQLite,
		DataPath:           "./pasteit.db",
		RedisAddr:          "localhost:6379",
		Retention:          3 * time.Hour,
		SweepInterval:      time.Minute,
		MaxBytes:           1_048_576,
		HighlightStyle:     "github",
		HighlightCacheSize: 256,
	}
}

// Load builds the configuration from args (without the program name).
// The YAML file comes from -config or PASTEIT_CONFIG; a missing file is an error
// only when named explicitly by the flag.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("pasteit", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "path to YAML config file")
	addr := fs.String("addr", "", "listen address")
	data := fs.String("data", "", "path to data file (sqlite and bolt drivers)")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	cfg := Default()

	path, explicit := *configPath, *configPath != ""
	if !explicit {
		path = os.Getenv("PASTEIT_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFromFile(path, explicit); err != nil {
			return nil, err
		}
	}

	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if *addr != "" {
		cfg.Addr = *addr
	}
	if *data != "" {
		cfg.DataPath = *data
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// loadDotEnv loads the comma-separated files in DOTENV_PATHS. Variables
// already set in the environment win.
func loadDotEnv() error {
	paths := os.Getenv("DOTENV_PATHS")
	if paths == "" {
		return nil
	}
	if err := godotenv.Load(strings.Split(paths, ",")...); err != nil {
		return fmt.Errorf("load dotenv: %w", err)
	}
	return nil
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverSQLite, DriverBolt:
		if c.DataPath == "" {
			return fmt.Errorf("data_path is required for the %s driver", c.StoreDriver)
		}
	case DriverPostgres:
		if c.PostgresURL == "" {
			return errors.New("postgres_url is required for the postgres driver")
		}
	case DriverRedis:
		if c.RedisAddr == "" {
			return errors.New("redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("invalid store driver: %q (must be sqlite, postgres, bolt or redis)", c.StoreDriver)
	}
	if c.Retention <= 0 {
		return errors.New("retention must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("sweep_interval must be positive")
	}
	if c.MaxBytes <= 0 {
		return errors.New("max_bytes must be positive")
	}
	if c.HighlightCacheSize < 0 {
		return errors.New("highlight_cache_size must not be negative")
	}
	return nil
}
