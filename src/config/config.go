// Package config provides configuration management for buildwatch.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix for every setting.
const Prefix = "BUILDWATCH"

// Config holds the application configuration.
type Config struct {
	// ServersFile is the YAML file listing the CI servers to synchronize.
	ServersFile string `envconfig:"SERVERS_FILE" default:"servers.yml"`

	// StoreDriver selects the cache backend: memory, postgres, sqlite3 or mysql.
	StoreDriver string `envconfig:"STORE_DRIVER" default:"memory"`
	StoreDSN    string `envconfig:"STORE_DSN"`

	// RedpandaBrokers enables the Kafka broker; empty means in-memory.
	RedpandaBrokers []string `envconfig:"REDPANDA_BROKERS"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"console"`

	Workers     int    `envconfig:"WORKERS" default:"8"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	MaxIDDiff           int64         `envconfig:"MAX_ID_DIFF" default:"3000"`
	MaxChecked          int           `envconfig:"MAX_CHECKED" default:"5000"`
	ActualizeCoolDown   time.Duration `envconfig:"ACTUALIZE_COOLDOWN" default:"2m"`
	ReindexDelay        time.Duration `envconfig:"REINDEX_DELAY" default:"15m"`
	FullReindexInterval time.Duration `envconfig:"FULL_REINDEX_INTERVAL" default:"2h"`

	TickInterval time.Duration `envconfig:"TICK_INTERVAL" default:"1m"`
	HistoryDepth int           `envconfig:"HISTORY_DEPTH" default:"50"`
}

// LoadFromEnv loads configuration from environment variables.
// A .env file in the working directory is read first when present;
// variables already set in the environment take precedence.
func LoadFromEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that envconfig cannot express.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "", "memory":
	case "postgres", "sqlite3", "sqlite", "mysql":
		if c.StoreDSN == "" {
			return fmt.Errorf("%s_STORE_DSN is required for store driver %q", Prefix, c.StoreDriver)
		}
	default:
		return fmt.Errorf("unknown store driver %q (want memory, postgres, sqlite3 or mysql)", c.StoreDriver)
	}

	switch c.LogFormat {
	case "console", "json", "plain", "silent":
	default:
		return fmt.Errorf("unknown log format %q (want console, json, plain or silent)", c.LogFormat)
	}

	if c.Workers <= 0 {
		return fmt.Errorf("%s_WORKERS must be positive, got %d", Prefix, c.Workers)
	}
	if c.MaxIDDiff <= 0 || c.MaxChecked <= 0 {
		return fmt.Errorf("%s_MAX_ID_DIFF and %s_MAX_CHECKED must be positive", Prefix, Prefix)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("%s_TICK_INTERVAL must be positive", Prefix)
	}
	return nil
}
