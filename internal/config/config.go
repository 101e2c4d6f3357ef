package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server struct {
		Addr                   string `yaml:"addr"`
		PollIntervalSeconds    int    `yaml:"poll_interval_seconds"`
		ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
	} `yaml:"server"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Market struct {
		QuoteTTLSeconds int `yaml:"quote_ttl_seconds"`
	} `yaml:"market"`
	Collector struct {
		Enabled bool   `yaml:"enabled"`
		Cron    string `yaml:"cron"`
	} `yaml:"collector"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is fine; everything has a default.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.Collector.Enabled = true

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("COLLECTOR_CRON"); v != "" {
		cfg.Collector.Cron = v
	}
	if v := os.Getenv("POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.PollIntervalSeconds = n
		}
	}

	// Defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.PollIntervalSeconds <= 0 {
		cfg.Server.PollIntervalSeconds = 30
	}
	if cfg.Server.ShutdownTimeoutSeconds <= 0 {
		cfg.Server.ShutdownTimeoutSeconds = 8
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/portfolio.db"
	}
	if cfg.Market.QuoteTTLSeconds <= 0 {
		cfg.Market.QuoteTTLSeconds = 60
	}
	if cfg.Collector.Cron == "" {
		// Hourly, on the hour.
		cfg.Collector.Cron = "0 * * * *"
	}

	return cfg, nil
}

// PollInterval returns the websocket refresh cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Server.PollIntervalSeconds) * time.Second
}

// ShutdownTimeout returns how long a graceful shutdown may take.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// QuoteTTL returns how long a cached quote stays fresh.
func (c *Config) QuoteTTL() time.Duration {
	return time.Duration(c.Market.QuoteTTLSeconds) * time.Second
}
