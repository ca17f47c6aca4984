// Package config loads service configuration from YAML with env overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	databaseDSNEnv  = "DRIPFEED_DATABASE_DSN"
	databasePathEnv = "DRIPFEED_SQLITE_PATH"
	listenAddrEnv   = "DRIPFEED_LISTEN_ADDR"
	logLevelEnv     = "DRIPFEED_LOG_LEVEL"
)

// Config holds all settings required across the service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Runner   RunnerConfig   `yaml:"runner"`
	Progress ProgressConfig `yaml:"progress"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	// PublishAllPerMinute caps operator emergency-publish calls.
	PublishAllPerMinute int `yaml:"publishAllPerMinute"`
}

// DatabaseConfig selects the storage backend. A non-empty DSN picks
// PostgreSQL, otherwise the SQLite file at Path is used.
type DatabaseConfig struct {
	DSN  string `yaml:"dsn"`
	Path string `yaml:"path"`
}

// RunnerConfig defines the recurring background triggers.
type RunnerConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ScheduleSpec string `yaml:"scheduleSpec"` // cron spec for the drip sweep
	ReleaseSpec  string `yaml:"releaseSpec"`  // cron spec for the due-item sweep
}

// ProgressConfig tunes the gathering-progress monitor.
type ProgressConfig struct {
	PollInterval Duration `yaml:"pollInterval"`
}

// LoggingConfig controls the zerolog output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:          ":8080",
			PublishAllPerMinute: 6,
		},
		Database: DatabaseConfig{Path: "dripfeed.db"},
		Runner: RunnerConfig{
			Enabled:      true,
			ScheduleSpec: "@every 15m",
			ReleaseSpec:  "@every 1m",
		},
		Progress: ProgressConfig{PollInterval: Duration(5 * time.Second)},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// Load reads YAML configuration from path (if non-empty) on top of the
// defaults, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if cfg.Progress.PollInterval <= 0 {
		cfg.Progress.PollInterval = Duration(5 * time.Second)
	}
	if cfg.Server.PublishAllPerMinute <= 0 {
		cfg.Server.PublishAllPerMinute = 6
	}

	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(databasePathEnv); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(listenAddrEnv); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}
