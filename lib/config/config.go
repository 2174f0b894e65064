// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for roomstate.
type Config struct {
	// Environment identifies the deployment type (development,
	// staging, production).
	Environment Environment `yaml:"environment"`

	// Store configures event persistence.
	Store StoreConfig `yaml:"store"`

	// Cache configures the resolved-state cache.
	Cache CacheConfig `yaml:"cache"`

	// Ingest configures the ingest engine.
	Ingest IngestConfig `yaml:"ingest"`

	// Logging configures the structured logger.
	Logging LoggingConfig `yaml:"logging"`

	// Per-environment overrides, applied after the base config loads.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per
// environment.
type ConfigOverrides struct {
	Store   *StoreConfig   `yaml:"store,omitempty"`
	Cache   *CacheConfig   `yaml:"cache,omitempty"`
	Ingest  *IngestConfig  `yaml:"ingest,omitempty"`
	Logging *LoggingConfig `yaml:"logging,omitempty"`
}

// StoreConfig configures event persistence.
type StoreConfig struct {
	// Backend selects the store implementation: "sqlite" or "memory".
	Backend string `yaml:"backend"`

	// Path is the SQLite database file. Ignored for memory.
	Path string `yaml:"path"`

	// PoolSize is the SQLite connection pool size. Zero means the
	// pool's own default.
	PoolSize int `yaml:"pool_size"`
}

// CacheConfig configures the resolved-state cache.
type CacheConfig struct {
	// Size is the maximum number of cached state positions.
	Size int `yaml:"size"`
}

// IngestConfig configures the ingest engine.
type IngestConfig struct {
	// PendingTimeout is how long an event waits in the pending queue
	// for missing dependencies, as a Go duration string ("1m", "30s").
	PendingTimeout string `yaml:"pending_timeout"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is the minimum level emitted: debug, info, warn, error.
	Level string `yaml:"level"`
}

// Default returns the default configuration. These defaults are used
// as a base before loading the config file. They exist primarily to
// ensure all fields have sensible zero-values, not as a fallback -
// the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Environment: Development,
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    filepath.Join(homeDir, ".cache", "roomstate", "events.db"),
		},
		Cache: CacheConfig{
			Size: 1024,
		},
		Ingest: IngestConfig{
			PendingTimeout: "1m",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the ROOMSTATE_CONFIG environment
// variable.
//
// This is the only way to load configuration without an explicit
// path. There are no fallbacks or defaults - if ROOMSTATE_CONFIG is
// not set, this fails. This ensures deterministic, auditable
// configuration with no hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("ROOMSTATE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("ROOMSTATE_CONFIG environment variable not set; " +
			"set it to the path of your roomstate.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment
// variables do not override config values. The only expansion
// performed is ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

// applyEnvironmentOverrides applies the environment-specific
// overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}
	if overrides.Store != nil {
		c.Store = *overrides.Store
	}
	if overrides.Cache != nil {
		c.Cache = *overrides.Cache
	}
	if overrides.Ingest != nil {
		c.Ingest = *overrides.Ingest
	}
	if overrides.Logging != nil {
		c.Logging = *overrides.Logging
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Store.Path = expandVars(c.Store.Path, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	switch c.Store.Backend {
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path is required for the sqlite backend"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("store.backend must be sqlite or memory, got %q", c.Store.Backend))
	}
	if c.Cache.Size < 0 {
		errs = append(errs, fmt.Errorf("cache.size must not be negative"))
	}
	if _, err := c.PendingTimeout(); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// PendingTimeout parses the ingest pending timeout.
func (c *Config) PendingTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Ingest.PendingTimeout)
	if err != nil {
		return 0, fmt.Errorf("ingest.pending_timeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("ingest.pending_timeout must be positive, got %s", c.Ingest.PendingTimeout)
	}
	return d, nil
}
