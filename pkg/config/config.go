// Package config provides configuration loading and defaults for the
// intake engine.
//
// Configuration comes from an optional JSON file overridden by INTAKE_*
// environment variables. Values are handed out by value; there is no
// global instance, callers own the Config they load.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults. The retry ceiling and lockout window are product constants
// with no documented rationale; they live here so behavior is adjustable
// without touching the use sites.
const (
	DefaultListenAddr        = ":8437"
	DefaultDBPath            = "intake.db"
	DefaultMaxRetryAttempts  = 3
	DefaultBackoffBaseSec    = 1
	DefaultLockoutHours      = 24
	DefaultTickerIntervalSec = 3
)

// Config is the engine configuration.
type Config struct {
	// Endpoint is the remote submission URL. Empty disables delivery.
	Endpoint string `json:"endpoint"`
	// PlacesAPIKey enables the address capability when present.
	PlacesAPIKey string `json:"places_api_key,omitempty"`
	// ListenAddr is the HTTP API bind address.
	ListenAddr string `json:"listen_addr"`
	// DBPath is the SQLite file backing the persistent store.
	DBPath string `json:"db_path"`
	// MaxRetryAttempts caps sequential delivery attempts per submission.
	MaxRetryAttempts int `json:"max_retry_attempts"`
	// BackoffBaseSec is the first retry delay; later delays double it.
	BackoffBaseSec int `json:"backoff_base_sec"`
	// LockoutHours is the duplicate-submission lockout window.
	LockoutHours int `json:"lockout_hours"`
	// TickerIntervalSec is the cadence of the cosmetic progress ticker.
	TickerIntervalSec int `json:"ticker_interval_sec"`
	// MetricsEnabled switches the Prometheus recorder on.
	MetricsEnabled bool `json:"metrics_enabled"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:        DefaultListenAddr,
		DBPath:            DefaultDBPath,
		MaxRetryAttempts:  DefaultMaxRetryAttempts,
		BackoffBaseSec:    DefaultBackoffBaseSec,
		LockoutHours:      DefaultLockoutHours,
		TickerIntervalSec: DefaultTickerIntervalSec,
		MetricsEnabled:    true,
	}
}

// LoadConfig reads the JSON file at configPath when it exists, applies
// environment overrides and validates the result. A missing file is not
// an error; defaults plus environment apply.
func LoadConfig(configPath string) (Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		raw, err := os.ReadFile(configPath)
		switch {
		case os.IsNotExist(err):
			// Defaults apply.
		case err != nil:
			return Config{}, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		default:
			if err := json.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides lets INTAKE_* variables take precedence over the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("INTAKE_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv("INTAKE_PLACES_API_KEY"); v != "" {
		cfg.PlacesAPIKey = v
	}
	if v := os.Getenv("INTAKE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("INTAKE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("INTAKE_MAX_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRetryAttempts = n
		}
	}
	if v := os.Getenv("INTAKE_LOCKOUT_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LockoutHours = n
		}
	}
}

// Validate rejects configurations that would misbehave at runtime.
func (c Config) Validate() error {
	if c.MaxRetryAttempts < 1 {
		return fmt.Errorf("max_retry_attempts must be at least 1, got %d", c.MaxRetryAttempts)
	}
	if c.BackoffBaseSec < 0 {
		return fmt.Errorf("backoff_base_sec must not be negative, got %d", c.BackoffBaseSec)
	}
	if c.LockoutHours < 0 {
		return fmt.Errorf("lockout_hours must not be negative, got %d", c.LockoutHours)
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	return nil
}

// BackoffBase returns the first retry delay as a duration.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSec) * time.Second
}

// LockoutWindow returns the lockout window as a duration.
func (c Config) LockoutWindow() time.Duration {
	return time.Duration(c.LockoutHours) * time.Hour
}

// TickerInterval returns the progress ticker cadence as a duration.
func (c Config) TickerInterval() time.Duration {
	return time.Duration(c.TickerIntervalSec) * time.Second
}

// AddressEnabled reports whether the address capability can be wired.
func (c Config) AddressEnabled() bool {
	return c.PlacesAPIKey != ""
}
