// Package config reads the global ~/.trustudsel/config.toml.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/cache"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/timeconv"
)

// Config represents the global config file. Duration fields are
// time.ParseDuration strings; empty means the built-in default.
type Config struct {
	RemoteURL string `toml:"remote_url"`
	AuthToken string `toml:"auth_token"`
	JWTSecret string `toml:"jwt_secret"`

	FreshnessWindow string `toml:"freshness_window"`
	SkewTolerance   string `toml:"skew_tolerance"`
	SkewOffset      string `toml:"skew_offset"`

	// Zero value keeps notifications on.
	DisableNotifications bool `toml:"disable_notifications"`
}

// Load reads config from the given path. Returns zero config and error if
// file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// FreshnessWindowDuration returns the cache freshness window, falling back
// to the built-in default when unset or malformed.
func (c *Config) FreshnessWindowDuration() time.Duration {
	return parseDuration(c.FreshnessWindow, cache.FreshnessWindow)
}

// SkewToleranceDuration returns how far in the future a timestamp may sit
// before skew correction applies.
func (c *Config) SkewToleranceDuration() time.Duration {
	return parseDuration(c.SkewTolerance, timeconv.DefaultSkewTolerance)
}

// SkewOffsetDuration returns the correction subtracted from skewed
// timestamps.
func (c *Config) SkewOffsetDuration() time.Duration {
	return parseDuration(c.SkewOffset, timeconv.DefaultSkewOffset)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
