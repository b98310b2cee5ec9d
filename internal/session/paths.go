// Package session manages per-user on-disk state. Each signed-in user gets
// a profile directory keyed by their sanitized identity, holding the cache
// database, logs, and lock file.
package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.trustudsel.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".trustudsel")
}

// Dir returns the profile-specific directory.
func Dir(key string) string {
	return filepath.Join(BaseDir(), "profiles", key)
}

// LockPath returns the lock file path for a profile.
func LockPath(key string) string {
	return filepath.Join(Dir(key), "LOCK")
}

// CacheDBPath returns the conversation cache database path.
func CacheDBPath(key string) string {
	return filepath.Join(Dir(key), "cache.db")
}

// LogDir returns the log directory for a profile.
func LogDir(key string) string {
	return filepath.Join(Dir(key), "logs")
}

// LogPath returns the engine log file path.
func LogPath(key string) string {
	return filepath.Join(LogDir(key), "chat.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(key string) error {
	dirs := []string{
		Dir(key),
		LogDir(key),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
