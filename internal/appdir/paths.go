// Package appdir centralizes the on-disk layout of the Tahseel data
// directory (~/.tahseel).
package appdir

import (
	"fmt"
	"os"
	"path/filepath"
)

// BaseDir returns ~/.tahseel, honoring the TAHSEEL_HOME override.
func BaseDir() string {
	if dir := os.Getenv("TAHSEEL_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tahseel")
}

// ConfigPath returns the TOML config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// StoreDBPath returns the local store SQLite database path.
func StoreDBPath() string {
	return filepath.Join(BaseDir(), "tahseel.db")
}

// LogPath returns the daemon log file path.
func LogPath() string {
	return filepath.Join(BaseDir(), "tahseeld.log")
}

// LockPath returns the process lock file path.
func LockPath() string {
	return filepath.Join(BaseDir(), "LOCK")
}

// EnsureDir creates the base directory with owner-only permissions.
func EnsureDir() error {
	if err := os.MkdirAll(BaseDir(), 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}
