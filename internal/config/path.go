package config

import (
	"os"
	"path/filepath"
)

// DefaultDataDir returns the data directory the CLI uses when --data-dir is
// not given: $XDG_DATA_HOME/persist when set, otherwise ~/.persist. When no
// home directory resolves it falls back to ./data relative to the working
// directory.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "persist")
	}
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		return "./data"
	}
	return filepath.Join(homeDir, ".persist")
}
