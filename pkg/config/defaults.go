package config

import (
	"os"
	"path/filepath"
)

// defaultDBPath returns the default database file path.
//
// Returns: ~/.config/dose/history.db.
func defaultDBPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./history.db"
	}

	return filepath.Join(homeDir, ".config", "dose", "history.db")
}

// DefaultPath returns the default configuration file path.
//
// Returns: ~/.config/dose/config.yaml.
func DefaultPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./dose.yaml"
	}

	return filepath.Join(homeDir, ".config", "dose", "config.yaml")
}
