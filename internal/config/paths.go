package config

import (
	"os"
	"path/filepath"
)

// Dir returns the per-user foyer directory (~/.foyer), honoring FOYER_HOME
// for tests and unusual setups.
func Dir() (string, error) {
	if dir := os.Getenv("FOYER_HOME"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".foyer"), nil
}

// File returns the default config file path.
func File() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// EnsureDir creates the foyer directory if needed.
func EnsureDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}
