// Package config resolves the configuration directory and loads the
// on-disk config file: a default target URL, a default account, the
// transfer velocity, and logging settings. The directory also holds the
// log file.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// appName names the per-platform config/data directory.
const appName = "dracoon-go"

// configFileName is the on-disk config file.
const configFileName = "config.toml"

// logFileName is the on-disk log file.
const logFileName = "dracoon-go.log"

// DefaultConfigDir returns the platform-specific directory for config and
// log files. On Linux, respects XDG_CONFIG_HOME (defaults to
// ~/.config/dracoon-go). On macOS, uses ~/Library/Application Support per
// Apple guidelines. Other platforms fall back to ~/.config/dracoon-go.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxConfigDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

func linuxConfigDir(home string) string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".config", appName)
}

// DefaultConfigFile returns the full path to the config file.
func DefaultConfigFile() string {
	return filepath.Join(DefaultConfigDir(), configFileName)
}

// DefaultLogFile returns the full path to the log file.
func DefaultLogFile() string {
	return filepath.Join(DefaultConfigDir(), logFileName)
}
