package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/dracoon-go/internal/config"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"), nil)
	require.NoError(t, err)
	require.Equal(t, 1, cfg.Velocity)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := config.DefaultConfig()
	cfg.DefaultTarget = "https://dracoon.example.com"
	cfg.DefaultAccount = "alice"
	cfg.Velocity = 3

	require.NoError(t, config.Save(path, cfg))

	loaded, err := config.Load(path, nil)
	require.NoError(t, err)
	require.Equal(t, "https://dracoon.example.com", loaded.DefaultTarget)
	require.Equal(t, "alice", loaded.DefaultAccount)
	require.Equal(t, 3, loaded.Velocity)

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}
