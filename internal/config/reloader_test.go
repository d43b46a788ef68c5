package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, level string) {
	t.Helper()
	content := "logging:\n  level: " + level + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestReloaderReload(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "info")

	initial, err := Load(path)
	require.NoError(t, err)

	r := NewReloader(path, initial)
	var seen string
	r.AddCallback(func(ctx context.Context, c *Config) error {
		seen = c.Logging.Level
		return nil
	})

	writeConfig(t, path, "debug")
	require.NoError(t, r.Reload(context.Background()))

	assert.Equal(t, "debug", seen)
	assert.Equal(t, "debug", r.GetConfig().Logging.Level)
	assert.Equal(t, ReloadStateIdle, r.State())
}

func TestReloaderKeepsConfigOnFailure(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "info")
	initial, err := Load(path)
	require.NoError(t, err)

	t.Run("invalid file", func(t *testing.T) {
		r := NewReloader(path, initial)
		writeConfig(t, path, "shouting")
		assert.Error(t, r.Reload(context.Background()))
		assert.Same(t, initial, r.GetConfig())
		assert.False(t, r.IsReloading())
	})

	t.Run("callback error", func(t *testing.T) {
		writeConfig(t, path, "warn")
		r := NewReloader(path, initial)
		r.AddCallback(func(ctx context.Context, c *Config) error {
			return errors.New("rejected")
		})
		assert.Error(t, r.Reload(context.Background()))
		assert.Same(t, initial, r.GetConfig())
	})
}

func TestReloaderStartStop(t *testing.T) {
	r := NewReloader("", Default())
	r.Start()
	r.Start()
	r.Stop()
	assert.Equal(t, ReloadStateStopped, r.State())
	r.Stop()

	r.Start()
	assert.Equal(t, ReloadStateIdle, r.State())
	r.Stop()
}
