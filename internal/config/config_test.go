package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/billm/relayhub/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allEnvVars = []string{
	EnvPort, EnvHost, EnvPingInterval, EnvPingTimeout, EnvSendQueueSize,
	EnvLogLevel, EnvLogFormat, EnvStorageBackend, EnvStorageDir, EnvNATSURL,
	EnvMetricsEnabled, EnvStreamIdleTTL, EnvShutdownTimeout,
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range allEnvVars {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestConfigPrecedence(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("defaults are used when nothing else is specified", func(t *testing.T) {
		clearEnv(t)
		SetTestConfigPath(filepath.Join(tmpDir, "nonexistent.yaml"))
		defer SetTestConfigPath("")

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v, want nil", err)
		}

		defaultServer := DefaultServerConfig()
		if cfg.Server.Port != defaultServer.Port {
			t.Errorf("Server.Port = %d, want default %d", cfg.Server.Port, defaultServer.Port)
		}
		if cfg.Server.PingInterval != defaultServer.PingInterval {
			t.Errorf("Server.PingInterval = %v, want default %v", cfg.Server.PingInterval, defaultServer.PingInterval)
		}
		if cfg.Storage.Backend != StorageBackendFile {
			t.Errorf("Storage.Backend = %s, want %s", cfg.Storage.Backend, StorageBackendFile)
		}
	})

	t.Run("YAML overrides defaults", func(t *testing.T) {
		clearEnv(t)
		configPath := filepath.Join(tmpDir, "config-override.yaml")
		yamlContent := `
server:
  host: 127.0.0.1
  port: 9090
  ping_interval: 5s
stream:
  idle_ttl: 30s
logging:
  level: debug
`
		require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

		cfg, err := Load(configPath)
		require.NoError(t, err)

		assert.Equal(t, "127.0.0.1", cfg.Server.Host)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, 5*time.Second, cfg.Server.PingInterval)
		assert.Equal(t, DefaultPingTimeout, cfg.Server.PingTimeout)
		assert.Equal(t, 30*time.Second, cfg.Stream.IdleTTL)
		assert.Equal(t, DefaultMaxStreams, cfg.Stream.MaxStreams)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.True(t, cfg.Metrics.Enabled, "absent metrics section keeps default")
	})

	t.Run("environment overrides YAML", func(t *testing.T) {
		clearEnv(t)
		configPath := filepath.Join(tmpDir, "config-env.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: 9090\n"), 0644))

		t.Setenv(EnvPort, "7000")
		t.Setenv(EnvLogLevel, "warn")
		t.Setenv(EnvStorageBackend, StorageBackendNone)

		cfg, err := Load(configPath)
		require.NoError(t, err)
		assert.Equal(t, 7000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.Equal(t, StorageBackendNone, cfg.Storage.Backend)
	})

	t.Run("CLI overrides environment", func(t *testing.T) {
		clearEnv(t)
		SetTestConfigPath(filepath.Join(tmpDir, "nonexistent.yaml"))
		defer SetTestConfigPath("")
		t.Setenv(EnvPort, "7000")

		cfg, err := Load("")
		require.NoError(t, err)
		cfg.ApplyOverrides(OverrideOptions{Port: 8000, LogLevel: "error", StorageDir: "/data"})

		assert.Equal(t, 8000, cfg.Server.Port)
		assert.Equal(t, "error", cfg.Logging.Level)
		assert.Equal(t, "/data", cfg.Storage.BaseDir)
		assert.Equal(t, DefaultHost, cfg.Server.Host, "zero override leaves value alone")
	})

	t.Run("invalid PORT is ignored", func(t *testing.T) {
		clearEnv(t)
		SetTestConfigPath(filepath.Join(tmpDir, "nonexistent.yaml"))
		defer SetTestConfigPath("")
		t.Setenv(EnvPort, "not-a-port")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, DefaultPort, cfg.Server.Port)
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "port zero", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: true},
		{name: "port too large", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: true},
		{name: "negative ping interval", mutate: func(c *Config) { c.Server.PingInterval = -time.Second }, wantErr: true},
		{name: "zero send queue", mutate: func(c *Config) { c.Server.SendQueueSize = 0 }, wantErr: true},
		{name: "zero max streams", mutate: func(c *Config) { c.Stream.MaxStreams = 0 }, wantErr: true},
		{name: "zero idle ttl", mutate: func(c *Config) { c.Stream.IdleTTL = 0 }, wantErr: true},
		{name: "unknown storage backend", mutate: func(c *Config) { c.Storage.Backend = "s3" }, wantErr: true},
		{name: "nats without url", mutate: func(c *Config) {
			c.Storage.Backend = StorageBackendNATS
			c.Storage.NATSURL = ""
		}, wantErr: true},
		{name: "none backend", mutate: func(c *Config) { c.Storage.Backend = StorageBackendNone }},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "verbose" }, wantErr: true},
		{name: "bad log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "metrics path without slash", mutate: func(c *Config) { c.Metrics.Path = "metrics" }, wantErr: true},
		{name: "metrics disabled ignores path", mutate: func(c *Config) {
			c.Metrics.Enabled = false
			c.Metrics.Path = "metrics"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, types.IsErrCode(err, types.ErrCodeInvalidArgument))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestListenAddress(t *testing.T) {
	cfg := Default()
	cfg.Server.Host = "::1"
	cfg.Server.Port = 10000
	assert.Equal(t, "[::1]:10000", cfg.ListenAddress())
}
