package config

import (
	"os"
	"path/filepath"
	"time"
)

// testConfigPath is an override for the default config path used in testing
var testConfigPath string

// SetTestConfigPath sets a custom config path for testing purposes
func SetTestConfigPath(path string) {
	testConfigPath = path
}

// GetConfigDir returns the relayhub configuration directory
// Uses ~/.config/relayhub/ on Unix systems
func GetConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "relayhub"), nil
}

// GetDefaultConfigPath returns the default config file path
func GetDefaultConfigPath() (string, error) {
	if testConfigPath != "" {
		return testConfigPath, nil
	}

	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

const (
	// Environment variable names
	EnvPort            = "PORT"
	EnvHost            = "RELAYHUB_HOST"
	EnvPingInterval    = "RELAYHUB_PING_INTERVAL"
	EnvPingTimeout     = "RELAYHUB_PING_TIMEOUT"
	EnvSendQueueSize   = "RELAYHUB_SEND_QUEUE_SIZE"
	EnvLogLevel        = "LOG_LEVEL"
	EnvLogFormat       = "LOG_FORMAT"
	EnvStorageBackend  = "RELAYHUB_STORAGE_BACKEND"
	EnvStorageDir      = "RELAYHUB_STORAGE_DIR"
	EnvNATSURL         = "NATS_URL"
	EnvMetricsEnabled  = "METRICS_ENABLED"
	EnvStreamIdleTTL   = "RELAYHUB_STREAM_IDLE_TTL"
	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT"
)

const (
	// Default server settings
	DefaultHost              = "0.0.0.0"
	DefaultPort              = 10000
	DefaultPingInterval      = 20 * time.Second
	DefaultPingTimeout       = 60 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultMaxMessageSize    = 16 << 20
	DefaultSendQueueSize     = 256

	// Default stream reassembly limits
	DefaultMaxStreams     = 1024
	DefaultMaxChunks      = 4096
	DefaultMaxStreamBytes = 64 << 20
	DefaultStreamIdleTTL  = 2 * time.Minute
	DefaultSweepInterval  = 15 * time.Second

	// Default storage settings
	DefaultStorageBackend = StorageBackendFile
	DefaultStorageBaseDir = "."
	DefaultNATSBucket     = "relayhub-artifacts"

	// Default logging settings
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"

	// Default metrics settings
	DefaultMetricsPath = "/metrics"

	// Default hub settings
	DefaultVersion         = "2.0"
	DefaultShutdownTimeout = 30 * time.Second
)

// Storage backends
const (
	StorageBackendFile = "file"
	StorageBackendNATS = "nats"
	StorageBackendNone = "none"
)

// DefaultServerConfig returns the default transport configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:              DefaultHost,
		Port:              DefaultPort,
		PingInterval:      DefaultPingInterval,
		PingTimeout:       DefaultPingTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		MaxMessageSize:    DefaultMaxMessageSize,
		SendQueueSize:     DefaultSendQueueSize,
	}
}

// DefaultStreamConfig returns the default reassembly limits
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		MaxStreams:    DefaultMaxStreams,
		MaxChunks:     DefaultMaxChunks,
		MaxBytes:      DefaultMaxStreamBytes,
		IdleTTL:       DefaultStreamIdleTTL,
		SweepInterval: DefaultSweepInterval,
	}
}

// DefaultStorageConfig returns the default artifact storage configuration
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Backend:    DefaultStorageBackend,
		BaseDir:    DefaultStorageBaseDir,
		NATSURL:    "nats://127.0.0.1:4222",
		NATSBucket: DefaultNATSBucket,
	}
}

// DefaultLoggingConfig returns the default logging configuration
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  DefaultLogLevel,
		Format: DefaultLogFormat,
		Output: "stdout",
	}
}

// DefaultMetricsConfig returns the default metrics configuration
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled: true,
		Path:    DefaultMetricsPath,
	}
}

// DefaultHubConfig returns the default hub configuration
func DefaultHubConfig() HubConfig {
	return HubConfig{
		Version:         DefaultVersion,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// Default returns a complete configuration populated with defaults
func Default() *Config {
	return &Config{
		Server:  DefaultServerConfig(),
		Stream:  DefaultStreamConfig(),
		Storage: DefaultStorageConfig(),
		Logging: DefaultLoggingConfig(),
		Metrics: DefaultMetricsConfig(),
		Hub:     DefaultHubConfig(),
	}
}
