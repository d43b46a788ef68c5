package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/billm/relayhub/pkg/types"
)

// Config represents the complete configuration for the relay hub
type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server"`
	Stream  StreamConfig  `json:"stream" yaml:"stream"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Hub     HubConfig     `json:"hub" yaml:"hub"`
}

// ServerConfig contains the device transport configuration
type ServerConfig struct {
	Host              string        `json:"host" yaml:"host"`
	Port              int           `json:"port" yaml:"port"`
	PingInterval      time.Duration `json:"ping_interval" yaml:"ping_interval"`
	PingTimeout       time.Duration `json:"ping_timeout" yaml:"ping_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout" yaml:"write_timeout"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" yaml:"read_header_timeout"`
	MaxMessageSize    int64         `json:"max_message_size" yaml:"max_message_size"` // bytes
	SendQueueSize     int           `json:"send_queue_size" yaml:"send_queue_size"`   // frames per connection
}

// StreamConfig bounds the in-flight chunked stream buffers
type StreamConfig struct {
	MaxStreams    int           `json:"max_streams" yaml:"max_streams"`
	MaxChunks     int           `json:"max_chunks" yaml:"max_chunks"`
	MaxBytes      int64         `json:"max_bytes" yaml:"max_bytes"`
	IdleTTL       time.Duration `json:"idle_ttl" yaml:"idle_ttl"`
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval"`
}

// StorageConfig selects where decoded media artifacts are written
type StorageConfig struct {
	Backend    string `json:"backend" yaml:"backend"` // file, nats, none
	BaseDir    string `json:"base_dir" yaml:"base_dir"`
	NATSURL    string `json:"nats_url" yaml:"nats_url"`
	NATSBucket string `json:"nats_bucket" yaml:"nats_bucket"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
	Output string `json:"output" yaml:"output"` // stdout, stderr, file path
}

// MetricsConfig contains Prometheus exposition configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// HubConfig contains process-level settings
type HubConfig struct {
	Version         string        `json:"version" yaml:"version"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// applyDefaults fills in zero-valued config fields with their defaults.
// Called after loading from YAML so partial files get sensible values.
func applyDefaults(cfg *Config) {
	ds := DefaultServerConfig()
	if cfg.Server.Host == "" {
		cfg.Server.Host = ds.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = ds.Port
	}
	if cfg.Server.PingInterval == 0 {
		cfg.Server.PingInterval = ds.PingInterval
	}
	if cfg.Server.PingTimeout == 0 {
		cfg.Server.PingTimeout = ds.PingTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = ds.WriteTimeout
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = ds.ReadHeaderTimeout
	}
	if cfg.Server.MaxMessageSize == 0 {
		cfg.Server.MaxMessageSize = ds.MaxMessageSize
	}
	if cfg.Server.SendQueueSize == 0 {
		cfg.Server.SendQueueSize = ds.SendQueueSize
	}

	dst := DefaultStreamConfig()
	if cfg.Stream.MaxStreams == 0 {
		cfg.Stream.MaxStreams = dst.MaxStreams
	}
	if cfg.Stream.MaxChunks == 0 {
		cfg.Stream.MaxChunks = dst.MaxChunks
	}
	if cfg.Stream.MaxBytes == 0 {
		cfg.Stream.MaxBytes = dst.MaxBytes
	}
	if cfg.Stream.IdleTTL == 0 {
		cfg.Stream.IdleTTL = dst.IdleTTL
	}
	if cfg.Stream.SweepInterval == 0 {
		cfg.Stream.SweepInterval = dst.SweepInterval
	}

	dsg := DefaultStorageConfig()
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = dsg.Backend
	}
	if cfg.Storage.BaseDir == "" {
		cfg.Storage.BaseDir = dsg.BaseDir
	}
	if cfg.Storage.NATSURL == "" {
		cfg.Storage.NATSURL = dsg.NATSURL
	}
	if cfg.Storage.NATSBucket == "" {
		cfg.Storage.NATSBucket = dsg.NATSBucket
	}

	dl := DefaultLoggingConfig()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = dl.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = dl.Format
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = dl.Output
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}

	dh := DefaultHubConfig()
	if cfg.Hub.Version == "" {
		cfg.Hub.Version = dh.Version
	}
	if cfg.Hub.ShutdownTimeout == 0 {
		cfg.Hub.ShutdownTimeout = dh.ShutdownTimeout
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Used by both Load() and the config reloader.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvHost); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv(EnvPingInterval); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.PingInterval = d
		}
	}
	if v := os.Getenv(EnvPingTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.PingTimeout = d
		}
	}
	if v := os.Getenv(EnvSendQueueSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.SendQueueSize = n
		}
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv(EnvStorageBackend); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv(EnvStorageDir); v != "" {
		cfg.Storage.BaseDir = v
	}
	if v := os.Getenv(EnvNATSURL); v != "" {
		cfg.Storage.NATSURL = v
	}

	if v := os.Getenv(EnvMetricsEnabled); v != "" {
		cfg.Metrics.Enabled = strings.ToLower(v) == "true" || v == "1"
	}

	if v := os.Getenv(EnvStreamIdleTTL); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Stream.IdleTTL = d
		}
	}

	if v := os.Getenv(EnvShutdownTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Hub.ShutdownTimeout = d
		}
	}
}

// Load builds the configuration. If path is empty the default config file is
// used when it exists; otherwise defaults apply. Environment variables
// override file values.
func Load(path string) (*Config, error) {
	var cfg *Config

	if path == "" {
		if defaultPath, err := GetDefaultConfigPath(); err == nil {
			if _, err := os.Stat(defaultPath); err == nil {
				path = defaultPath
			} else if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to check config file: %w", err)
			}
		}
	}

	if path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = Default()
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for validity
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return types.NewError(types.ErrCodeInvalidArgument, "server port must be between 1 and 65535")
	}
	if c.Server.PingInterval <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "server ping interval must be positive")
	}
	if c.Server.PingTimeout <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "server ping timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "server write timeout must be positive")
	}
	if c.Server.MaxMessageSize <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "server max message size must be positive")
	}
	if c.Server.SendQueueSize <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "server send queue size must be positive")
	}

	if c.Stream.MaxStreams <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "stream max streams must be positive")
	}
	if c.Stream.MaxChunks <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "stream max chunks must be positive")
	}
	if c.Stream.MaxBytes <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "stream max bytes must be positive")
	}
	if c.Stream.IdleTTL <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "stream idle ttl must be positive")
	}
	if c.Stream.SweepInterval <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "stream sweep interval must be positive")
	}

	switch c.Storage.Backend {
	case StorageBackendFile:
		if c.Storage.BaseDir == "" {
			return types.NewError(types.ErrCodeInvalidArgument, "storage base dir cannot be empty for file backend")
		}
	case StorageBackendNATS:
		if c.Storage.NATSURL == "" || c.Storage.NATSBucket == "" {
			return types.NewError(types.ErrCodeInvalidArgument, "storage nats url and bucket are required for nats backend")
		}
	case StorageBackendNone:
	default:
		return types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid storage backend: %s (must be file, nats, or none)", c.Storage.Backend))
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid log format: %s (must be json or text)", c.Logging.Format))
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return types.NewError(types.ErrCodeInvalidArgument, "metrics path must start with /")
	}

	if c.Hub.ShutdownTimeout <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "hub shutdown timeout must be positive")
	}

	return nil
}

// ListenAddress returns the host:port the transport binds to
func (c *Config) ListenAddress() string {
	return c.Server.ListenAddress()
}

// ListenAddress returns host:port
func (c ServerConfig) ListenAddress() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{Server: %s, Stream: %s, Storage: %s, Logging: %s, Metrics: %v}",
		c.Server, c.Stream, c.Storage, c.Logging, c.Metrics.Enabled)
}

// ApplyOverrides applies CLI flag overrides to the configuration.
// Zero values leave the loaded configuration untouched.
func (c *Config) ApplyOverrides(opts OverrideOptions) {
	if opts.Host != "" {
		c.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		c.Server.Port = opts.Port
	}
	if opts.PingInterval > 0 {
		c.Server.PingInterval = opts.PingInterval
	}
	if opts.PingTimeout > 0 {
		c.Server.PingTimeout = opts.PingTimeout
	}

	if opts.LogLevel != "" {
		c.Logging.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		c.Logging.Format = opts.LogFormat
	}
	if opts.LogOutput != "" {
		c.Logging.Output = opts.LogOutput
	}

	if opts.StorageBackend != "" {
		c.Storage.Backend = opts.StorageBackend
	}
	if opts.StorageDir != "" {
		c.Storage.BaseDir = opts.StorageDir
	}
}

// OverrideOptions contains override options typically set via CLI flags
type OverrideOptions struct {
	Host         string
	Port         int
	PingInterval time.Duration
	PingTimeout  time.Duration

	LogLevel  string
	LogFormat string
	LogOutput string

	StorageBackend string
	StorageDir     string
}

func (c ServerConfig) String() string {
	return fmt.Sprintf("ServerConfig{Host: %s, Port: %d, PingInterval: %s, PingTimeout: %s, SendQueueSize: %d}",
		c.Host, c.Port, c.PingInterval, c.PingTimeout, c.SendQueueSize)
}

func (c StreamConfig) String() string {
	return fmt.Sprintf("StreamConfig{MaxStreams: %d, MaxChunks: %d, MaxBytes: %d, IdleTTL: %s}",
		c.MaxStreams, c.MaxChunks, c.MaxBytes, c.IdleTTL)
}

func (c StorageConfig) String() string {
	return fmt.Sprintf("StorageConfig{Backend: %s, BaseDir: %s, NATSBucket: %s}",
		c.Backend, c.BaseDir, c.NATSBucket)
}

func (c LoggingConfig) String() string {
	return fmt.Sprintf("LoggingConfig{Level: %s, Format: %s, Output: %s}",
		c.Level, c.Format, c.Output)
}
