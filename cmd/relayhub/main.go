package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/billm/relayhub/internal/config"
	"github.com/billm/relayhub/internal/logger"
	"github.com/billm/relayhub/pkg/hub"
)

var (
	// CLI flags
	cfgFile        string
	logLevel       string
	logFormat      string
	logOutput      string
	host           string
	port           int
	pingInterval   time.Duration
	pingTimeout    time.Duration
	storageBackend string
	storageDir     string
	versionFlag    bool

	rootLog     *logger.Logger
	shutdown    *hub.ShutdownManager
	cfgReloader *config.Reloader
)

var rootCmd = &cobra.Command{
	Use:   "relayhub",
	Short: "Relay hub - WebSocket message relay for connected devices",
	Long: `relayhub accepts persistent WebSocket connections from devices, keeps a
registry of the devices that announced themselves, and relays commands,
video frames, photos, audio and live audio streams between them.

Received media is decoded and stored through the configured storage backend.
Send SIGHUP to reload the log level and stream limits from the config file.`,
	Version:       config.DefaultVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runHub,
}

func runHub(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if versionFlag {
		fmt.Printf("relayhub version %s\n", config.DefaultVersion)
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := initLogger(cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer rootLog.Close()

	rootLog.Info("Starting relay hub", "version", cfg.Hub.Version, "config", cfg.String())

	result, err := hub.Bootstrap(ctx, hub.BootstrapConfig{
		Config:            *cfg,
		Logger:            rootLog,
		EnableHealthCheck: true,
	})
	if err != nil {
		rootLog.Error("Failed to bootstrap relay hub", "error", err)
		return err
	}
	h := result.Hub

	shutdown = hub.NewShutdownManager(h, cfg.Hub.ShutdownTimeout, rootLog)

	configPath := cfgFile
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}
	cfgReloader = config.NewReloader(configPath, cfg)
	cfgReloader.AddCallback(func(ctx context.Context, newConfig *config.Config) error {
		newConfig.ApplyOverrides(overrides())
		if err := h.UpdateConfig(*newConfig); err != nil {
			rootLog.Error("Failed to apply reloaded configuration", "error", err)
			return err
		}
		return nil
	})
	cfgReloader.Start()

	shutdown.AddHook(func(ctx context.Context) error {
		cfgReloader.Stop()
		return nil
	})
	shutdown.Start()
	defer shutdown.Stop()

	rootLog.Info("Relay hub is running. Press Ctrl+C to stop.",
		"address", h.Addr().String(),
		"config_path", configPath)

	return waitForShutdown(h)
}

// waitForShutdown blocks until a signal-driven shutdown completes or the
// hub fails on its own, in which case the hub is shut down and the failure
// returned.
func waitForShutdown(h *hub.Hub) error {
	failed := make(chan error, 1)
	go func() { failed <- h.Wait() }()

	select {
	case <-shutdown.Done():
		rootLog.Info("Relay hub shutdown complete", "reason", shutdown.ShutdownReason())
		return nil
	case err := <-failed:
		if err == nil {
			_ = shutdown.WaitCompletion(context.Background())
			return nil
		}
		rootLog.Error("Relay hub stopped unexpectedly", "error", err)
		ctx, cancel := context.WithTimeout(context.Background(), h.Config().Hub.ShutdownTimeout)
		defer cancel()
		_ = shutdown.ShutdownAndWait(ctx, "server failure")
		return err
	}
}

func initLogger(cfg config.LoggingConfig) error {
	log, err := logger.New(cfg)
	if err != nil {
		return err
	}
	rootLog = log
	logger.SetGlobal(log)
	return nil
}

// loadConfig loads the config file and environment, then applies CLI
// overrides (highest precedence).
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	cfg.ApplyOverrides(overrides())

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func overrides() config.OverrideOptions {
	return config.OverrideOptions{
		Host:           host,
		Port:           port,
		PingInterval:   pingInterval,
		PingTimeout:    pingTimeout,
		LogLevel:       logLevel,
		LogFormat:      logFormat,
		LogOutput:      logOutput,
		StorageBackend: storageBackend,
		StorageDir:     storageDir,
	}
}

func getDefaultConfigPath() string {
	if path, err := config.GetDefaultConfigPath(); err == nil {
		return path
	}
	return "~/.config/relayhub/config.yaml"
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"Config file path (default: ~/.config/relayhub/config.yaml)")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, error (default: from config or env)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format: json, text (default: from config or env)")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-output", "",
		"Log output: stdout, stderr, or file path (default: from config or env)")

	rootCmd.PersistentFlags().StringVar(&host, "host", "",
		"Listen host (default: 0.0.0.0)")
	rootCmd.PersistentFlags().IntVar(&port, "port", 0,
		"Listen port (default: 10000, or PORT)")
	rootCmd.PersistentFlags().DurationVar(&pingInterval, "ping-interval", 0,
		"Keepalive ping interval (default: 20s)")
	rootCmd.PersistentFlags().DurationVar(&pingTimeout, "ping-timeout", 0,
		"Keepalive timeout before a silent connection is dropped (default: 60s)")

	rootCmd.PersistentFlags().StringVar(&storageBackend, "storage-backend", "",
		"Artifact storage: file, nats, none (default: file)")
	rootCmd.PersistentFlags().StringVar(&storageDir, "storage-dir", "",
		"Base directory for the file storage backend (default: .)")

	rootCmd.Flags().BoolVar(&versionFlag, "version", false,
		"Show version information")

	if err := rootCmd.Execute(); err != nil {
		if rootLog != nil {
			rootLog.Error("Command execution failed", "error", err)
		} else {
			fmt.Fprintln(os.Stderr, "Command execution failed:", err)
		}
		os.Exit(1)
	}
}
