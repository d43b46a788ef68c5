package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// reloadTimeout bounds a single SIGHUP-triggered reload
const reloadTimeout = 30 * time.Second

// ReloadState represents the current state of the config reloader
type ReloadState string

const (
	ReloadStateIdle      ReloadState = "idle"
	ReloadStateReloading ReloadState = "reloading"
	ReloadStateStopped   ReloadState = "stopped"
)

// ReloadCallback is called with the freshly loaded configuration. Only
// settings that can change at runtime (log level, stream limits) should be
// applied; listener address changes need a restart.
type ReloadCallback func(ctx context.Context, newConfig *Config) error

// Reloader re-reads the configuration file on SIGHUP
type Reloader struct {
	mu            sync.RWMutex
	configPath    string
	currentConfig *Config
	state         ReloadState
	signalChan    chan os.Signal
	reloadCtx     context.Context
	reloadCancel  context.CancelFunc
	started       bool
	callbacks     []ReloadCallback
	log           *slog.Logger
}

// NewReloader creates a new config reloader
func NewReloader(configPath string, initialConfig *Config) *Reloader {
	ctx, cancel := context.WithCancel(context.Background())

	return &Reloader{
		configPath:    configPath,
		currentConfig: initialConfig,
		state:         ReloadStateIdle,
		signalChan:    make(chan os.Signal, 1),
		reloadCtx:     ctx,
		reloadCancel:  cancel,
		log:           slog.Default().With("component", "config_reloader"),
	}
}

// Start begins listening for SIGHUP
func (r *Reloader) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return
	}

	if r.state == ReloadStateStopped {
		ctx, cancel := context.WithCancel(context.Background())
		r.reloadCtx = ctx
		r.reloadCancel = cancel
		r.state = ReloadStateIdle
	}

	signal.Notify(r.signalChan, syscall.SIGHUP)

	r.started = true
	r.log.Info("Config reloader started", "config_path", r.configPath)

	go r.handleSignals(r.reloadCtx)
}

// Stop stops signal handling
func (r *Reloader) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return
	}

	signal.Stop(r.signalChan)
	r.reloadCancel()
	r.started = false
	r.state = ReloadStateStopped

	r.log.Info("Config reloader stopped")
}

// Reload reloads the configuration from the file and runs the callbacks.
// The current config is replaced only when every callback succeeds.
func (r *Reloader) Reload(ctx context.Context) error {
	r.mu.Lock()
	if r.state == ReloadStateReloading {
		r.mu.Unlock()
		r.log.Debug("Reload already in progress, skipping")
		return nil
	}
	prev := r.state
	r.state = ReloadStateReloading
	r.mu.Unlock()

	r.log.Info("Configuration reload initiated", "config_path", r.configPath)

	newConfig, err := Load(r.configPath)
	if err != nil {
		r.setState(prev)
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := r.executeCallbacks(ctx, newConfig); err != nil {
		r.setState(prev)
		return fmt.Errorf("reload callbacks failed: %w", err)
	}

	r.mu.Lock()
	r.currentConfig = newConfig
	r.state = prev
	r.mu.Unlock()

	r.log.Info("Configuration reloaded")
	return nil
}

// AddCallback registers a callback run on every successful load
func (r *Reloader) AddCallback(callback ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, callback)
}

// GetConfig returns the current configuration
func (r *Reloader) GetConfig() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentConfig
}

// State returns the current reload state
func (r *Reloader) State() ReloadState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// IsReloading returns true if a reload is in progress
func (r *Reloader) IsReloading() bool {
	return r.State() == ReloadStateReloading
}

func (r *Reloader) handleSignals(ctx context.Context) {
	for {
		select {
		case sig := <-r.signalChan:
			r.log.Info("Reload signal received", "signal", sig.String())
			go func() {
				rctx, cancel := context.WithTimeout(ctx, reloadTimeout)
				defer cancel()
				if err := r.Reload(rctx); err != nil {
					r.log.Error("Configuration reload failed", "error", err)
				}
			}()
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reloader) executeCallbacks(ctx context.Context, newConfig *Config) error {
	r.mu.RLock()
	callbacks := make([]ReloadCallback, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.RUnlock()

	for i, callback := range callbacks {
		if err := callback(ctx, newConfig); err != nil {
			r.log.Warn("Reload callback failed", "callback", i, "error", err)
			return err
		}
	}
	return nil
}

func (r *Reloader) setState(state ReloadState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
}

// String returns a string representation of the reload state
func (s ReloadState) String() string {
	return string(s)
}

// String returns a string representation of the reloader
func (r *Reloader) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return fmt.Sprintf("Reloader{state: %s, config_path: %s, callbacks: %d}",
		r.state, r.configPath, len(r.callbacks))
}
