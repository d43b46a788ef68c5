package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/billm/relayhub/internal/config"
	"github.com/billm/relayhub/internal/logger"
	"github.com/billm/relayhub/pkg/types"
)

// healthCheckTimeout bounds the wait for a started hub to report ready
const healthCheckTimeout = 10 * time.Second

// BootstrapResult contains the result of a bootstrap operation
type BootstrapResult struct {
	Hub       *Hub
	StartedAt time.Time
	Version   string
	Error     error
}

// BootstrapConfig contains configuration for the bootstrap process
type BootstrapConfig struct {
	Config            config.Config
	Logger            *logger.Logger
	EnableHealthCheck bool
}

// NewDefaultBootstrapConfig returns a bootstrap configuration with the
// default hub settings.
func NewDefaultBootstrapConfig() BootstrapConfig {
	log, err := logger.NewDefault()
	if err != nil {
		log = logger.NewNop()
	}
	return BootstrapConfig{
		Config:            *config.Default(),
		Logger:            log,
		EnableHealthCheck: true,
	}
}

// Bootstrap creates, initializes and starts a hub. On any failure the
// partially built hub is shut down and the error is returned; a port that
// cannot be bound is such a failure.
func Bootstrap(ctx context.Context, cfg BootstrapConfig) (*BootstrapResult, error) {
	result := &BootstrapResult{
		StartedAt: time.Now(),
		Version:   cfg.Config.Hub.Version,
	}

	h, err := New(cfg.Config, cfg.Logger)
	if err != nil {
		result.Error = err
		return result, err
	}

	if err := h.Initialize(ctx); err != nil {
		code := types.GetErrorCode(err)
		if code == "" {
			code = types.ErrCodeInternal
		}
		result.Error = types.WrapError(code, "failed to initialize hub", err)
		_ = h.Close()
		return result, result.Error
	}

	if err := h.Start(ctx); err != nil {
		result.Error = types.WrapError(types.ErrCodeInternal, "failed to start hub", err)
		_ = h.Close()
		return result, result.Error
	}

	if cfg.EnableHealthCheck {
		if err := WaitForReady(ctx, h, healthCheckTimeout, 0); err != nil {
			for subsystem, status := range h.HealthCheck(ctx) {
				if status != types.Healthy {
					h.Logger().Error("Subsystem health check failed", "subsystem", subsystem, "status", status)
				}
			}
			result.Error = types.WrapError(types.ErrCodeInternal, "hub health check failed", err)
			_ = h.Close()
			return result, result.Error
		}
	}

	result.Hub = h
	h.Logger().Info("Hub bootstrapped successfully",
		"version", result.Version,
		"duration", time.Since(result.StartedAt))

	return result, nil
}

// IsReady reports whether h is started and every subsystem is healthy
func IsReady(ctx context.Context, h *Hub) bool {
	if h == nil || !h.IsStarted() || h.IsClosed() {
		return false
	}
	for _, status := range h.HealthCheck(ctx) {
		if status != types.Healthy {
			return false
		}
	}
	return true
}

// WaitForReady polls IsReady until it holds or timeout expires
func WaitForReady(ctx context.Context, h *Hub, timeout, checkInterval time.Duration) error {
	if h == nil {
		return types.NewError(types.ErrCodeInvalidArgument, "hub is nil")
	}
	if checkInterval == 0 {
		checkInterval = 100 * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		if IsReady(ctx, h) {
			return nil
		}
		select {
		case <-ctx.Done():
			return types.WrapError(types.ErrCodeTimeout, "hub not ready within timeout", ctx.Err())
		case <-ticker.C:
		}
	}
}

// String returns a string representation of the bootstrap result
func (r *BootstrapResult) String() string {
	if r.Error != nil {
		return fmt.Sprintf("BootstrapResult{version: %s, error: %v}", r.Version, r.Error)
	}
	return fmt.Sprintf("BootstrapResult{version: %s, started_at: %s, hub: %v}",
		r.Version, r.StartedAt.Format(time.RFC3339), r.Hub != nil)
}

// IsSuccessful returns true if the bootstrap was successful
func (r *BootstrapResult) IsSuccessful() bool {
	return r.Error == nil && r.Hub != nil
}

// Duration returns the time elapsed since bootstrap began
func (r *BootstrapResult) Duration() time.Duration {
	return time.Since(r.StartedAt)
}
