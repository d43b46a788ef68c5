package hub

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/billm/relayhub/internal/logger"
	"github.com/billm/relayhub/pkg/types"
)

// ShutdownState represents the current state of the shutdown process
type ShutdownState string

const (
	// ShutdownStateRunning indicates the hub is running normally
	ShutdownStateRunning ShutdownState = "running"
	// ShutdownStateInitiated indicates shutdown has been initiated
	ShutdownStateInitiated ShutdownState = "initiated"
	// ShutdownStateStopping indicates the hub is being stopped
	ShutdownStateStopping ShutdownState = "stopping"
	// ShutdownStateComplete indicates shutdown is complete
	ShutdownStateComplete ShutdownState = "complete"
)

// hookTimeout bounds each shutdown hook
const hookTimeout = 5 * time.Second

// ShutdownHook is a function that can be called during shutdown
type ShutdownHook func(ctx context.Context) error

// ShutdownManager turns SIGINT/SIGTERM or an explicit request into one
// graceful hub shutdown.
type ShutdownManager struct {
	mu              sync.RWMutex
	hub             *Hub
	state           ShutdownState
	shutdownTimeout time.Duration
	preHooks        []ShutdownHook
	postHooks       []ShutdownHook
	logger          *logger.Logger
	signalChan      chan os.Signal
	stopCtx         context.Context
	stopCancel      context.CancelFunc
	started         bool
	completionChan  chan struct{}
	shutdownReason  string
	initiatedAt     time.Time
}

// NewShutdownManager creates a new shutdown manager for h
func NewShutdownManager(h *Hub, timeout time.Duration, log *logger.Logger) *ShutdownManager {
	if log == nil {
		log = logger.NewNop()
	}
	if timeout <= 0 {
		timeout = h.Config().Hub.ShutdownTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &ShutdownManager{
		hub:             h,
		state:           ShutdownStateRunning,
		shutdownTimeout: timeout,
		logger:          log.With("component", "shutdown_manager"),
		signalChan:      make(chan os.Signal, 1),
		stopCtx:         ctx,
		stopCancel:      cancel,
		completionChan:  make(chan struct{}),
	}
}

// Start begins listening for shutdown signals
func (sm *ShutdownManager) Start() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.started {
		return
	}

	signal.Notify(sm.signalChan, syscall.SIGINT, syscall.SIGTERM)
	sm.started = true
	sm.logger.Info("Shutdown manager started", "timeout", sm.shutdownTimeout)

	go sm.handleSignals()
}

// Stop stops listening for signals
func (sm *ShutdownManager) Stop() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.started {
		return
	}

	signal.Stop(sm.signalChan)
	sm.stopCancel()
	sm.started = false

	sm.logger.Debug("Shutdown manager stopped")
}

// Shutdown runs the pre-shutdown hooks, shuts the hub down, then runs the
// post-shutdown hooks. Only the first call does anything.
func (sm *ShutdownManager) Shutdown(ctx context.Context, reason string) error {
	sm.mu.Lock()
	if sm.state != ShutdownStateRunning {
		sm.mu.Unlock()
		return types.NewError(types.ErrCodeFailedPrecondition, "shutdown already initiated")
	}
	sm.state = ShutdownStateInitiated
	sm.shutdownReason = reason
	sm.initiatedAt = time.Now()
	sm.mu.Unlock()

	sm.logger.Info("Shutdown initiated", "reason", reason)

	shutdownCtx, cancel := context.WithTimeout(ctx, sm.shutdownTimeout)
	defer cancel()

	if err := sm.executeHooks(shutdownCtx, "pre-shutdown", sm.hooks(true)); err != nil {
		sm.logger.Error("Pre-shutdown hooks failed", "error", err)
	}

	sm.setState(ShutdownStateStopping)

	hubErr := sm.hub.Shutdown(shutdownCtx)
	if hubErr != nil {
		sm.logger.Error("Hub shutdown failed", "error", hubErr)
	}

	if err := sm.executeHooks(shutdownCtx, "post-shutdown", sm.hooks(false)); err != nil {
		sm.logger.Error("Post-shutdown hooks failed", "error", err)
	}

	sm.setState(ShutdownStateComplete)
	close(sm.completionChan)

	sm.logger.Info("Shutdown complete", "reason", reason, "duration", time.Since(sm.initiatedAt))
	return hubErr
}

// ShutdownAndWait initiates shutdown and waits for completion or ctx
func (sm *ShutdownManager) ShutdownAndWait(ctx context.Context, reason string) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- sm.Shutdown(ctx, reason)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return types.WrapError(types.ErrCodeCanceled, "shutdown wait canceled", ctx.Err())
	}
}

// AddHook registers a hook that runs before the hub is shut down
func (sm *ShutdownManager) AddHook(hook ShutdownHook) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.preHooks = append(sm.preHooks, hook)
}

// AddPostHook registers a hook that runs after the hub is shut down
func (sm *ShutdownManager) AddPostHook(hook ShutdownHook) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.postHooks = append(sm.postHooks, hook)
}

// State returns the current shutdown state
func (sm *ShutdownManager) State() ShutdownState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// IsShuttingDown returns true if shutdown has been initiated
func (sm *ShutdownManager) IsShuttingDown() bool {
	return sm.State() != ShutdownStateRunning
}

// IsComplete returns true if shutdown is complete
func (sm *ShutdownManager) IsComplete() bool {
	return sm.State() == ShutdownStateComplete
}

// ShutdownReason returns the reason for shutdown
func (sm *ShutdownManager) ShutdownReason() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.shutdownReason
}

// Done is closed once shutdown completes
func (sm *ShutdownManager) Done() <-chan struct{} {
	return sm.completionChan
}

// WaitCompletion waits for shutdown to complete
func (sm *ShutdownManager) WaitCompletion(ctx context.Context) error {
	select {
	case <-sm.completionChan:
		return nil
	case <-ctx.Done():
		return types.WrapError(types.ErrCodeCanceled, "wait for completion canceled", ctx.Err())
	}
}

func (sm *ShutdownManager) handleSignals() {
	for {
		select {
		case sig := <-sm.signalChan:
			sm.logger.Info("Shutdown signal received", "signal", sig.String())
			go sm.shutdownFor(fmt.Sprintf("signal received: %s", sig))
		case <-sm.stopCtx.Done():
			return
		}
	}
}

func (sm *ShutdownManager) shutdownFor(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), sm.shutdownTimeout)
	defer cancel()
	if err := sm.ShutdownAndWait(ctx, reason); err != nil && !types.IsErrCode(err, types.ErrCodeFailedPrecondition) {
		sm.logger.Error("Shutdown failed", "error", err)
	}
}

func (sm *ShutdownManager) hooks(pre bool) []ShutdownHook {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	src := sm.postHooks
	if pre {
		src = sm.preHooks
	}
	out := make([]ShutdownHook, len(src))
	copy(out, src)
	return out
}

func (sm *ShutdownManager) executeHooks(ctx context.Context, phase string, hooks []ShutdownHook) error {
	var errs []error
	for i, hook := range hooks {
		hookCtx, cancel := context.WithTimeout(ctx, hookTimeout)
		if err := hook(hookCtx); err != nil {
			sm.logger.Error("Shutdown hook failed", "phase", phase, "hook", i, "error", err)
			errs = append(errs, err)
		}
		cancel()

		if ctx.Err() != nil {
			sm.logger.Warn("Shutdown hook execution canceled", "phase", phase)
			return types.WrapError(types.ErrCodeCanceled, "hook execution canceled", ctx.Err())
		}
	}

	if len(errs) > 0 {
		return types.WrapError(types.ErrCodePartialFailure, fmt.Sprintf("%s hooks failed", phase), errs[0])
	}
	return nil
}

func (sm *ShutdownManager) setState(state ShutdownState) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.state = state
}

// ShutdownOnContextCancel shuts h down once ctx is canceled
func ShutdownOnContextCancel(ctx context.Context, h *Hub, log *logger.Logger) *ShutdownManager {
	sm := NewShutdownManager(h, 0, log)
	go func() {
		select {
		case <-ctx.Done():
			sm.shutdownFor(fmt.Sprintf("context canceled: %v", ctx.Err()))
		case <-sm.completionChan:
		}
	}()
	return sm
}

// String returns a string representation of the shutdown state
func (s ShutdownState) String() string {
	return string(s)
}

// String returns a string representation of the shutdown manager
func (sm *ShutdownManager) String() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return fmt.Sprintf("ShutdownManager{state: %s, timeout: %v, hooks: %d, started: %t}",
		sm.state, sm.shutdownTimeout, len(sm.preHooks)+len(sm.postHooks), sm.started)
}
