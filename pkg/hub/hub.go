package hub

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/billm/relayhub/internal/config"
	"github.com/billm/relayhub/internal/logger"
	"github.com/billm/relayhub/pkg/metrics"
	"github.com/billm/relayhub/pkg/protocol"
	"github.com/billm/relayhub/pkg/registry"
	"github.com/billm/relayhub/pkg/relay"
	"github.com/billm/relayhub/pkg/stats"
	"github.com/billm/relayhub/pkg/storage"
	"github.com/billm/relayhub/pkg/stream"
	"github.com/billm/relayhub/pkg/transport"
	"github.com/billm/relayhub/pkg/types"
)

// Hub owns every subsystem of the relay hub and their lifecycle
type Hub struct {
	mu     sync.RWMutex
	cfg    config.Config
	logger *logger.Logger
	status types.Status

	registry *registry.Registry
	streams  *stream.Reassembler
	stats    *stats.Collector
	metrics  *metrics.Metrics
	sink     storage.Sink
	router   *relay.Router
	server   *transport.Server

	started   bool
	closed    bool
	runCancel context.CancelFunc
	group     *errgroup.Group
}

// New creates a hub from cfg. Nothing is opened or bound until Initialize.
func New(cfg config.Config, log *logger.Logger) (*Hub, error) {
	if log == nil {
		var err error
		log, err = logger.NewDefault()
		if err != nil {
			return nil, types.WrapError(types.ErrCodeInternal, "failed to create default logger", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, types.WrapError(types.ErrCodeInvalidArgument, "invalid configuration", err)
	}

	h := &Hub{
		cfg:      cfg,
		logger:   log.With("component", "hub"),
		status:   types.StatusStarting,
		registry: registry.New(log),
		streams:  stream.New(cfg.Stream, log),
		stats:    stats.New(),
	}
	if cfg.Metrics.Enabled {
		h.metrics = metrics.New()
	}

	h.logger.Info("Hub created",
		"address", cfg.ListenAddress(),
		"storage_backend", cfg.Storage.Backend,
		"metrics_enabled", cfg.Metrics.Enabled)

	return h, nil
}

// Initialize opens the storage sink, wires the router and binds the
// listening socket. A bind failure is returned as-is so startup can abort.
func (h *Hub) Initialize(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return types.NewError(types.ErrCodeUnavailable, "hub is closed")
	}
	if h.server != nil {
		return types.NewError(types.ErrCodeFailedPrecondition, "hub already initialized")
	}

	sink, err := storage.Open(ctx, h.cfg.Storage, h.logger)
	if err != nil {
		return types.WrapError(types.ErrCodeUnavailable, "failed to open storage", err)
	}

	router, err := relay.New(relay.Options{
		Registry: h.registry,
		Streams:  h.streams,
		Stats:    h.stats,
		Sink:     sink,
		Metrics:  h.metrics,
	}, h.logger)
	if err != nil {
		sink.Close()
		return err
	}

	opts := transport.Options{
		Handler: router,
		Health:  h.Health,
	}
	if h.metrics != nil {
		opts.Metrics = h.metrics
		opts.MetricsPath = h.cfg.Metrics.Path
	}
	server, err := transport.NewServer(h.cfg.Server, opts, h.logger)
	if err != nil {
		sink.Close()
		return err
	}
	if err := server.Listen(); err != nil {
		sink.Close()
		return err
	}

	h.sink = sink
	h.router = router
	h.server = server

	h.logger.Info("Hub initialized", "address", server.Addr().String())
	return nil
}

// Start runs the server and the stream sweeper in the background. Wait
// reports the first failure of either.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return types.NewError(types.ErrCodeUnavailable, "hub is closed")
	}
	if h.server == nil {
		return types.NewError(types.ErrCodeFailedPrecondition, "hub is not initialized")
	}
	if h.started {
		return types.NewError(types.ErrCodeFailedPrecondition, "hub already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	server := h.server
	g.Go(server.Serve)
	g.Go(func() error { return h.streams.Run(gctx) })

	h.runCancel = cancel
	h.group = g
	h.started = true
	h.status = types.StatusRunning

	h.logBanner()
	return nil
}

// Wait blocks until the background tasks stop
func (h *Hub) Wait() error {
	h.mu.RLock()
	g := h.group
	h.mu.RUnlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Shutdown stops accepting connections, closes every device connection,
// stops the sweeper and closes the storage sink, bounded by ctx.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.status = types.StatusStopping
	server, sink, cancel, g := h.server, h.sink, h.runCancel, h.group
	h.mu.Unlock()

	h.logger.Info("Shutting down hub", "connected_devices", h.registry.Count())

	var firstErr error
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			h.logger.Error("Failed to shut down server", "error", err)
			firstErr = err
		}
	}
	if cancel != nil {
		cancel()
	}
	if g != nil {
		if err := g.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if sink != nil {
		if err := sink.Close(); err != nil {
			h.logger.Error("Failed to close storage", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	h.mu.Lock()
	h.status = types.StatusStopped
	h.started = false
	h.mu.Unlock()

	h.logger.Info("Hub stopped")
	return firstErr
}

// Close shuts the hub down within the configured shutdown timeout
func (h *Hub) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), h.Config().Hub.ShutdownTimeout)
	defer cancel()
	return h.Shutdown(ctx)
}

// Health answers the HTTP status probe
func (h *Hub) Health() transport.Health {
	h.mu.RLock()
	status := h.status
	version := h.cfg.Hub.Version
	h.mu.RUnlock()

	return transport.Health{
		Status:           string(status),
		ConnectedDevices: h.registry.Count(),
		UptimeSeconds:    h.stats.UptimeSeconds(),
		Version:          version,
	}
}

// HealthCheck returns the health of each subsystem
func (h *Hub) HealthCheck(ctx context.Context) map[string]types.Health {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health := make(map[string]types.Health)

	check := func(name string, ok bool) {
		if ok && !h.closed {
			health[name] = types.Healthy
		} else {
			health[name] = types.Unhealthy
		}
	}
	check("transport", h.server != nil)
	check("router", h.router != nil)
	check("storage", h.sink != nil)
	check("streams", h.streams != nil)

	return health
}

// UpdateConfig applies the reloadable subset of cfg: log level and stream
// limits. Everything else needs a restart.
func (h *Hub) UpdateConfig(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return types.WrapError(types.ErrCodeInvalidArgument, "invalid configuration", err)
	}

	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return types.WrapError(types.ErrCodeInvalidArgument, "invalid log level", err)
	}

	h.mu.Lock()
	old := h.cfg
	h.cfg.Logging.Level = cfg.Logging.Level
	h.cfg.Stream = cfg.Stream
	h.mu.Unlock()

	h.logger.SetLevel(level)
	h.streams.SetLimits(cfg.Stream)

	if old.Server != cfg.Server || old.Storage != cfg.Storage {
		h.logger.Warn("Server and storage settings changed; restart to apply them")
	}
	h.logger.Info("Configuration updated",
		"log_level", cfg.Logging.Level,
		"stream", cfg.Stream.String())
	return nil
}

// Config returns the current configuration
func (h *Hub) Config() config.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Status returns the lifecycle status
func (h *Hub) Status() types.Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// IsStarted returns true while the hub is serving
func (h *Hub) IsStarted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}

// IsClosed returns true once Shutdown has begun
func (h *Hub) IsClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// Addr returns the bound address, or nil before Initialize
func (h *Hub) Addr() net.Addr {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.server == nil {
		return nil
	}
	return h.server.Addr()
}

// Registry returns the device registry
func (h *Hub) Registry() *registry.Registry { return h.registry }

// Stats returns the stats collector
func (h *Hub) Stats() *stats.Collector { return h.stats }

// Metrics returns the Prometheus instruments, nil when disabled
func (h *Hub) Metrics() *metrics.Metrics { return h.metrics }

// Logger returns the hub logger
func (h *Hub) Logger() *logger.Logger { return h.logger }

// String returns a string representation of the hub
func (h *Hub) String() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return fmt.Sprintf("Hub{status: %s, address: %s, devices: %d, streams: %d}",
		h.status, h.cfg.ListenAddress(), h.registry.Count(), h.streams.Active())
}

func (h *Hub) logBanner() {
	names := make([]string, 0, len(protocol.InboundTypes))
	for _, t := range protocol.InboundTypes {
		names = append(names, string(t))
	}
	addr := h.cfg.ListenAddress()
	if h.server != nil && h.server.Addr() != nil {
		addr = h.server.Addr().String()
	}
	h.logger.Info("Relay hub ready",
		"address", addr,
		"version", h.cfg.Hub.Version,
		"ping_interval", h.cfg.Server.PingInterval.String(),
		"ping_timeout", h.cfg.Server.PingTimeout.String(),
		"storage_backend", h.cfg.Storage.Backend,
		"message_types", names,
		"started_at", time.Now().Format(time.RFC3339))
}
