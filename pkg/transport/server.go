package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/billm/relayhub/internal/config"
	"github.com/billm/relayhub/internal/logger"
	"github.com/billm/relayhub/pkg/metrics"
	"github.com/billm/relayhub/pkg/registry"
	"github.com/billm/relayhub/pkg/types"
)

// Handler consumes the traffic of device connections. HandleFrame is called
// from one goroutine per connection, in arrival order. HandleClose is called
// exactly once per connection, after its last frame.
type Handler interface {
	HandleFrame(ctx context.Context, conn registry.Conn, data []byte)
	HandleClose(ctx context.Context, conn registry.Conn)
}

// Health is the body of the HTTP status probe
type Health struct {
	Status           string `json:"status"`
	ConnectedDevices int    `json:"connected_devices"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	Version          string `json:"version"`
}

// HealthFunc reports the current hub status
type HealthFunc func() Health

// Options holds the collaborators of a Server
type Options struct {
	Handler Handler
	Health  HealthFunc
	// Metrics is served on MetricsPath when both are set
	Metrics     *metrics.Metrics
	MetricsPath string
}

// Server accepts device WebSocket connections and answers HTTP probes on
// the same port.
type Server struct {
	mu       sync.RWMutex
	cfg      config.ServerConfig
	handler  Handler
	health   HealthFunc
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	mux      *http.ServeMux
	http     *http.Server
	listener net.Listener
	conns    map[string]*Conn
	closed   bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *logger.Logger
}

// NewServer creates a server. Listen must be called before Serve.
func NewServer(cfg config.ServerConfig, opts Options, log *logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if opts.Handler == nil {
		return nil, types.NewError(types.ErrCodeInvalidArgument, "server requires a handler")
	}
	if opts.Health == nil {
		opts.Health = func() Health { return Health{Status: "running"} }
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		handler: opts.Handler,
		health:  opts.Health,
		metrics: opts.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Devices are not browsers; any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns:  make(map[string]*Conn),
		ctx:    ctx,
		cancel: cancel,
		logger: log.With("component", "transport"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	if opts.Metrics != nil && opts.MetricsPath != "" {
		mux.Handle(opts.MetricsPath, opts.Metrics.Handler())
	}
	s.mux = mux

	s.http = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s, nil
}

// Handler returns the HTTP handler serving probes and upgrades
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Listen binds the configured address. A failure here is fatal to startup.
func (s *Server) Listen() error {
	addr := s.cfg.ListenAddress()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return types.WrapError(types.ErrCodeUnavailable, fmt.Sprintf("failed to listen on %s", addr), err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("Listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Listen
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Serve() error {
	s.mu.RLock()
	ln := s.listener
	s.mu.RUnlock()
	if ln == nil {
		return types.NewError(types.ErrCodeFailedPrecondition, "server is not listening")
	}

	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return types.WrapError(types.ErrCodeInternal, "server failed", err)
	}
	return nil
}

// Shutdown stops accepting, closes every device connection and waits for
// their goroutines, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	ln := s.listener
	s.mu.Unlock()

	err := s.http.Shutdown(ctx)
	if ln != nil {
		// already closed when Serve was running
		_ = ln.Close()
	}

	for _, c := range conns {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.cancel()
		return types.WrapError(types.ErrCodeTimeout, "timed out waiting for connections to close", ctx.Err())
	}
	s.cancel()

	if err != nil {
		return types.WrapError(types.ErrCodeInternal, "failed to shut down HTTP server", err)
	}
	s.logger.Info("Server stopped", "closed_connections", len(conns))
	return nil
}

// Connections returns the number of open device connections
func (s *Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// String returns a string representation of the server
func (s *Server) String() string {
	addr := s.cfg.ListenAddress()
	if a := s.Addr(); a != nil {
		addr = a.String()
	}
	return fmt.Sprintf("Server{Address: %s, Connections: %d}", addr, s.Connections())
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if websocket.IsWebSocketUpgrade(r) {
		s.handleWebSocket(w, r)
		return
	}
	s.handleHealth(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if err := json.NewEncoder(w).Encode(s.health()); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	c := newConn(ws, r.RemoteAddr, s.cfg, s.logger)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ws.Close()
		return
	}
	s.conns[c.ID()] = c
	count := len(s.conns)
	s.wg.Add(2)
	s.mu.Unlock()

	s.metrics.ConnectionOpened()
	s.logger.Info("Connection accepted", "conn_id", c.ID(), "remote_addr", c.RemoteAddr(), "connections", count)

	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
	go func() {
		defer s.wg.Done()
		c.readPump(s.ctx, s.handler, s.cfg.MaxMessageSize)

		s.mu.Lock()
		delete(s.conns, c.ID())
		s.mu.Unlock()
		s.metrics.ConnectionClosed()
		s.logger.Info("Connection closed", "conn_id", c.ID(), "remote_addr", c.RemoteAddr())
	}()
}
