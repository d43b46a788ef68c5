package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/billm/relayhub/internal/config"
	"github.com/billm/relayhub/internal/logger"
	"github.com/billm/relayhub/pkg/registry"
)

// Conn is one device WebSocket connection. Outbound frames go through a
// bounded queue drained by a single writer goroutine; Send never waits for
// the peer.
type Conn struct {
	id         string
	remoteAddr string
	createdAt  time.Time

	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	pingInterval time.Duration
	pongWait     time.Duration
	writeTimeout time.Duration

	logger *logger.Logger
}

func newConn(ws *websocket.Conn, remoteAddr string, cfg config.ServerConfig, log *logger.Logger) *Conn {
	id := uuid.New().String()
	queue := cfg.SendQueueSize
	if queue <= 0 {
		queue = config.DefaultSendQueueSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = config.DefaultPingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = config.DefaultWriteTimeout
	}
	return &Conn{
		id:           id,
		remoteAddr:   remoteAddr,
		createdAt:    time.Now(),
		ws:           ws,
		send:         make(chan []byte, queue),
		done:         make(chan struct{}),
		pingInterval: cfg.PingInterval,
		pongWait:     cfg.PingInterval + cfg.PingTimeout,
		writeTimeout: cfg.WriteTimeout,
		logger:       log.With("conn_id", id, "remote_addr", remoteAddr),
	}
}

// ID returns the connection's unique id
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr returns the peer address
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// Send queues data for the writer. It returns registry.ErrQueueFull when
// the peer is not keeping up and registry.ErrConnClosed after Close.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return registry.ErrConnClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return registry.ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
		return registry.ErrQueueFull
	}
}

// Close stops the writer, which sends a close frame and tears down the
// socket. It is safe to call more than once.
func (c *Conn) Close() error {
	c.once.Do(func() {
		close(c.done)
	})
	return nil
}

// Done is closed once the connection has been closed
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// readPump delivers inbound frames to h until the socket fails, then closes
// the connection and reports it to h.
func (c *Conn) readPump(ctx context.Context, h Handler, maxMessageSize int64) {
	defer func() {
		c.Close()
		h.HandleClose(ctx, c)
	}()

	if maxMessageSize > 0 {
		c.ws.SetReadLimit(maxMessageSize)
	}
	if err := c.extendReadDeadline(); err != nil {
		c.logger.Warn("Failed to set read deadline", "error", err)
		return
	}
	c.ws.SetPongHandler(func(string) error {
		return c.extendReadDeadline()
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			var ne net.Error
			switch {
			case errors.As(err, &ne) && ne.Timeout():
				c.logger.Info("Connection timed out", "error", err)
			case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure):
				c.logger.Warn("Connection read failed", "error", err)
			default:
				c.logger.Debug("Connection closed by peer", "error", err)
			}
			return
		}
		if err := c.extendReadDeadline(); err != nil {
			c.logger.Warn("Failed to extend read deadline", "error", err)
			return
		}
		h.HandleFrame(ctx, c, data)
	}
}

// writePump drains the send queue and pings the peer every ping interval
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.logger.Warn("Failed to set write deadline", "error", err)
				c.Close()
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("Write failed", "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.logger.Debug("Ping failed", "error", err)
				c.Close()
				return
			}
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
			return
		}
	}
}

func (c *Conn) extendReadDeadline() error {
	if c.pongWait <= 0 {
		return nil
	}
	return c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
}
