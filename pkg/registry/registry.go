package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/billm/relayhub/internal/logger"
)

// StatusOnline is the only status a listed device can have. Disconnected
// devices are removed, not marked.
const StatusOnline = "online"

// Errors a Conn reports from Send
var (
	// ErrQueueFull means the peer is not draining its outbound queue
	ErrQueueFull = errors.New("send queue full")
	// ErrConnClosed means the connection is gone
	ErrConnClosed = errors.New("connection closed")
)

// Conn is the send side of a device connection
type Conn interface {
	// ID identifies the underlying transport connection
	ID() string
	// Send queues data for delivery. It must not block on the peer.
	Send(ctx context.Context, data []byte) error
	Close() error
}

// DeviceInfo is a read-only view of a registered device
type DeviceInfo struct {
	ID           string
	Name         string
	Capabilities []string
	RegisteredAt time.Time
	LastSeen     time.Time
	Status       string
}

// Target is a device selected for delivery
type Target struct {
	ID   string
	Conn Conn
}

type device struct {
	name         string
	capabilities []string
	conn         Conn
	registeredAt time.Time
	lastSeen     time.Time
}

// Registry maps device ids to their live connection. Every method is atomic
// with respect to the others.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*device
	now     func() time.Time
	logger  *logger.Logger
}

// New creates an empty registry
func New(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.NewNop()
	}
	return &Registry{
		devices: make(map[string]*device),
		now:     time.Now,
		logger:  log.With("component", "registry"),
	}
}

// Register inserts or replaces the entry for id and returns the number of
// registered devices. A previously stored connection for the same id is
// dropped from the registry but not closed.
func (r *Registry) Register(id, name string, capabilities []string, conn Conn) int {
	caps := make([]string, len(capabilities))
	copy(caps, capabilities)

	r.mu.Lock()
	now := r.now()
	prev, replaced := r.devices[id]
	r.devices[id] = &device{
		name:         name,
		capabilities: caps,
		conn:         conn,
		registeredAt: now,
		lastSeen:     now,
	}
	count := len(r.devices)
	r.mu.Unlock()

	if replaced && prev.conn != conn {
		r.logger.Info("Device re-registered on a new connection",
			"device_id", id, "old_conn_id", connID(prev.conn), "conn_id", connID(conn))
	} else {
		r.logger.Debug("Device registered", "device_id", id, "conn_id", connID(conn), "count", count)
	}
	return count
}

// Unregister removes id. It is a no-op when id is absent.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	_, ok := r.devices[id]
	delete(r.devices, id)
	r.mu.Unlock()

	if ok {
		r.logger.Debug("Device unregistered", "device_id", id)
	}
}

// UnregisterConn removes id only while it is still bound to conn, so that a
// stale connection cannot evict a newer registration of the same id.
func (r *Registry) UnregisterConn(id string, conn Conn) bool {
	r.mu.Lock()
	d, ok := r.devices[id]
	if ok && d.conn == conn {
		delete(r.devices, id)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if ok {
		r.logger.Debug("Device unregistered", "device_id", id, "conn_id", connID(conn))
	}
	return ok
}

// Lookup returns the connection registered for id
func (r *Registry) Lookup(id string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, false
	}
	return d.conn, true
}

// Get returns a view of the device registered under id
func (r *Registry) Get(id string) (DeviceInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return DeviceInfo{}, false
	}
	return d.info(id), true
}

// Touch refreshes the last-seen time of id if it is registered
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	if d, ok := r.devices[id]; ok {
		d.lastSeen = r.now()
	}
	r.mu.Unlock()
}

// Snapshot lists every registered device ordered by registration time, then id
func (r *Registry) Snapshot() []DeviceInfo {
	r.mu.RLock()
	out := make([]DeviceInfo, 0, len(r.devices))
	for id, d := range r.devices {
		out = append(out, d.info(id))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].RegisteredAt.Before(out[j].RegisteredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Targets returns every registered device except excludeID. The slice is a
// copy; the registry may change while the caller iterates it.
func (r *Registry) Targets(excludeID string) []Target {
	r.mu.RLock()
	out := make([]Target, 0, len(r.devices))
	for id, d := range r.devices {
		if excludeID != "" && id == excludeID {
			continue
		}
		out = append(out, Target{ID: id, Conn: d.conn})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered devices
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

func (d *device) info(id string) DeviceInfo {
	caps := make([]string, len(d.capabilities))
	copy(caps, d.capabilities)
	return DeviceInfo{
		ID:           id,
		Name:         d.name,
		Capabilities: caps,
		RegisteredAt: d.registeredAt,
		LastSeen:     d.lastSeen,
		Status:       StatusOnline,
	}
}

func connID(c Conn) string {
	if c == nil {
		return ""
	}
	return c.ID()
}
