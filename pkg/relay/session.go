package relay

import (
	"sort"
	"sync"

	"github.com/billm/relayhub/pkg/registry"
)

// Session is the router's view of one connection
type Session struct {
	mu         sync.Mutex
	conn       registry.Conn
	deviceID   string
	registered map[string]struct{}
}

func newSession(conn registry.Conn) *Session {
	return &Session{
		conn:       conn,
		registered: make(map[string]struct{}),
	}
}

// Conn returns the connection the session belongs to
func (s *Session) Conn() registry.Conn {
	return s.conn
}

// DeviceID returns the device id the connection currently speaks for. It
// follows the most recent envelope that carried one.
func (s *Session) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceID
}

func (s *Session) setDeviceID(id string) {
	s.mu.Lock()
	s.deviceID = id
	s.mu.Unlock()
}

// bind records a successful REGISTER of id on this connection
func (s *Session) bind(id string) {
	s.mu.Lock()
	s.deviceID = id
	s.registered[id] = struct{}{}
	s.mu.Unlock()
}

// ids returns every id the connection registered plus its current id
func (s *Session) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.registered)+1)
	for id := range s.registered {
		out = append(out, id)
	}
	if _, ok := s.registered[s.deviceID]; !ok && s.deviceID != "" {
		out = append(out, s.deviceID)
	}
	sort.Strings(out)
	return out
}
