package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	closed bool
}

func (c *fakeConn) ID() string                               { return c.id }
func (c *fakeConn) Send(ctx context.Context, b []byte) error { return nil }
func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// steppingClock returns increasing times so registration order is deterministic
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Unix(1700000000, 0)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestRegistry() *Registry {
	r := New(nil)
	r.now = steppingClock()
	return r
}

func TestRegisterReturnsCount(t *testing.T) {
	r := newTestRegistry()

	assert.Equal(t, 1, r.Register("abc", "Cam1", []string{"video"}, &fakeConn{id: "c1"}))
	assert.Equal(t, 2, r.Register("def", "Mic", nil, &fakeConn{id: "c2"}))
	assert.Equal(t, 2, r.Count())
}

func TestReRegisterReplacesWithoutClosing(t *testing.T) {
	r := newTestRegistry()
	first := &fakeConn{id: "c1"}
	second := &fakeConn{id: "c2"}

	r.Register("abc", "Cam1", []string{"video"}, first)
	count := r.Register("abc", "Cam1 renamed", []string{"video", "audio"}, second)

	assert.Equal(t, 1, count)
	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "abc", snap[0].ID)
	assert.Equal(t, "Cam1 renamed", snap[0].Name)
	assert.Equal(t, []string{"video", "audio"}, snap[0].Capabilities)

	conn, ok := r.Lookup("abc")
	require.True(t, ok)
	assert.Same(t, second, conn)
	assert.False(t, first.isClosed(), "old connection must not be closed by re-registration")
}

func TestUnregisterConnIgnoresStaleConnection(t *testing.T) {
	r := newTestRegistry()
	first := &fakeConn{id: "c1"}
	second := &fakeConn{id: "c2"}

	r.Register("abc", "Cam1", nil, first)
	r.Register("abc", "Cam1", nil, second)

	assert.False(t, r.UnregisterConn("abc", first))
	_, ok := r.Lookup("abc")
	assert.True(t, ok)

	assert.True(t, r.UnregisterConn("abc", second))
	_, ok = r.Lookup("abc")
	assert.False(t, ok)

	assert.False(t, r.UnregisterConn("abc", second))
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r := newTestRegistry()
	r.Register("abc", "Cam1", nil, &fakeConn{id: "c1"})

	r.Unregister("abc")
	r.Unregister("abc")
	r.Unregister("never-registered")
	assert.Zero(t, r.Count())
}

func TestTouch(t *testing.T) {
	r := newTestRegistry()
	r.Register("abc", "Cam1", nil, &fakeConn{id: "c1"})
	before, _ := r.Get("abc")

	r.Touch("abc")
	r.Touch("ghost")

	after, ok := r.Get("abc")
	require.True(t, ok)
	assert.True(t, after.LastSeen.After(before.LastSeen))
	assert.Equal(t, before.RegisteredAt, after.RegisteredAt)
	_, ok = r.Get("ghost")
	assert.False(t, ok)
}

func TestSnapshotOrderAndStatus(t *testing.T) {
	r := newTestRegistry()
	r.Register("zeta", "Z", nil, &fakeConn{id: "c1"})
	r.Register("alpha", "A", nil, &fakeConn{id: "c2"})
	r.Register("mid", "M", nil, &fakeConn{id: "c3"})

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, []string{snap[0].ID, snap[1].ID, snap[2].ID})
	for _, d := range snap {
		assert.Equal(t, StatusOnline, d.Status)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	r := newTestRegistry()
	caps := []string{"video"}
	r.Register("abc", "Cam1", caps, &fakeConn{id: "c1"})
	caps[0] = "mutated"

	snap := r.Snapshot()
	snap[0].Capabilities[0] = "also mutated"

	again := r.Snapshot()
	assert.Equal(t, []string{"video"}, again[0].Capabilities)
}

func TestTargetsExcludes(t *testing.T) {
	r := newTestRegistry()
	for i := 0; i < 4; i++ {
		r.Register(fmt.Sprintf("dev-%d", i), "", nil, &fakeConn{id: fmt.Sprintf("c%d", i)})
	}

	targets := r.Targets("dev-2")
	require.Len(t, targets, 3)
	for _, tgt := range targets {
		assert.NotEqual(t, "dev-2", tgt.ID)
		assert.NotNil(t, tgt.Conn)
	}

	assert.Len(t, r.Targets(""), 4)
	assert.Len(t, r.Targets("unknown"), 4)
}

func TestConcurrentAccess(t *testing.T) {
	r := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("dev-%d", i%10)
			conn := &fakeConn{id: fmt.Sprintf("c%d", i)}
			r.Register(id, "n", nil, conn)
			r.Touch(id)
			_ = r.Snapshot()
			_ = r.Targets(id)
			r.UnregisterConn(id, conn)
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, r.Count(), 10)
}
