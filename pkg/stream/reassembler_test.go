package stream

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/billm/relayhub/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enc(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type evictRecorder struct {
	mu     sync.Mutex
	events []string
	parts  []int
}

func (e *evictRecorder) record(deviceID string, reason EvictReason, parts int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, deviceID+":"+string(reason))
	e.parts = append(e.parts, parts)
}

func newTestReassembler(cfg config.StreamConfig) (*Reassembler, *fakeClock, *evictRecorder) {
	r := New(cfg, nil)
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	r.now = clock.Now
	rec := &evictRecorder{}
	r.OnEvict(rec.record)
	return r, clock, rec
}

func TestCompleteOrdersBySequence(t *testing.T) {
	tests := []struct {
		name  string
		order []int
	}{
		{"in order", []int{0, 1, 2}},
		{"reversed", []int{2, 1, 0}},
		{"shuffled", []int{2, 0, 1}},
	}
	payloads := map[int]string{0: "alpha-", 1: "beta-", 2: "gamma"}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, _ := newTestReassembler(config.DefaultStreamConfig())
			for _, seq := range tt.order {
				require.NoError(t, r.Append("mic1", seq, enc(payloads[seq])))
			}

			res, ok, err := r.Complete("mic1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "alpha-beta-gamma", string(res.Data))
			assert.Equal(t, 3, res.Parts)
			assert.Zero(t, r.Active())
		})
	}
}

func TestCompleteWithoutBuffer(t *testing.T) {
	r, _, _ := newTestReassembler(config.DefaultStreamConfig())
	res, ok, err := r.Complete("nobody")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, res.Parts)
}

func TestCompleteGapIsNotDetected(t *testing.T) {
	r, _, _ := newTestReassembler(config.DefaultStreamConfig())
	require.NoError(t, r.Append("mic1", 0, enc("a")))
	require.NoError(t, r.Append("mic1", 2, enc("c")))

	res, ok, err := r.Complete("mic1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ac", string(res.Data))
	assert.Equal(t, 2, res.Parts)
}

func TestCompleteDecodeFailureDropsBuffer(t *testing.T) {
	r, _, _ := newTestReassembler(config.DefaultStreamConfig())
	require.NoError(t, r.Append("mic1", 0, enc("a")))
	require.NoError(t, r.Append("mic1", 1, "***"))

	res, ok, err := r.Complete("mic1")
	assert.True(t, ok)
	assert.Error(t, err)
	assert.Equal(t, 2, res.Parts)
	assert.Zero(t, r.Active())
}

func TestStreamsAreIndependent(t *testing.T) {
	r, _, _ := newTestReassembler(config.DefaultStreamConfig())
	require.NoError(t, r.Append("a", 0, enc("a0")))
	require.NoError(t, r.Append("b", 0, enc("b0")))
	require.NoError(t, r.Append("a", 1, enc("a1")))

	res, ok, err := r.Complete("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a0a1", string(res.Data))
	assert.Equal(t, 1, r.Active())
}

func TestDiscard(t *testing.T) {
	r, _, rec := newTestReassembler(config.DefaultStreamConfig())
	require.NoError(t, r.Append("mic1", 0, enc("a")))

	assert.True(t, r.Discard("mic1"))
	assert.False(t, r.Discard("mic1"))
	_, ok, _ := r.Complete("mic1")
	assert.False(t, ok)
	assert.Empty(t, rec.events, "discard is not an eviction")
}

func TestChunkLimitEvicts(t *testing.T) {
	cfg := config.DefaultStreamConfig()
	cfg.MaxChunks = 2
	r, _, rec := newTestReassembler(cfg)

	require.NoError(t, r.Append("mic1", 0, enc("a")))
	require.NoError(t, r.Append("mic1", 1, enc("b")))
	err := r.Append("mic1", 2, enc("c"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStreamEvicted))
	var evicted *EvictedError
	require.True(t, errors.As(err, &evicted))
	assert.Equal(t, EvictChunkLimit, evicted.Reason)
	assert.Equal(t, "audio stream evicted: too many chunks", err.Error())

	assert.Zero(t, r.Active())
	assert.Empty(t, rec.events, "overflow is reported to the caller, not the observer")

	// the rest of the evicted stream is dropped until the device ends it
	assert.ErrorIs(t, r.Append("mic1", 3, enc("d")), ErrStreamDropped)
	assert.ErrorIs(t, r.Append("mic1", 4, enc("e")), ErrStreamDropped)
	assert.Zero(t, r.Active())
	_, ok, err := r.Complete("mic1")
	require.NoError(t, err)
	assert.False(t, ok, "no truncated tail is completed")

	// the next chunk starts a fresh stream
	require.NoError(t, r.Append("mic1", 0, enc("f")))
	res, ok, err := r.Complete("mic1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "f", string(res.Data))
}

func TestEvictedStreamDropsUntilCompleteOrDiscard(t *testing.T) {
	cfg := config.DefaultStreamConfig()
	cfg.MaxStreams = 1
	cfg.IdleTTL = time.Minute
	r, clock, _ := newTestReassembler(cfg)

	require.NoError(t, r.Append("a", 0, enc("a0")))
	clock.Advance(time.Second)
	require.NoError(t, r.Append("b", 0, enc("b0")))

	// a lost its stream to b
	assert.ErrorIs(t, r.Append("a", 1, enc("a1")), ErrStreamDropped)
	assert.True(t, r.Discard("b"))
	assert.False(t, r.Discard("a"))
	require.NoError(t, r.Append("a", 0, enc("new")), "discard forgets the eviction")

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, r.Sweep())
	assert.ErrorIs(t, r.Append("a", 1, enc("late")), ErrStreamDropped)
	_, ok, err := r.Complete("a")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, r.Append("a", 0, enc("again")))
}

func TestByteLimitEvicts(t *testing.T) {
	cfg := config.DefaultStreamConfig()
	cfg.MaxBytes = 8
	r, _, _ := newTestReassembler(cfg)

	require.NoError(t, r.Append("mic1", 0, "AAAA"))
	err := r.Append("mic1", 1, "AAAAAAAA")
	assert.True(t, errors.Is(err, ErrStreamEvicted))
	assert.Contains(t, err.Error(), string(EvictByteLimit))
}

func TestStreamLimitEvictsOldestIdle(t *testing.T) {
	cfg := config.DefaultStreamConfig()
	cfg.MaxStreams = 2
	r, clock, rec := newTestReassembler(cfg)

	require.NoError(t, r.Append("a", 0, enc("a")))
	clock.Advance(time.Second)
	require.NoError(t, r.Append("b", 0, enc("b")))
	clock.Advance(time.Second)
	// a is refreshed, so b becomes the oldest idle stream
	require.NoError(t, r.Append("a", 1, enc("a")))
	clock.Advance(time.Second)
	require.NoError(t, r.Append("c", 0, enc("c")))

	assert.Equal(t, 2, r.Active())
	assert.Equal(t, []string{"b:" + string(EvictStreamLimit)}, rec.events)
	assert.Equal(t, []int{1}, rec.parts)
	_, ok, _ := r.Complete("b")
	assert.False(t, ok)
}

func TestSweepEvictsIdleStreams(t *testing.T) {
	cfg := config.DefaultStreamConfig()
	cfg.IdleTTL = time.Minute
	r, clock, rec := newTestReassembler(cfg)

	require.NoError(t, r.Append("stale", 0, enc("x")))
	require.NoError(t, r.Append("stale", 1, enc("y")))
	clock.Advance(45 * time.Second)
	require.NoError(t, r.Append("fresh", 0, enc("z")))
	clock.Advance(30 * time.Second)

	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, []string{"stale:" + string(EvictIdle)}, rec.events)
	assert.Equal(t, []int{2}, rec.parts)
	assert.Equal(t, 1, r.Active())

	assert.Zero(t, r.Sweep())
}

func TestSetLimits(t *testing.T) {
	r, _, _ := newTestReassembler(config.DefaultStreamConfig())
	cfg := config.DefaultStreamConfig()
	cfg.MaxChunks = 1
	r.SetLimits(cfg)

	require.NoError(t, r.Append("mic1", 0, enc("a")))
	assert.ErrorIs(t, r.Append("mic1", 1, enc("b")), ErrStreamEvicted)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := config.DefaultStreamConfig()
	cfg.SweepInterval = 5 * time.Millisecond
	cfg.IdleTTL = time.Millisecond
	r := New(cfg, nil)

	evicted := make(chan string, 1)
	r.OnEvict(func(deviceID string, reason EvictReason, parts int) {
		evicted <- deviceID
	})
	require.NoError(t, r.Append("mic1", 0, enc("a")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case id := <-evicted:
		assert.Equal(t, "mic1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("idle stream was not swept")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
