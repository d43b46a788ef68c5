package stream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/billm/relayhub/internal/config"
	"github.com/billm/relayhub/internal/logger"
	"github.com/billm/relayhub/pkg/protocol"
)

// ErrStreamEvicted is returned by Append when the chunk pushed the stream
// over its chunk or byte limit. The stream's buffered chunks are gone.
var ErrStreamEvicted = errors.New("audio stream evicted")

// ErrStreamDropped is returned by Append for chunks that belong to a stream
// evicted earlier. Chunks are dropped until the device ends the stream with
// Complete or disconnects.
var ErrStreamDropped = errors.New("chunk of evicted audio stream dropped")

// EvictReason says why an in-flight stream was dropped
type EvictReason string

const (
	EvictIdle        EvictReason = "idle timeout"
	EvictStreamLimit EvictReason = "too many concurrent streams"
	EvictChunkLimit  EvictReason = "too many chunks"
	EvictByteLimit   EvictReason = "too many bytes"
)

// EvictedError is returned by Append on overflow. It matches ErrStreamEvicted.
type EvictedError struct {
	Reason EvictReason
}

func (e *EvictedError) Error() string {
	return ErrStreamEvicted.Error() + ": " + string(e.Reason)
}

// Is reports whether target is ErrStreamEvicted
func (e *EvictedError) Is(target error) bool {
	return target == ErrStreamEvicted
}

// EvictFunc observes evictions that no Append caller is told about: idle
// streams removed by the sweeper and streams displaced to admit a new one.
type EvictFunc func(deviceID string, reason EvictReason, parts int)

// Result is a completed stream
type Result struct {
	Data  []byte
	Parts int
}

type chunk struct {
	sequence int
	encoded  string
	arrived  time.Time
}

type buffer struct {
	chunks     []chunk
	bytes      int64
	lastAppend time.Time
}

type eviction struct {
	deviceID string
	reason   EvictReason
	parts    int
}

// Reassembler holds one in-flight chunk buffer per device. Buffers are
// bounded in number, size and idle time; every eviction is reported.
type Reassembler struct {
	mu      sync.Mutex
	buffers map[string]*buffer
	// devices whose current stream was evicted
	dropped map[string]EvictReason
	cfg     config.StreamConfig
	onEvict EvictFunc
	now     func() time.Time
	logger  *logger.Logger
}

// New creates a reassembler bounded by cfg
func New(cfg config.StreamConfig, log *logger.Logger) *Reassembler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Reassembler{
		buffers: make(map[string]*buffer),
		dropped: make(map[string]EvictReason),
		cfg:     cfg,
		now:     time.Now,
		logger:  log.With("component", "stream_reassembler"),
	}
}

// OnEvict installs the eviction observer. It is called without the
// reassembler lock held.
func (r *Reassembler) OnEvict(fn EvictFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvict = fn
}

// SetLimits replaces the limits applied to subsequent operations
func (r *Reassembler) SetLimits(cfg config.StreamConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
}

// Append buffers one encoded chunk for deviceID, creating the buffer on the
// first chunk. Chunks may arrive in any order. After an eviction the rest
// of that stream is rejected with ErrStreamDropped.
func (r *Reassembler) Append(deviceID string, sequence int, encoded string) error {
	var evicted []eviction

	r.mu.Lock()
	if _, ok := r.dropped[deviceID]; ok {
		r.mu.Unlock()
		return ErrStreamDropped
	}
	now := r.now()
	b, ok := r.buffers[deviceID]
	if !ok {
		if r.cfg.MaxStreams > 0 && len(r.buffers) >= r.cfg.MaxStreams {
			if ev, found := r.evictOldestLocked(); found {
				evicted = append(evicted, ev)
			}
		}
		b = &buffer{}
		r.buffers[deviceID] = b
	}

	size := int64(len(encoded))
	var overflow EvictReason
	switch {
	case r.cfg.MaxChunks > 0 && len(b.chunks)+1 > r.cfg.MaxChunks:
		overflow = EvictChunkLimit
	case r.cfg.MaxBytes > 0 && b.bytes+size > r.cfg.MaxBytes:
		overflow = EvictByteLimit
	}

	if overflow != "" {
		parts := len(b.chunks)
		delete(r.buffers, deviceID)
		r.dropped[deviceID] = overflow
		r.mu.Unlock()
		r.notify(evicted)
		r.logger.Warn("Audio stream evicted", "device_id", deviceID, "reason", string(overflow), "parts", parts)
		return &EvictedError{Reason: overflow}
	}

	b.chunks = append(b.chunks, chunk{sequence: sequence, encoded: encoded, arrived: now})
	b.bytes += size
	b.lastAppend = now
	r.mu.Unlock()

	r.notify(evicted)
	return nil
}

// Complete merges and removes the buffer for deviceID. Chunks are decoded
// and concatenated in ascending sequence order; gaps and duplicates are not
// checked. ok is false when no buffer exists, including when the stream
// was evicted; the next chunk then starts a new stream. A chunk that fails
// to decode makes the whole stream fail; the buffer is removed either way.
func (r *Reassembler) Complete(deviceID string) (Result, bool, error) {
	r.mu.Lock()
	b, ok := r.buffers[deviceID]
	delete(r.buffers, deviceID)
	delete(r.dropped, deviceID)
	r.mu.Unlock()

	if !ok {
		return Result{}, false, nil
	}

	sort.SliceStable(b.chunks, func(i, j int) bool {
		return b.chunks[i].sequence < b.chunks[j].sequence
	})

	var merged []byte
	for _, c := range b.chunks {
		data, err := protocol.DecodePayload(c.encoded)
		if err != nil {
			return Result{Parts: len(b.chunks)}, true,
				fmt.Errorf("failed to decode chunk %d: %w", c.sequence, err)
		}
		merged = append(merged, data...)
	}

	return Result{Data: merged, Parts: len(b.chunks)}, true, nil
}

// Discard drops the buffer for deviceID, if any, and forgets an earlier
// eviction of its stream.
func (r *Reassembler) Discard(deviceID string) bool {
	r.mu.Lock()
	b, ok := r.buffers[deviceID]
	delete(r.buffers, deviceID)
	delete(r.dropped, deviceID)
	r.mu.Unlock()

	if ok {
		r.logger.Debug("Audio stream discarded", "device_id", deviceID, "parts", len(b.chunks))
	}
	return ok
}

// Active returns the number of in-flight streams
func (r *Reassembler) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffers)
}

// Sweep evicts every stream idle for longer than the configured TTL and
// returns how many were evicted.
func (r *Reassembler) Sweep() int {
	var evicted []eviction

	r.mu.Lock()
	now := r.now()
	ttl := r.cfg.IdleTTL
	for id, b := range r.buffers {
		if ttl > 0 && now.Sub(b.lastAppend) > ttl {
			evicted = append(evicted, eviction{deviceID: id, reason: EvictIdle, parts: len(b.chunks)})
			delete(r.buffers, id)
			r.dropped[id] = EvictIdle
		}
	}
	r.mu.Unlock()

	if len(evicted) > 0 {
		r.logger.Info("Evicted idle audio streams", "count", len(evicted))
	}
	r.notify(evicted)
	return len(evicted)
}

// Run sweeps idle streams every SweepInterval until ctx is done
func (r *Reassembler) Run(ctx context.Context) error {
	r.mu.Lock()
	interval := r.cfg.SweepInterval
	ttl := r.cfg.IdleTTL
	r.mu.Unlock()
	if interval <= 0 {
		interval = config.DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("Stream sweeper started", "interval", interval.String(), "idle_ttl", ttl.String())

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Stream sweeper stopping")
			return nil
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func (r *Reassembler) evictOldestLocked() (eviction, bool) {
	var (
		oldestID string
		oldest   *buffer
	)
	for id, b := range r.buffers {
		if oldest == nil || b.lastAppend.Before(oldest.lastAppend) ||
			(b.lastAppend.Equal(oldest.lastAppend) && id < oldestID) {
			oldestID, oldest = id, b
		}
	}
	if oldest == nil {
		return eviction{}, false
	}
	delete(r.buffers, oldestID)
	r.dropped[oldestID] = EvictStreamLimit
	return eviction{deviceID: oldestID, reason: EvictStreamLimit, parts: len(oldest.chunks)}, true
}

func (r *Reassembler) notify(evicted []eviction) {
	if len(evicted) == 0 {
		return
	}
	r.mu.Lock()
	fn := r.onEvict
	r.mu.Unlock()

	for _, ev := range evicted {
		r.logger.Warn("Audio stream evicted", "device_id", ev.deviceID, "reason", string(ev.reason), "parts", ev.parts)
		if fn != nil {
			fn(ev.deviceID, ev.reason, ev.parts)
		}
	}
}
