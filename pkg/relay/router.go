package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/billm/relayhub/internal/config"
	"github.com/billm/relayhub/internal/logger"
	"github.com/billm/relayhub/pkg/metrics"
	"github.com/billm/relayhub/pkg/protocol"
	"github.com/billm/relayhub/pkg/registry"
	"github.com/billm/relayhub/pkg/stats"
	"github.com/billm/relayhub/pkg/storage"
	"github.com/billm/relayhub/pkg/stream"
	"github.com/billm/relayhub/pkg/types"
)

// Handler handles one decoded envelope
type Handler interface {
	// HandleEnvelope processes env received on session s. A returned error
	// is answered with an ERROR frame to the sender.
	HandleEnvelope(ctx context.Context, s *Session, env *protocol.Envelope) error
}

// HandlerFunc is a function adapter for Handler
type HandlerFunc func(ctx context.Context, s *Session, env *protocol.Envelope) error

// HandleEnvelope implements Handler
func (f HandlerFunc) HandleEnvelope(ctx context.Context, s *Session, env *protocol.Envelope) error {
	return f(ctx, s, env)
}

// Options holds the collaborators of a Router. Only Registry is required.
type Options struct {
	Registry *registry.Registry
	Streams  *stream.Reassembler
	Stats    *stats.Collector
	Sink     storage.Sink
	Metrics  *metrics.Metrics
}

// Router dispatches inbound envelopes to handlers and tracks one Session
// per connection.
type Router struct {
	mu       sync.RWMutex
	handlers map[protocol.MessageType]Handler
	sessions map[string]*Session

	registry    *registry.Registry
	streams     *stream.Reassembler
	stats       *stats.Collector
	sink        storage.Sink
	metrics     *metrics.Metrics
	broadcaster *Broadcaster
	now         func() time.Time
	logger      *logger.Logger
}

// New creates a router with a handler for every inbound message type
func New(opts Options, log *logger.Logger) (*Router, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if opts.Registry == nil {
		return nil, types.NewError(types.ErrCodeInvalidArgument, "router requires a registry")
	}
	if opts.Streams == nil {
		opts.Streams = stream.New(config.DefaultStreamConfig(), log)
	}
	if opts.Stats == nil {
		opts.Stats = stats.New()
	}
	if opts.Sink == nil {
		opts.Sink = storage.NopSink{}
	}

	r := &Router{
		handlers:    make(map[protocol.MessageType]Handler),
		sessions:    make(map[string]*Session),
		registry:    opts.Registry,
		streams:     opts.Streams,
		stats:       opts.Stats,
		sink:        opts.Sink,
		metrics:     opts.Metrics,
		broadcaster: NewBroadcaster(opts.Registry, opts.Metrics, log),
		now:         time.Now,
		logger:      log.With("component", "router"),
	}

	r.handlers[protocol.TypeRegister] = HandlerFunc(r.handleRegister)
	r.handlers[protocol.TypeGetDevices] = HandlerFunc(r.handleGetDevices)
	r.handlers[protocol.TypeCommand] = HandlerFunc(r.handleCommand)
	r.handlers[protocol.TypeBroadcast] = HandlerFunc(r.handleBroadcast)
	r.handlers[protocol.TypeVideoFrame] = HandlerFunc(r.handleVideoFrame)
	r.handlers[protocol.TypePhoto] = HandlerFunc(r.handlePhoto)
	r.handlers[protocol.TypeAudio] = HandlerFunc(r.handleAudio)
	r.handlers[protocol.TypeAudioStream] = HandlerFunc(r.handleAudioStream)
	r.handlers[protocol.TypeVoiceCommand] = HandlerFunc(r.handleVoiceCommand)
	r.handlers[protocol.TypeGetStats] = HandlerFunc(r.handleGetStats)

	r.streams.OnEvict(r.onStreamEvicted)

	r.logger.Info("Router initialized", "handlers", len(r.handlers))
	return r, nil
}

// RegisterHandler replaces the handler for msgType
func (r *Router) RegisterHandler(msgType protocol.MessageType, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[msgType] = handler
	r.logger.Debug("Handler registered", "type", string(msgType))
}

// Broadcaster returns the router's fan-out engine
func (r *Router) Broadcaster() *Broadcaster {
	return r.broadcaster
}

// HandleFrame decodes and dispatches one inbound frame from conn. Frames
// from one connection must be passed in arrival order from a single
// goroutine.
func (r *Router) HandleFrame(ctx context.Context, conn registry.Conn, data []byte) {
	s := r.session(conn)

	env, err := protocol.Decode(data)
	if env == nil {
		r.metrics.RecordEnvelopeError(metrics.ErrorMalformed)
		r.logger.Warn("Dropped malformed frame", "conn_id", conn.ID(), "size", len(data), "error", err)
		return
	}

	if env.DeviceID != "" {
		s.setDeviceID(env.DeviceID)
		r.registry.Touch(env.DeviceID)
	}

	if err != nil {
		var kind string
		switch {
		case protocol.IsUnknownType(err):
			kind = metrics.ErrorUnknownType
		case protocol.IsInvalidField(err):
			kind = metrics.ErrorInvalidField
		default:
			kind = metrics.ErrorMalformed
		}
		r.metrics.RecordEnvelopeError(kind)
		r.logger.Warn("Rejected envelope",
			"conn_id", conn.ID(),
			"device_id", s.DeviceID(),
			"type", string(env.Type),
			"error", err)
		r.reply(ctx, s, protocol.NewErrorFrame(err.Error()))
		return
	}

	r.metrics.RecordEnvelope(string(env.Type))

	r.mu.RLock()
	handler, ok := r.handlers[env.Type]
	r.mu.RUnlock()
	if !ok {
		r.metrics.RecordEnvelopeError(metrics.ErrorUnknownType)
		r.reply(ctx, s, protocol.NewErrorFrame((&protocol.UnknownTypeError{Type: env.Type}).Error()))
		return
	}

	if err := handler.HandleEnvelope(ctx, s, env); err != nil {
		r.metrics.RecordEnvelopeError(metrics.ErrorHandler)
		r.logger.Warn("Handler failed",
			"conn_id", conn.ID(),
			"device_id", s.DeviceID(),
			"type", string(env.Type),
			"error", err)
		r.reply(ctx, s, protocol.NewErrorFrame(types.PublicMessage(err)))
	}
}

// HandleClose tears down the session of conn. Every device still bound to
// conn is unregistered and its stream buffer discarded; if any device was
// removed the remaining devices receive one updated device list.
func (r *Router) HandleClose(ctx context.Context, conn registry.Conn) {
	r.mu.Lock()
	s, ok := r.sessions[conn.ID()]
	delete(r.sessions, conn.ID())
	r.mu.Unlock()
	if !ok {
		return
	}

	var removed []string
	for _, id := range s.ids() {
		if r.registry.UnregisterConn(id, conn) {
			removed = append(removed, id)
			r.streams.Discard(id)
			continue
		}
		if _, live := r.registry.Lookup(id); !live {
			r.streams.Discard(id)
		}
	}
	r.metrics.SetActiveStreams(r.streams.Active())

	if len(removed) == 0 {
		r.logger.Debug("Connection closed", "conn_id", conn.ID())
		return
	}

	count := r.registry.Count()
	r.metrics.SetDevicesConnected(count)
	r.logger.Info("Device disconnected",
		"device_id", removed[0],
		"devices", removed,
		"conn_id", conn.ID(),
		"connected_devices", count)
	r.broadcastDeviceList(ctx)
}

// Sessions returns the number of open sessions
func (r *Router) Sessions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Router) session(conn registry.Conn) *Session {
	id := conn.ID()

	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok = r.sessions[id]; ok {
		return s
	}
	s = newSession(conn)
	r.sessions[id] = s
	return s
}

// reply sends frame to the session's own connection. A sender that cannot
// keep up with its replies is disconnected.
func (r *Router) reply(ctx context.Context, s *Session, frame protocol.Frame) {
	if err := r.send(ctx, s.conn, frame); err != nil && errors.Is(err, registry.ErrQueueFull) {
		s.conn.Close()
	}
}

func (r *Router) send(ctx context.Context, conn registry.Conn, frame protocol.Frame) error {
	data, err := protocol.Encode(frame)
	if err != nil {
		r.logger.Error("Failed to encode frame", "type", string(frame.FrameType()), "error", err)
		return err
	}
	if err := conn.Send(ctx, data); err != nil {
		r.metrics.RecordSendFailure()
		if errors.Is(err, registry.ErrQueueFull) {
			r.metrics.RecordSlowConsumer()
		}
		r.logger.Warn("Failed to send frame",
			"conn_id", conn.ID(),
			"type", string(frame.FrameType()),
			"error", err)
		return err
	}
	r.metrics.RecordFrameSent(string(frame.FrameType()))
	return nil
}

func (r *Router) deviceList() *protocol.DeviceList {
	snapshot := r.registry.Snapshot()
	entries := make([]protocol.DeviceEntry, 0, len(snapshot))
	for _, d := range snapshot {
		entries = append(entries, protocol.DeviceEntry{
			ID:           d.ID,
			Name:         d.Name,
			Capabilities: d.Capabilities,
			LastSeen:     protocol.Timestamp(d.LastSeen),
			Status:       d.Status,
		})
	}
	return &protocol.DeviceList{
		Header:  protocol.NewHeader(protocol.TypeDeviceList),
		Devices: entries,
		Count:   len(entries),
	}
}

func (r *Router) broadcastDeviceList(ctx context.Context) {
	list := r.deviceList()
	if _, err := r.broadcaster.Broadcast(ctx, list, ""); err != nil {
		r.logger.Error("Failed to broadcast device list", "error", err)
	}
}

// store hands data to the sink and returns the saved name, or "" when the
// write failed.
func (r *Router) store(ctx context.Context, deviceID string, kind storage.Kind, data []byte, filename string) (string, error) {
	saved, err := r.sink.Store(ctx, storage.Artifact{
		DeviceID: deviceID,
		Kind:     kind,
		Data:     data,
		Filename: filename,
	})
	r.metrics.RecordStorageWrite(string(kind), len(data), err)
	if err != nil {
		r.logger.Error("Failed to store artifact",
			"device_id", deviceID,
			"kind", string(kind),
			"filename", filename,
			"error", err)
		return "", err
	}
	if saved != "" {
		r.logger.Info("Artifact saved",
			"device_id", deviceID,
			"kind", string(kind),
			"saved_as", saved,
			"size", protocol.FormatSize(len(data)))
	}
	return saved, nil
}

func (r *Router) onStreamEvicted(deviceID string, reason stream.EvictReason, parts int) {
	r.metrics.RecordStreamEviction(string(reason))
	r.metrics.SetActiveStreams(r.streams.Active())

	conn, ok := r.registry.Lookup(deviceID)
	if !ok {
		return
	}
	evicted := &stream.EvictedError{Reason: reason}
	r.send(context.Background(), conn, protocol.NewErrorFrame(evicted.Error()))
}

func messageAs[T protocol.Message](env *protocol.Envelope) (T, error) {
	m, ok := env.Message.(T)
	if !ok {
		var zero T
		return zero, types.NewError(types.ErrCodeInternal,
			fmt.Sprintf("unexpected message %T for %s", env.Message, env.Type))
	}
	return m, nil
}
