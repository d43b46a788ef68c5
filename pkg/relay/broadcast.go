package relay

import (
	"context"
	"errors"

	"github.com/billm/relayhub/internal/logger"
	"github.com/billm/relayhub/pkg/metrics"
	"github.com/billm/relayhub/pkg/protocol"
	"github.com/billm/relayhub/pkg/registry"
	"github.com/billm/relayhub/pkg/types"
)

// Broadcaster fans a frame out to every registered device
type Broadcaster struct {
	registry *registry.Registry
	metrics  *metrics.Metrics
	logger   *logger.Logger
}

// NewBroadcaster creates a broadcaster over reg. m may be nil.
func NewBroadcaster(reg *registry.Registry, m *metrics.Metrics, log *logger.Logger) *Broadcaster {
	if log == nil {
		log = logger.NewNop()
	}
	return &Broadcaster{
		registry: reg,
		metrics:  m,
		logger:   log.With("component", "broadcaster"),
	}
}

// Broadcast sends frame to every registered device except excludeID and
// returns the number of successful sends. The frame is encoded once and
// delivered to a snapshot of the registry. Devices whose send fails are
// unregistered and their connections closed once the sweep is over; that
// removal does not announce a new device list.
func (b *Broadcaster) Broadcast(ctx context.Context, frame protocol.Frame, excludeID string) (int, error) {
	data, err := protocol.Encode(frame)
	if err != nil {
		return 0, types.WrapError(types.ErrCodeInternal, "failed to encode broadcast", err)
	}

	targets := b.registry.Targets(excludeID)

	var (
		sent   int
		failed []registry.Target
	)
	for _, t := range targets {
		if err := t.Conn.Send(ctx, data); err != nil {
			b.metrics.RecordSendFailure()
			if errors.Is(err, registry.ErrQueueFull) {
				b.metrics.RecordSlowConsumer()
			}
			b.logger.Warn("Broadcast send failed",
				"device_id", t.ID,
				"conn_id", t.Conn.ID(),
				"type", string(frame.FrameType()),
				"error", err)
			failed = append(failed, t)
			continue
		}
		sent++
		b.metrics.RecordFrameSent(string(frame.FrameType()))
	}

	for _, t := range failed {
		if b.registry.UnregisterConn(t.ID, t.Conn) {
			b.logger.Info("Removed unreachable device", "device_id", t.ID, "conn_id", t.Conn.ID())
		}
		if err := t.Conn.Close(); err != nil {
			b.logger.Debug("Failed to close connection", "conn_id", t.Conn.ID(), "error", err)
		}
	}
	if len(failed) > 0 {
		b.metrics.SetDevicesConnected(b.registry.Count())
	}

	b.metrics.RecordBroadcast(sent)
	b.logger.Debug("Broadcast sent",
		"type", string(frame.FrameType()),
		"targets", len(targets),
		"sent", sent,
		"failed", len(failed))
	return sent, nil
}
