package storage

import (
	"bytes"
	"context"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/billm/relayhub/internal/logger"
	"github.com/billm/relayhub/pkg/types"
)

// NATSSink stores artifacts in a JetStream object store bucket. Object
// names are "<kind dir>/<filename>".
type NATSSink struct {
	mu     sync.RWMutex
	nc     *nats.Conn
	store  jetstream.ObjectStore
	bucket string
	logger *logger.Logger
	closed bool
}

// NewNATSSink connects to url and creates bucket if it does not exist
func NewNATSSink(ctx context.Context, url, bucket string, log *logger.Logger) (*NATSSink, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if bucket == "" {
		return nil, types.NewError(types.ErrCodeInvalidArgument, "nats bucket cannot be empty")
	}

	nc, err := nats.Connect(url, nats.Name("relayhub"))
	if err != nil {
		return nil, types.WrapError(types.ErrCodeUnavailable, "failed to connect to NATS at "+url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, types.WrapError(types.ErrCodeInternal, "failed to create JetStream context", err)
	}

	store, err := js.CreateOrUpdateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      bucket,
		Description: "relayhub media artifacts",
	})
	if err != nil {
		nc.Close()
		return nil, types.WrapError(types.ErrCodeUnavailable, "failed to open object store "+bucket, err)
	}

	s := &NATSSink{
		nc:     nc,
		store:  store,
		bucket: bucket,
		logger: log.With("component", "nats_sink"),
	}
	s.logger.Info("NATS object storage initialized", "url", url, "bucket", bucket)
	return s, nil
}

// ObjectName returns the object name an artifact is stored under
func ObjectName(a Artifact) string {
	return Dir(a.Kind) + "/" + a.Filename
}

// Store puts a.Data into the bucket with the device id and kind as metadata
func (s *NATSSink) Store(ctx context.Context, a Artifact) (string, error) {
	if err := validate(a); err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", types.NewError(types.ErrCodeUnavailable, "nats sink is closed")
	}

	meta := jetstream.ObjectMeta{
		Name: ObjectName(a),
		Metadata: map[string]string{
			"device_id": a.DeviceID,
			"kind":      string(a.Kind),
		},
	}
	info, err := s.store.Put(ctx, meta, bytes.NewReader(a.Data))
	if err != nil {
		return "", types.WrapError(types.ErrCodeUnavailable, "failed to put object "+meta.Name, err)
	}

	s.logger.Debug("Artifact stored", "device_id", a.DeviceID, "kind", string(a.Kind),
		"bucket", s.bucket, "object", info.Name, "size", info.Size)
	return a.Filename, nil
}

// Close drains the NATS connection
func (s *NATSSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
		return types.WrapError(types.ErrCodeInternal, "failed to drain NATS connection", err)
	}
	s.logger.Info("NATS object storage closed")
	return nil
}
