package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/billm/relayhub/internal/config"
	"github.com/billm/relayhub/internal/logger"
	"github.com/billm/relayhub/pkg/types"
)

// Kind classifies an artifact
type Kind string

const (
	KindVideo       Kind = "video"
	KindPhoto       Kind = "photo"
	KindAudio       Kind = "audio"
	KindAudioStream Kind = "audio_stream"
)

// Artifact is decoded media handed to a sink
type Artifact struct {
	DeviceID string
	Kind     Kind
	Data     []byte
	// Filename is the base name to store under, usually from FileName
	Filename string
}

// Sink persists artifacts. Store returns the base name the artifact was
// saved as.
type Sink interface {
	Store(ctx context.Context, a Artifact) (string, error)
	Close() error
}

// Dir returns the directory (or object prefix) an artifact kind is filed under
func Dir(kind Kind) string {
	switch kind {
	case KindVideo:
		return "received_videos"
	case KindPhoto:
		return "received_photos"
	case KindAudio:
		return "received_audio"
	case KindAudioStream:
		return "received_audio_streams"
	default:
		return "received_" + sanitize(string(kind))
	}
}

// FileName builds the conventional artifact name for kind from deviceID at
// time at.
func FileName(kind Kind, deviceID string, at time.Time) string {
	id := sanitize(deviceID)
	ts := at.Unix()
	switch kind {
	case KindVideo:
		return fmt.Sprintf("video_%s_%d.mp4", id, ts)
	case KindPhoto:
		return fmt.Sprintf("%s_%d.jpg", id, ts)
	case KindAudio:
		return fmt.Sprintf("audio_%s_%d.raw", id, ts)
	case KindAudioStream:
		return fmt.Sprintf("stream_%s_%d.raw", id, ts)
	default:
		return fmt.Sprintf("%s_%s_%d.bin", sanitize(string(kind)), id, ts)
	}
}

// sanitize keeps device-controlled strings from escaping the artifact
// directory or producing unusable names.
func sanitize(s string) string {
	if s == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func validate(a Artifact) error {
	if a.Filename == "" {
		return types.NewError(types.ErrCodeInvalidArgument, "artifact filename cannot be empty")
	}
	if a.Kind == "" {
		return types.NewError(types.ErrCodeInvalidArgument, "artifact kind cannot be empty")
	}
	return nil
}

// NopSink discards artifacts
type NopSink struct{}

// Store implements Sink
func (NopSink) Store(ctx context.Context, a Artifact) (string, error) { return "", nil }

// Close implements Sink
func (NopSink) Close() error { return nil }

// Open creates the sink selected by cfg.Backend
func Open(ctx context.Context, cfg config.StorageConfig, log *logger.Logger) (Sink, error) {
	switch cfg.Backend {
	case config.StorageBackendFile, "":
		return NewFileSink(cfg.BaseDir, log)
	case config.StorageBackendNATS:
		return NewNATSSink(ctx, cfg.NATSURL, cfg.NATSBucket, log)
	case config.StorageBackendNone:
		return NopSink{}, nil
	default:
		return nil, types.NewError(types.ErrCodeInvalidArgument, "unknown storage backend: "+cfg.Backend)
	}
}
