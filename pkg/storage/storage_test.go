package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/billm/relayhub/internal/config"
	"github.com/billm/relayhub/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileName(t *testing.T) {
	at := time.Unix(1700000000, 0)
	tests := []struct {
		kind     Kind
		deviceID string
		want     string
	}{
		{KindVideo, "cam1", "video_cam1_1700000000.mp4"},
		{KindPhoto, "cam1", "cam1_1700000000.jpg"},
		{KindAudio, "mic1", "audio_mic1_1700000000.raw"},
		{KindAudioStream, "mic1", "stream_mic1_1700000000.raw"},
		{KindPhoto, "../../etc/passwd", "______etc_passwd_1700000000.jpg"},
		{KindPhoto, "", "unknown_1700000000.jpg"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+tt.deviceID, func(t *testing.T) {
			assert.Equal(t, tt.want, FileName(tt.kind, tt.deviceID, at))
		})
	}
}

func TestDir(t *testing.T) {
	assert.Equal(t, "received_videos", Dir(KindVideo))
	assert.Equal(t, "received_photos", Dir(KindPhoto))
	assert.Equal(t, "received_audio", Dir(KindAudio))
	assert.Equal(t, "received_audio_streams", Dir(KindAudioStream))
}

func TestFileSinkStore(t *testing.T) {
	base := t.TempDir()
	sink, err := NewFileSink(base, nil)
	require.NoError(t, err)
	defer sink.Close()

	data := []byte{0xff, 0xd8, 0xff, 0xe0}
	saved, err := sink.Store(context.Background(), Artifact{
		DeviceID: "cam1",
		Kind:     KindPhoto,
		Data:     data,
		Filename: "cam1_1700000000.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, "cam1_1700000000.jpg", saved)

	got, err := os.ReadFile(filepath.Join(base, "received_photos", saved))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	entries, err := os.ReadDir(filepath.Join(base, "received_photos"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileSinkStaysInsideBaseDir(t *testing.T) {
	base := t.TempDir()
	sink, err := NewFileSink(base, nil)
	require.NoError(t, err)

	saved, err := sink.Store(context.Background(), Artifact{
		DeviceID: "x",
		Kind:     KindAudio,
		Data:     []byte("pcm"),
		Filename: "../../escape.raw",
	})
	require.NoError(t, err)
	assert.Equal(t, "escape.raw", saved)
	assert.FileExists(t, filepath.Join(base, "received_audio", "escape.raw"))
}

func TestFileSinkErrors(t *testing.T) {
	sink, err := NewFileSink(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = sink.Store(context.Background(), Artifact{Kind: KindPhoto})
	assert.True(t, types.IsErrCode(err, types.ErrCodeInvalidArgument))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sink.Store(ctx, Artifact{Kind: KindPhoto, Filename: "a.jpg"})
	assert.True(t, types.IsErrCode(err, types.ErrCodeCanceled))

	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	_, err = sink.Store(context.Background(), Artifact{Kind: KindPhoto, Filename: "a.jpg"})
	assert.True(t, types.IsErrCode(err, types.ErrCodeUnavailable))

	_, err = NewFileSink("", nil)
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	cfg := config.DefaultStorageConfig()
	cfg.BaseDir = t.TempDir()
	sink, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &FileSink{}, sink)

	cfg.Backend = config.StorageBackendNone
	sink, err = Open(ctx, cfg, nil)
	require.NoError(t, err)
	saved, err := sink.Store(ctx, Artifact{Kind: KindPhoto, Filename: "a.jpg"})
	require.NoError(t, err)
	assert.Empty(t, saved)

	cfg.Backend = "tape"
	_, err = Open(ctx, cfg, nil)
	assert.Error(t, err)
}
