package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/billm/relayhub/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name     string
		filename string
		content  string
		wantCode string
	}{
		{
			name:     "valid full config",
			filename: "full.yaml",
			content: `
server:
  host: 0.0.0.0
  port: 10000
  ping_interval: 20s
  ping_timeout: 60s
  write_timeout: 10s
  max_message_size: 1048576
  send_queue_size: 64
stream:
  max_streams: 10
  max_chunks: 100
  max_bytes: 1048576
  idle_ttl: 1m
  sweep_interval: 5s
storage:
  backend: file
  base_dir: /var/lib/relayhub
logging:
  level: info
  format: json
metrics:
  enabled: false
hub:
  version: "2.0"
  shutdown_timeout: 10s
`,
		},
		{name: "wrong extension", filename: "config.json", content: "{}", wantCode: types.ErrCodeInvalidArgument},
		{name: "empty file", filename: "empty.yaml", content: "", wantCode: types.ErrCodeInvalid},
		{name: "whitespace only", filename: "blank.yaml", content: "  \n\t\n", wantCode: types.ErrCodeInvalid},
		{name: "comments only", filename: "comments.yml", content: "# server:\n#   port: 9000\n", wantCode: types.ErrCodeInvalid},
		{name: "broken yaml", filename: "broken.yaml", content: "server: [port", wantCode: types.ErrCodeInvalid},
		{name: "type mismatch", filename: "types.yaml", content: "server:\n  port: lots\n", wantCode: types.ErrCodeInvalid},
		{name: "fails validation", filename: "invalid.yaml", content: "logging:\n  level: chatty\n", wantCode: types.ErrCodeInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tt.filename)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			cfg, err := LoadFromFile(path)
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, types.GetErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.False(t, cfg.Metrics.Enabled)
			assert.Equal(t, DefaultMetricsPath, cfg.Metrics.Path)
			assert.Equal(t, 64, cfg.Server.SendQueueSize)
		})
	}
}

func TestLoadFromFileNotFound(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, types.IsErrCode(err, types.ErrCodeNotFound))
}

func TestInterpolateEnvVars(t *testing.T) {
	t.Setenv("RELAYHUB_TEST_DIR", "/srv/media")
	os.Unsetenv("RELAYHUB_TEST_UNSET")

	tests := []struct {
		in   string
		want string
	}{
		{"${RELAYHUB_TEST_DIR}", "/srv/media"},
		{"${RELAYHUB_TEST_DIR}/photos", "/srv/media/photos"},
		{"${RELAYHUB_TEST_UNSET:-/tmp}", "/tmp"},
		{"${RELAYHUB_TEST_UNSET}", ""},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, interpolateEnvVars(tt.in))
		})
	}
}

func TestLoadFromFileInterpolates(t *testing.T) {
	t.Setenv("RELAYHUB_TEST_BUCKET", "media")
	path := filepath.Join(t.TempDir(), "nats.yaml")
	content := `
server:
  port: ${RELAYHUB_TEST_PORT:-9100}
storage:
  backend: nats
  nats_url: ${RELAYHUB_TEST_NATS:-nats://nats:4222}
  nats_bucket: ${RELAYHUB_TEST_BUCKET}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "nats://nats:4222", cfg.Storage.NATSURL)
	assert.Equal(t, "media", cfg.Storage.NATSBucket)
	assert.Equal(t, 9100, cfg.Server.Port)
}
