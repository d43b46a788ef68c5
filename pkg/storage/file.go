package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/billm/relayhub/internal/logger"
	"github.com/billm/relayhub/pkg/types"
)

const (
	// DefaultFilePermissions is the mode of written artifacts
	DefaultFilePermissions os.FileMode = 0644
	// DefaultDirPermissions is the mode of artifact directories
	DefaultDirPermissions os.FileMode = 0755
)

// FileSink writes artifacts below a base directory, one subdirectory per kind
type FileSink struct {
	mu      sync.RWMutex
	baseDir string
	logger  *logger.Logger
	closed  bool
}

// NewFileSink creates a sink rooted at baseDir, creating it if needed
func NewFileSink(baseDir string, log *logger.Logger) (*FileSink, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if baseDir == "" {
		return nil, types.NewError(types.ErrCodeInvalidArgument, "storage base dir cannot be empty")
	}
	if err := os.MkdirAll(baseDir, DefaultDirPermissions); err != nil {
		return nil, types.WrapError(types.ErrCodeInternal, "failed to create storage directory", err)
	}

	s := &FileSink{
		baseDir: baseDir,
		logger:  log.With("component", "file_sink"),
	}
	s.logger.Info("File storage initialized", "path", baseDir)
	return s, nil
}

// Store writes a.Data to <base>/<kind dir>/<filename>. The file appears
// atomically: readers never see a partial artifact.
func (s *FileSink) Store(ctx context.Context, a Artifact) (string, error) {
	if err := validate(a); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", types.WrapError(types.ErrCodeCanceled, "store canceled", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", types.NewError(types.ErrCodeUnavailable, "file sink is closed")
	}

	name := filepath.Base(a.Filename)
	dir := filepath.Join(s.baseDir, Dir(a.Kind))
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return "", types.WrapError(types.ErrCodeInternal, "failed to create artifact directory", err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return "", types.WrapError(types.ErrCodeInternal, "failed to create artifact file", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(a.Data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", types.WrapError(types.ErrCodeInternal, "failed to write artifact", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", types.WrapError(types.ErrCodeInternal, "failed to write artifact", err)
	}
	if err := os.Chmod(tmpName, DefaultFilePermissions); err != nil {
		os.Remove(tmpName)
		return "", types.WrapError(types.ErrCodeInternal, "failed to set artifact permissions", err)
	}

	path := filepath.Join(dir, name)
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", types.WrapError(types.ErrCodeInternal, "failed to store artifact", err)
	}

	s.logger.Debug("Artifact stored", "device_id", a.DeviceID, "kind", string(a.Kind), "path", path, "size", len(a.Data))
	return name, nil
}

// BaseDir returns the root directory of the sink
func (s *FileSink) BaseDir() string {
	return s.baseDir
}

// Close marks the sink closed; later writes fail
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("File storage closed")
	return nil
}
