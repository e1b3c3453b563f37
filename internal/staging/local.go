package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Local stages payloads on the local filesystem under BaseDir.
type Local struct {
	BaseDir string
}

func NewLocal(baseDir string) *Local {
	return &Local{BaseDir: baseDir}
}

func (s *Local) path(key string) (string, error) {
	p := filepath.Join(s.BaseDir, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.BaseDir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid staging key %q", key)
	}
	return p, nil
}

func (s *Local) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	file, err := os.Create(p)
	if err != nil {
		return fmt.Errorf("failed to create staged file %s: %w", p, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, r); err != nil {
		_ = os.Remove(p)
		return fmt.Errorf("failed to write staged file: %w", err)
	}
	return nil
}

func (s *Local) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

// Delete removes the payload and, once empty, its job directory.
func (s *Local) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	_ = os.Remove(filepath.Dir(p))
	return nil
}
