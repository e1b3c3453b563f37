package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrNotFound is returned when a staged payload does not exist.
var ErrNotFound = errors.New("staged payload not found")

// Stager holds uploaded payloads between submission and processing so the
// queue only ever carries references.
type Stager interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Key builds the staging key for file i of a job. The original name is
// reduced to its base name so keys can never escape the job prefix.
func Key(jobID string, i int, name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == ".." {
		base = "upload"
	}
	return fmt.Sprintf("jobs/%s/%02d_%s", jobID, i, base)
}

// ReadAll reads a staged payload fully, refusing anything above limit bytes.
func ReadAll(ctx context.Context, s Stager, key string, limit int64) ([]byte, error) {
	rc, err := s.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read staged payload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("staged payload %s exceeds %d bytes", key, limit)
	}
	return data, nil
}
