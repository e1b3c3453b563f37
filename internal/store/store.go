package store

import (
	"context"
	"errors"
	"time"

	"docflow/internal/model"
)

var (
	// ErrNotFound is returned for unknown ids and for records past their
	// retention window, even if the sweep has not deleted them yet.
	ErrNotFound = errors.New("job not found")
	// ErrAlreadyExists is returned by Create when the id is taken.
	ErrAlreadyExists = errors.New("job already exists")
)

// JobStore persists job records. Update is an atomic read-modify-write
// on a single record: fn sees the latest stored state and its changes are
// written only if fn returns nil.
type JobStore interface {
	Create(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, id string) (*model.Job, error)
	Update(ctx context.Context, id string, fn func(*model.Job) error) (*model.Job, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
	Ping(ctx context.Context) error
}

// Clock returns the current time. Stores take one so tests can move time
// past the retention window.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

func clockOrDefault(c Clock) Clock {
	if c == nil {
		return systemClock
	}
	return c
}
