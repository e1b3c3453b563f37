package store

import (
	"context"
	"sync"
	"time"

	"docflow/internal/model"
)

// Memory is an in-process JobStore. Records are cloned on the way in and
// out so callers never share state with the map.
type Memory struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
	ttl  time.Duration
	now  Clock
}

func NewMemory(ttl time.Duration, now Clock) *Memory {
	return &Memory{
		jobs: make(map[string]*model.Job),
		ttl:  ttl,
		now:  clockOrDefault(now),
	}
}

func (m *Memory) Create(_ context.Context, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return ErrAlreadyExists
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Expired(m.ttl, m.now()) {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

func (m *Memory) Update(_ context.Context, id string, fn func(*model.Job) error) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Expired(m.ttl, m.now()) {
		return nil, ErrNotFound
	}
	next := j.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.jobs[id] = next
	return next.Clone(), nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

func (m *Memory) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, j := range m.jobs {
		if j.CreatedAt.Before(cutoff) {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Ping(context.Context) error { return nil }
