package queue

import (
	"context"
	"sync"
)

// Memory is a buffered in-process queue, used when the API and the worker
// run in the same process.
type Memory struct {
	ch        chan WorkRef
	closed    chan struct{}
	closeOnce sync.Once
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Memory{
		ch:     make(chan WorkRef, capacity),
		closed: make(chan struct{}),
	}
}

func (m *Memory) Enqueue(ctx context.Context, ref WorkRef) error {
	select {
	case <-m.closed:
		return ErrClosed
	default:
	}
	select {
	case m.ch <- ref:
		return nil
	case <-m.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) Dequeue(ctx context.Context) (*Delivery, error) {
	select {
	case ref := <-m.ch:
		return &Delivery{
			Ref: ref,
			nack: func(ctx context.Context) error {
				return m.Enqueue(ctx, ref)
			},
		}, nil
	case <-m.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports the number of messages waiting.
func (m *Memory) Len() int { return len(m.ch) }

func (m *Memory) Ping(context.Context) error {
	select {
	case <-m.closed:
		return ErrClosed
	default:
		return nil
	}
}

func (m *Memory) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}
