package queue

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by Dequeue after the queue was closed.
var ErrClosed = errors.New("queue closed")

// WorkRef is the message placed on the queue. It references a job by id;
// the job record itself lives in the job store.
type WorkRef struct {
	JobID      string    `json:"job_id"`
	Files      []string  `json:"files"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Delivery is one dequeued message. Ack removes it for good; Nack hands it
// back so another worker picks it up later.
type Delivery struct {
	Ref  WorkRef
	ack  func(context.Context) error
	nack func(context.Context) error
}

func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

func (d *Delivery) Nack(ctx context.Context) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(ctx)
}

// Queue delivers WorkRefs at least once.
type Queue interface {
	Enqueue(ctx context.Context, ref WorkRef) error
	// Dequeue blocks until a message is available or ctx is done.
	Dequeue(ctx context.Context) (*Delivery, error)
	Ping(ctx context.Context) error
	Close() error
}
