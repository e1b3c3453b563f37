package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemory_FIFO(t *testing.T) {
	q := NewMemory(4)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, WorkRef{JobID: id}); err != nil {
			t.Fatalf("Enqueue error: %v", err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		d, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue error: %v", err)
		}
		if d.Ref.JobID != want {
			t.Fatalf("expected %s, got %s", want, d.Ref.JobID)
		}
		if err := d.Ack(ctx); err != nil {
			t.Fatalf("Ack error: %v", err)
		}
	}
}

func TestMemory_NackRedelivers(t *testing.T) {
	q := NewMemory(4)
	ctx := context.Background()
	_ = q.Enqueue(ctx, WorkRef{JobID: "a"})

	d, _ := q.Dequeue(ctx)
	if err := d.Nack(ctx); err != nil {
		t.Fatalf("Nack error: %v", err)
	}
	again, err := q.Dequeue(ctx)
	if err != nil || again.Ref.JobID != "a" {
		t.Fatalf("expected redelivery of a, got %+v (%v)", again, err)
	}
}

func TestMemory_DequeueHonorsContext(t *testing.T) {
	q := NewMemory(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestMemory_Closed(t *testing.T) {
	q := NewMemory(1)
	_ = q.Close()
	if err := q.Enqueue(context.Background(), WorkRef{JobID: "a"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := q.Ping(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ping to report closed queue, got %v", err)
	}
}
