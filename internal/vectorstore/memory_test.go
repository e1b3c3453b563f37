package vectorstore

import (
	"context"
	"errors"
	"testing"
)

func TestMemory_StoreAndQuery(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.EnsureCollection(ctx, "docs"); err != nil {
		t.Fatalf("EnsureCollection error: %v", err)
	}
	chunks := []Chunk{
		{ID: ChunkID("j", 0, 0), JobID: "j", Source: "a.pdf", Index: 0, Content: "east"},
		{ID: ChunkID("j", 0, 1), JobID: "j", Source: "a.pdf", Index: 1, Content: "north"},
		{ID: ChunkID("j", 0, 2), JobID: "j", Source: "a.pdf", Index: 2, Content: "north-east"},
	}
	vectors := [][]float32{{1, 0}, {0, 1}, {0.7, 0.7}}
	if err := m.Store(ctx, "docs", chunks, vectors); err != nil {
		t.Fatalf("Store error: %v", err)
	}
	// Retried store replaces rather than duplicates.
	if err := m.Store(ctx, "docs", chunks, vectors); err != nil {
		t.Fatalf("second Store error: %v", err)
	}

	got, err := m.Query(ctx, "docs", []float32{0, 1}, 2)
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if len(got) != 2 || got[0].Content != "north" || got[1].Content != "north-east" {
		t.Fatalf("unexpected ranking %+v", got)
	}

	cols, _ := m.ListCollections(ctx)
	if len(cols) != 1 || cols[0].Name != "docs" || cols[0].Chunks != 3 {
		t.Fatalf("unexpected collections %+v", cols)
	}
}

func TestMemory_UnknownCollection(t *testing.T) {
	m := NewMemory()
	if _, err := m.Query(context.Background(), "missing", []float32{1}, 3); !errors.Is(err, ErrCollectionNotFound) {
		t.Fatalf("expected ErrCollectionNotFound, got %v", err)
	}
	err := m.Store(context.Background(), "missing", []Chunk{{ID: "x"}}, [][]float32{{1}})
	if !errors.Is(err, ErrCollectionNotFound) {
		t.Fatalf("expected ErrCollectionNotFound on store, got %v", err)
	}
	if err := m.Store(context.Background(), "missing", []Chunk{{ID: "x"}}, nil); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}
