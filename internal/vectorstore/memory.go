package vectorstore

import (
	"context"
	"sort"
	"sync"
)

// Memory keeps collections in process.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]scored
}

func NewMemory() *Memory {
	return &Memory{collections: make(map[string]map[string]scored)}
}

func (m *Memory) EnsureCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; !ok {
		m.collections[name] = make(map[string]scored)
	}
	return nil
}

func (m *Memory) Store(_ context.Context, collection string, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return ErrLengthMismatch
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	col, ok := m.collections[collection]
	if !ok {
		return ErrCollectionNotFound
	}
	for i, c := range chunks {
		v := make([]float32, len(vectors[i]))
		copy(v, vectors[i])
		col[c.ID] = scored{chunk: c, vector: v}
	}
	return nil
}

func (m *Memory) Query(_ context.Context, collection string, vector []float32, topK int) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	col, ok := m.collections[collection]
	if !ok {
		return nil, ErrCollectionNotFound
	}
	cands := make([]scored, 0, len(col))
	for _, s := range col {
		cands = append(cands, s)
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].chunk.ID < cands[j].chunk.ID })
	return rank(cands, vector, topK), nil
}

func (m *Memory) ListCollections(context.Context) ([]Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Collection, 0, len(m.collections))
	for name, col := range m.collections {
		out = append(out, Collection{Name: name, Chunks: len(col)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
