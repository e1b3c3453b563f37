package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrLengthMismatch     = errors.New("chunks and vectors differ in length")
)

// Chunk is one stored piece of a document.
type Chunk struct {
	ID      string `json:"id"`
	JobID   string `json:"job_id"`
	Source  string `json:"source"`
	Index   int    `json:"chunk_index"`
	Content string `json:"content"`
}

// Match is a query hit with its cosine similarity.
type Match struct {
	Chunk
	Score float64 `json:"score"`
}

type Collection struct {
	Name   string `json:"name"`
	Chunks int    `json:"chunks"`
}

// Store persists embedded chunks grouped into collections. Store is atomic:
// either every chunk of the call is visible afterwards or none is. Writing
// the same chunk ids again replaces them, so a retried Store is safe.
type Store interface {
	EnsureCollection(ctx context.Context, name string) error
	Store(ctx context.Context, collection string, chunks []Chunk, vectors [][]float32) error
	Query(ctx context.Context, collection string, vector []float32, topK int) ([]Match, error)
	ListCollections(ctx context.Context) ([]Collection, error)
}

// ChunkID is the stable id of chunk i of file fileIndex in a job.
func ChunkID(jobID string, fileIndex, i int) string {
	return fmt.Sprintf("%s_%d_%d", jobID, fileIndex, i)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type scored struct {
	chunk  Chunk
	vector []float32
}

// rank scores candidates against vector and returns the topK best.
func rank(cands []scored, vector []float32, topK int) []Match {
	out := make([]Match, 0, len(cands))
	for _, c := range cands {
		out = append(out, Match{Chunk: c.chunk, Score: cosine(c.vector, vector)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}
