package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"docflow/internal/chunker"
	"docflow/internal/embedding"
	"docflow/internal/extract"
	"docflow/internal/model"
	"docflow/internal/staging"
	"docflow/internal/vectorstore"
)

type flakyEmbedder struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
	inner    embedding.Embedder
}

func (f *flakyEmbedder) Name() string { return "flaky" }

func (f *flakyEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return nil, f.err
	}
	return f.inner.Embed(ctx, texts)
}

func newTestPipeline(t *testing.T, emb embedding.Embedder) (*Pipeline, *vectorstore.Memory) {
	t.Helper()
	vs := newTestVectors(t)
	p := &Pipeline{
		Stager:         staging.NewLocal(t.TempDir()),
		Extractors:     extract.NewRegistry(),
		Splitter:       chunker.New(100, 20),
		Embedder:       emb,
		Vectors:        vs,
		Retry:          fastPolicy(),
		EmbedBatchSize: 4,
	}
	return p, vs
}

func newTestVectors(t *testing.T) *vectorstore.Memory {
	t.Helper()
	vs := vectorstore.NewMemory()
	if err := vs.EnsureCollection(context.Background(), "docs"); err != nil {
		t.Fatalf("EnsureCollection error: %v", err)
	}
	return vs
}

func stage(t *testing.T, p *Pipeline, name, body string) model.FileInput {
	t.Helper()
	key := staging.Key("job-1", 0, name)
	if err := p.Stager.Put(context.Background(), key, strings.NewReader(body), int64(len(body))); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	ft := name[strings.LastIndex(name, ".")+1:]
	return model.FileInput{JobID: "job-1", FileIndex: 0, Name: name, FileType: ft, StagedKey: key, CollectionName: "docs"}
}

func TestRun_HappyPathEmitsOrderedProgress(t *testing.T) {
	p, vs := newTestPipeline(t, embedding.NewHash(16))
	in := stage(t, p, "notes.txt", strings.Repeat("lorem ipsum dolor sit amet ", 60))

	var updates []model.ProgressUpdate
	res := p.Run(context.Background(), in, func(u model.ProgressUpdate) { updates = append(updates, u) })
	if !res.OK() || res.Chunks == 0 {
		t.Fatalf("expected success with chunks, got %+v", res)
	}

	last := -1.0
	sawEmbedding := false
	for _, u := range updates {
		if u.Percentage < last {
			t.Fatalf("progress went backwards: %v after %v", u.Percentage, last)
		}
		lo, hi, ok := u.Step.Band()
		if !ok || u.Percentage < lo || u.Percentage > hi {
			t.Fatalf("update %+v outside its step band", u)
		}
		if u.Step == model.StepEmbedding {
			sawEmbedding = true
		}
		last = u.Percentage
	}
	if !sawEmbedding || updates[len(updates)-1].Step != model.StepStoring {
		t.Fatalf("expected embedding updates and a final storing update, got %+v", updates)
	}

	cols, _ := vs.ListCollections(context.Background())
	if cols[0].Chunks != res.Chunks {
		t.Fatalf("expected %d stored chunks, got %d", res.Chunks, cols[0].Chunks)
	}
}

func TestRun_NoTextIsPermanent(t *testing.T) {
	emb := &flakyEmbedder{inner: embedding.NewHash(8)}
	p, _ := newTestPipeline(t, emb)
	in := stage(t, p, "blank.txt", "   \n  ")

	res := p.Run(context.Background(), in, nil)
	if res.OK() || !errors.Is(res.Err, extract.ErrNoText) {
		t.Fatalf("expected ErrNoText failure, got %+v", res)
	}
	if emb.calls != 0 {
		t.Fatalf("embedder should not be called, got %d calls", emb.calls)
	}
}

func TestRun_TransientEmbeddingRecovers(t *testing.T) {
	emb := &flakyEmbedder{
		failures: 2,
		err:      &embedding.StatusError{Provider: embedding.ProviderOpenAI, StatusCode: 503},
		inner:    embedding.NewHash(8),
	}
	p, _ := newTestPipeline(t, emb)
	in := stage(t, p, "short.md", "a short note")

	res := p.Run(context.Background(), in, nil)
	if !res.OK() {
		t.Fatalf("expected recovery after transient errors, got %v", res.Err)
	}
	if emb.calls != 3 {
		t.Fatalf("expected 3 embed calls, got %d", emb.calls)
	}
}

func TestRun_PermanentEmbeddingFails(t *testing.T) {
	emb := &flakyEmbedder{
		failures: 10,
		err:      &embedding.StatusError{Provider: embedding.ProviderOpenAI, StatusCode: 400},
		inner:    embedding.NewHash(8),
	}
	p, _ := newTestPipeline(t, emb)
	in := stage(t, p, "short.md", "a short note")

	res := p.Run(context.Background(), in, nil)
	if res.OK() || emb.calls != 1 {
		t.Fatalf("expected single failed attempt, got %+v after %d calls", res, emb.calls)
	}
	if !strings.Contains(res.Reason(), "generate embeddings") {
		t.Fatalf("expected reason to name the step, got %q", res.Reason())
	}
}

func TestRun_MissingUpload(t *testing.T) {
	p, _ := newTestPipeline(t, embedding.NewHash(8))
	res := p.Run(context.Background(), model.FileInput{JobID: "j", Name: "gone.txt", FileType: "txt", StagedKey: "jobs/j/00_gone.txt", CollectionName: "docs"}, nil)
	if res.OK() || !errors.Is(res.Err, staging.ErrNotFound) {
		t.Fatalf("expected staging ErrNotFound, got %+v", res)
	}
}

func TestRun_StorageRetriesThenFails(t *testing.T) {
	p, _ := newTestPipeline(t, embedding.NewHash(8))
	p.Vectors = &failingVectors{err: Transient(errors.New("connection reset"))}
	p.Retry.MaxDelay = time.Millisecond
	in := stage(t, p, "short.md", "a short note")

	res := p.Run(context.Background(), in, nil)
	fv := p.Vectors.(*failingVectors)
	if res.OK() || fv.calls != 3 {
		t.Fatalf("expected 3 failed store attempts, got %d (%+v)", fv.calls, res)
	}
}

type failingVectors struct {
	calls int
	err   error
}

func (f *failingVectors) EnsureCollection(context.Context, string) error { return nil }
func (f *failingVectors) Store(context.Context, string, []vectorstore.Chunk, [][]float32) error {
	f.calls++
	return f.err
}
func (f *failingVectors) Query(context.Context, string, []float32, int) ([]vectorstore.Match, error) {
	return nil, nil
}
func (f *failingVectors) ListCollections(context.Context) ([]vectorstore.Collection, error) {
	return nil, nil
}
