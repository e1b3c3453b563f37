package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"docflow/internal/chunker"
	"docflow/internal/embedding"
	"docflow/internal/extract"
	"docflow/internal/metrics"
	"docflow/internal/model"
	"docflow/internal/staging"
	"docflow/internal/vectorstore"
)

// Pipeline turns one staged file into stored, embedded chunks:
// extraction, chunking, embedding, storage. It reports progress through
// the emit callback and never touches the job store itself.
type Pipeline struct {
	Stager     staging.Stager
	Extractors *extract.Registry
	Splitter   chunker.Splitter
	Embedder   embedding.Embedder
	Vectors    vectorstore.Store
	Retry      RetryPolicy
	// EmbedBatchSize is how many chunks go to the embedder per call.
	EmbedBatchSize int
	// MaxFileBytes bounds how much of a staged payload is read.
	MaxFileBytes int64
	Logger       *slog.Logger
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// Run processes one file. It returns Ok with the chunk count, or Failed
// with the reason; a failure never panics out to the caller.
func (p *Pipeline) Run(ctx context.Context, in model.FileInput, emit func(model.ProgressUpdate)) model.FileResult {
	if emit == nil {
		emit = func(model.ProgressUpdate) {}
	}
	report := func(step model.Step, pct float64, done, total int) {
		emit(model.ProgressUpdate{
			JobID:           in.JobID,
			FileIndex:       in.FileIndex,
			Step:            step,
			Percentage:      pct,
			ChunksProcessed: done,
			TotalChunks:     total,
		})
	}
	log := p.logger().With("job_id", in.JobID, "file", in.Name)

	report(model.StepExtraction, 0, 0, 0)
	limit := p.MaxFileBytes
	if limit <= 0 {
		limit = 50 << 20
	}
	data, err := staging.ReadAll(ctx, p.Stager, in.StagedKey, limit)
	if err != nil {
		return model.Failed(fmt.Errorf("read upload: %w", err))
	}
	text, err := p.Extractors.Extract(ctx, in.FileType, data)
	if err != nil {
		return model.Failed(err)
	}
	report(model.StepExtraction, 25, 0, 0)

	pieces := p.Splitter.Split(text)
	if len(pieces) == 0 {
		return model.Failed(extract.ErrNoText)
	}
	total := len(pieces)
	report(model.StepChunking, 50, 0, total)

	vectors, err := p.embed(ctx, pieces, func(done int) {
		report(model.StepEmbedding, 50+40*float64(done)/float64(total), done, total)
	})
	if err != nil {
		return model.Failed(fmt.Errorf("generate embeddings: %w", err))
	}

	report(model.StepStoring, 90, total, total)
	chunks := make([]vectorstore.Chunk, total)
	for i, piece := range pieces {
		chunks[i] = vectorstore.Chunk{
			ID:      vectorstore.ChunkID(in.JobID, in.FileIndex, i),
			JobID:   in.JobID,
			Source:  in.Name,
			Index:   i,
			Content: piece,
		}
	}
	err = p.retry(model.StepStoring).Do(ctx, func(ctx context.Context) error {
		return p.Vectors.Store(ctx, in.CollectionName, chunks, vectors)
	})
	if err != nil {
		return model.Failed(fmt.Errorf("store chunks: %w", err))
	}

	log.Info("file processed", "chunks", total, "text_length", len(text))
	return model.Ok(total, len(text))
}

func (p *Pipeline) embed(ctx context.Context, pieces []string, progress func(done int)) ([][]float32, error) {
	size := p.EmbedBatchSize
	if size <= 0 {
		size = 32
	}
	out := make([][]float32, 0, len(pieces))
	policy := p.retry(model.StepEmbedding)
	for start := 0; start < len(pieces); start += size {
		end := start + size
		if end > len(pieces) {
			end = len(pieces)
		}
		batch := pieces[start:end]
		var vecs [][]float32
		err := policy.Do(ctx, func(ctx context.Context) error {
			v, err := p.Embedder.Embed(ctx, batch)
			if err != nil {
				return err
			}
			if len(v) != len(batch) {
				return embedding.ErrCountMismatch
			}
			vecs = v
			return nil
		})
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
		progress(end)
	}
	return out, nil
}

// retry returns the configured policy with retries logged and counted
// against step.
func (p *Pipeline) retry(step model.Step) RetryPolicy {
	policy := p.Retry
	if policy.MaxAttempts == 0 {
		policy = DefaultRetryPolicy()
	}
	inner := policy.OnRetry
	policy.OnRetry = func(attempt int, err error) {
		metrics.RecordStepRetry(string(step))
		p.logger().Warn("transient step failure, retrying", "step", step, "attempt", attempt, "error", err)
		if inner != nil {
			inner(attempt, err)
		}
	}
	return policy
}
