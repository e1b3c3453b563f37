package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"docflow/internal/config"
	"docflow/internal/metrics"
	"docflow/internal/model"
	"docflow/internal/queue"
	"docflow/internal/staging"
	"docflow/internal/store"
)

// FileProcessor runs the per-file pipeline. emit is called synchronously
// from the processor's goroutine.
type FileProcessor interface {
	Run(ctx context.Context, in model.FileInput, emit func(model.ProgressUpdate)) model.FileResult
}

// CollectionPreparer makes sure a collection exists before any file of a
// job is processed.
type CollectionPreparer interface {
	EnsureCollection(ctx context.Context, name string) error
}

var errAlreadyFinished = errors.New("job already finished")

// Runner consumes work references from the queue and drives each job
// through the pipeline. It owns a job from dequeue until the job is
// terminal, and is the only writer of that job's record.
type Runner struct {
	cfg         *config.Config
	store       store.JobStore
	queue       queue.Queue
	processor   FileProcessor
	stager      staging.Stager
	collections CollectionPreparer
	logger      *slog.Logger
	now         func() time.Time
}

// NewRunner constructs a Runner. stager may be nil, in which case staged
// payloads are left in place.
func NewRunner(cfg *config.Config, st store.JobStore, q queue.Queue, proc FileProcessor, stager staging.Stager, collections CollectionPreparer, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:         cfg,
		store:       st,
		queue:       q,
		processor:   proc,
		stager:      stager,
		collections: collections,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (r *Runner) log() *slog.Logger {
	if r.logger == nil {
		return slog.Default()
	}
	return r.logger
}

// Start consumes the queue until ctx is done, running at most
// worker.maxConcurrentJobs jobs at once. It waits for in-flight jobs
// before returning.
func (r *Runner) Start(ctx context.Context) error {
	maxJobs := r.cfg.Worker.MaxConcurrentJobs
	if maxJobs <= 0 {
		maxJobs = 4
	}

	sem := make(chan struct{}, maxJobs)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case sem <- struct{}{}:
		}

		d, err := r.queue.Dequeue(ctx)
		if err != nil {
			<-sem
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return nil
			}
			r.log().Warn("dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			r.handle(ctx, d)
		}()
	}
}

func (r *Runner) handle(ctx context.Context, d *queue.Delivery) {
	err := r.Process(ctx, d.Ref)
	// Settle the message even when ctx is already cancelled.
	settleCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err != nil {
		r.log().Warn("job left for redelivery", "job_id", d.Ref.JobID, "error", err)
		if nerr := d.Nack(settleCtx); nerr != nil {
			r.log().Error("nack failed", "job_id", d.Ref.JobID, "error", nerr)
		}
		return
	}
	if aerr := d.Ack(settleCtx); aerr != nil {
		r.log().Error("ack failed", "job_id", d.Ref.JobID, "error", aerr)
	}
}

// Process runs one job to completion. A nil error means the message can be
// acknowledged: the job finished, was already finished, or no longer
// exists. A non-nil error means the job should be delivered again.
func (r *Runner) Process(ctx context.Context, ref queue.WorkRef) error {
	log := r.log().With("job_id", ref.JobID)

	job, err := r.store.Update(ctx, ref.JobID, func(j *model.Job) error {
		switch {
		case j.Status.Terminal():
			return errAlreadyFinished
		case j.Status == model.StatusQueued:
			return j.Start(r.now())
		default:
			return j.InterruptStale(r.now())
		}
	})
	switch {
	case errors.Is(err, errAlreadyFinished):
		log.Info("job already finished, skipping redelivery")
		return nil
	case errors.Is(err, store.ErrNotFound):
		log.Warn("job not found or expired, dropping work item")
		return nil
	case err != nil:
		return fmt.Errorf("pick up job: %w", err)
	}
	log.Info("job started", "kind", job.Kind, "files", len(job.Files))

	if job.Status.Terminal() {
		r.finished(job)
		return nil
	}

	if err := r.collections.EnsureCollection(ctx, job.CollectionName); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("collection unavailable, failing job", "collection", job.CollectionName, "error", err)
		msg := "failed to prepare collection: " + err.Error()
		failed, uerr := r.store.Update(ctx, job.ID, func(j *model.Job) error {
			return j.FailJob(msg, r.now())
		})
		r.cleanupStaged(job.Files)
		if uerr != nil {
			if errors.Is(uerr, store.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("fail job: %w", uerr)
		}
		r.finished(failed)
		return nil
	}

	current := job
	for i, f := range job.Files {
		if f.Status != model.FilePending {
			continue
		}
		next, err := r.processFile(ctx, job, i)
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("job expired during processing, abandoning")
			r.cleanupStaged(job.Files[i:])
			return nil
		}
		if err != nil {
			return err
		}
		current = next
	}

	r.finished(current)
	return nil
}

func (r *Runner) processFile(ctx context.Context, job *model.Job, i int) (*model.Job, error) {
	f := job.Files[i]
	log := r.log().With("job_id", job.ID, "file", f.Name)

	if _, err := r.store.Update(ctx, job.ID, func(j *model.Job) error {
		return j.StartFile(i, r.now())
	}); err != nil {
		return nil, err
	}

	fileCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	abandoned := false
	emit := func(u model.ProgressUpdate) {
		if abandoned {
			return
		}
		_, err := r.store.Update(fileCtx, job.ID, func(j *model.Job) error {
			return j.ApplyProgress(u)
		})
		switch {
		case errors.Is(err, store.ErrNotFound):
			abandoned = true
			cancel()
		case err != nil && fileCtx.Err() == nil:
			log.Warn("progress update failed", "step", u.Step, "error", err)
		}
	}

	res := r.processor.Run(fileCtx, model.FileInput{
		JobID:          job.ID,
		FileIndex:      i,
		Name:           f.Name,
		FileType:       f.FileType,
		StagedKey:      f.StagedKey,
		CollectionName: job.CollectionName,
	}, emit)

	if abandoned {
		return nil, store.ErrNotFound
	}
	if ctx.Err() != nil {
		// Shutdown: leave the file processing so redelivery fails it
		// explicitly instead of recording a cancellation as its outcome.
		return nil, ctx.Err()
	}

	updated, err := r.store.Update(ctx, job.ID, func(j *model.Job) error {
		return j.FinishFile(i, res, r.now())
	})
	r.deleteStaged(f.StagedKey)
	if err != nil {
		return nil, err
	}

	done := updated.Files[i]
	metrics.RecordFileFinished(string(done.Status), done.Progress.TotalChunks)
	if done.Status == model.FileCompleted {
		log.Info("file completed", "chunks", done.Progress.TotalChunks)
	} else {
		log.Warn("file failed", "error", done.Error)
	}
	return updated, nil
}

func (r *Runner) finished(job *model.Job) {
	if job == nil || !job.Status.Terminal() {
		return
	}
	metrics.RecordJobFinished(string(job.Kind), string(job.Status))
	attrs := []any{"status", job.Status}
	if job.Metadata != nil {
		attrs = append(attrs,
			"successful_files", job.Metadata.SuccessfulFiles,
			"failed_files", job.Metadata.FailedFiles,
			"chunks", job.Metadata.ChunksCount,
			"processing_time_seconds", job.Metadata.ProcessingTimeSeconds,
		)
	}
	r.log().With("job_id", job.ID).Info("job finished", attrs...)
}

func (r *Runner) cleanupStaged(files []model.FileTask) {
	for _, f := range files {
		r.deleteStaged(f.StagedKey)
	}
}

func (r *Runner) deleteStaged(key string) {
	if r.stager == nil || key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.stager.Delete(ctx, key); err != nil {
		r.log().Warn("failed to delete staged upload", "key", key, "error", err)
	}
}
