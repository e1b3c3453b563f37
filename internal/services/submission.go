package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"docflow/internal/config"
	"docflow/internal/metrics"
	"docflow/internal/model"
	"docflow/internal/queue"
	"docflow/internal/staging"
	"docflow/internal/store"
)

var (
	// ErrStoreUnavailable is returned when the job record could not be
	// written. Nothing from the submission is left behind.
	ErrStoreUnavailable = errors.New("job store unavailable")
	// ErrQueueUnavailable is returned when the work item could not be
	// enqueued. The job record and staged payloads are rolled back.
	ErrQueueUnavailable = errors.New("job queue unavailable")
)

// ValidationError reports a rejected submission. Message names the
// violated constraint and is safe to show to clients.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// FileBlob is one uploaded file. Open is called once, when the payload is
// staged.
type FileBlob struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// SubmitRequest is the transport-independent form of an upload. Batch is
// true for the multi-file endpoint.
type SubmitRequest struct {
	Files          []FileBlob
	CollectionName string
	Batch          bool
}

type SubmitResult struct {
	JobID          string
	Status         model.Status
	CollectionName string
	TotalFiles     int
}

// SubmissionService validates uploads, stages them and registers a queued
// job. It never runs the pipeline itself.
type SubmissionService interface {
	Submit(ctx context.Context, req *SubmitRequest) (*SubmitResult, error)
}

type submissionService struct {
	cfg    *config.Config
	store  store.JobStore
	queue  queue.Queue
	stager staging.Stager
	logger *slog.Logger
	newID  func() string
	now    func() time.Time
}

func NewSubmissionService(cfg *config.Config, st store.JobStore, q queue.Queue, stager staging.Stager, logger *slog.Logger) SubmissionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &submissionService{
		cfg:    cfg,
		store:  st,
		queue:  q,
		stager: stager,
		logger: logger,
		newID:  newJobID,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// newJobID returns a time-ordered UUIDv7, falling back to a random v4.
func newJobID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// FileType is the lower-cased extension of name without the dot, or "".
func FileType(name string) string {
	ext := path.Ext(strings.ReplaceAll(name, "\\", "/"))
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// DefaultCollectionName derives a collection name from a file name:
// base name without extension, lower-cased, spaces replaced by '_'.
func DefaultCollectionName(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.TrimSuffix(base, path.Ext(base))
	base = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(base), " ", "_"))
	if base == "" || base == "." || base == "/" {
		return "default_collection"
	}
	return base
}

func (s *submissionService) validate(req *SubmitRequest) error {
	up := s.cfg.Upload
	n := len(req.Files)
	if n == 0 {
		return invalid("No files provided")
	}
	if req.Batch {
		if n < up.MinBatchFiles {
			return invalid("Minimum %d files required for batch processing. Use /api/start-embedding for single files.", up.MinBatchFiles)
		}
		if n > up.MaxBatchFiles {
			return invalid("Maximum %d files allowed per batch", up.MaxBatchFiles)
		}
	} else if n > 1 {
		return invalid("Only one file can be submitted here. Use /api/start-embedding/batch for multiple files.")
	}

	allowed := make(map[string]bool, len(up.AllowedTypes))
	for _, t := range up.AllowedTypes {
		allowed[strings.ToLower(t)] = true
	}
	var total int64
	for _, f := range req.Files {
		if ft := FileType(f.Name); !allowed[ft] {
			return invalid("File type not allowed for '%s'. Allowed types: %s", f.Name, strings.Join(up.AllowedTypes, ", "))
		}
		if f.Size > up.MaxFileBytes() {
			return invalid("File '%s' exceeds maximum size of %dMB", f.Name, up.MaxFileSizeMB)
		}
		if f.Open == nil {
			return invalid("File '%s' has no content", f.Name)
		}
		total += f.Size
	}
	if req.Batch && total > up.MaxBatchBytes() {
		return invalid("Total batch size exceeds maximum of %dMB", up.MaxBatchSizeMB)
	}
	return nil
}

func (s *submissionService) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResult, error) {
	if req == nil {
		return nil, invalid("No files provided")
	}
	if err := s.validate(req); err != nil {
		return nil, err
	}

	collection := strings.TrimSpace(req.CollectionName)
	if collection == "" {
		collection = DefaultCollectionName(req.Files[0].Name)
	}
	kind := model.KindSingle
	if req.Batch {
		kind = model.KindBatch
	}

	id := s.newID()
	log := s.logger.With("job_id", id, "kind", kind)

	tasks := make([]model.FileTask, 0, len(req.Files))
	names := make([]string, 0, len(req.Files))
	var staged []string
	for i, f := range req.Files {
		key := staging.Key(id, i, f.Name)
		if err := s.stage(ctx, key, f); err != nil {
			s.unstage(staged)
			log.Error("failed to stage upload", "file", f.Name, "error", err)
			return nil, fmt.Errorf("%w: stage %s: %v", ErrStoreUnavailable, f.Name, err)
		}
		staged = append(staged, key)
		tasks = append(tasks, model.FileTask{
			Name:      f.Name,
			FileType:  FileType(f.Name),
			Size:      f.Size,
			StagedKey: key,
		})
		names = append(names, f.Name)
	}

	job := model.NewJob(id, kind, collection, tasks, s.now())
	if err := s.store.Create(ctx, job); err != nil {
		s.unstage(staged)
		log.Error("failed to create job", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := s.queue.Enqueue(ctx, queue.WorkRef{JobID: id, Files: names, EnqueuedAt: s.now()}); err != nil {
		// The id was never returned, so no client can have seen this record.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if derr := s.store.Delete(cleanupCtx, id); derr != nil {
			log.Warn("failed to roll back job record", "error", derr)
		}
		cancel()
		s.unstage(staged)
		log.Error("failed to enqueue job", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	metrics.RecordJobSubmitted(string(kind))
	log.Info("job queued", "files", len(tasks), "collection", collection)

	return &SubmitResult{
		JobID:          id,
		Status:         job.Status,
		CollectionName: collection,
		TotalFiles:     len(tasks),
	}, nil
}

func (s *submissionService) stage(ctx context.Context, key string, f FileBlob) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return s.stager.Put(ctx, key, rc, f.Size)
}

func (s *submissionService) unstage(keys []string) {
	if len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, key := range keys {
		if err := s.stager.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to remove staged upload", "key", key, "error", err)
		}
	}
}
