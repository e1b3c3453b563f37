package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"docflow/internal/model"
	"docflow/internal/store"
)

// ErrJobNotFound covers unknown, expired and malformed job ids alike.
var ErrJobNotFound = errors.New("job not found")

// JobView is the client-facing representation of a job: *SingleJobView or
// *BatchJobView.
type JobView interface {
	Kind() model.Kind
}

// SingleJobView flattens the one file of a single job into the job.
type SingleJobView struct {
	JobID          string          `json:"job_id"`
	IsBatch        bool            `json:"is_batch"`
	Status         model.Status    `json:"status"`
	FileName       string          `json:"file_name"`
	FileType       string          `json:"file_type"`
	CollectionName string          `json:"collection_name"`
	Progress       model.Progress  `json:"progress"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at"`
	Error          string          `json:"error,omitempty"`
	Metadata       *model.Metadata `json:"metadata,omitempty"`
}

func (*SingleJobView) Kind() model.Kind { return model.KindSingle }

type FileView struct {
	Name        string           `json:"name"`
	FileType    string           `json:"file_type"`
	Size        int64            `json:"size"`
	Status      model.FileStatus `json:"status"`
	Progress    model.Progress   `json:"progress"`
	TextLength  int              `json:"text_length,omitempty"`
	Error       string           `json:"error,omitempty"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// BatchJobView carries the batch counters at the top level next to the
// per-file list.
type BatchJobView struct {
	JobID          string       `json:"job_id"`
	IsBatch        bool         `json:"is_batch"`
	Status         model.Status `json:"status"`
	CollectionName string       `json:"collection_name"`
	model.BatchProgress
	Files       []FileView      `json:"files"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at"`
	Error       string          `json:"error,omitempty"`
	Metadata    *model.Metadata `json:"metadata,omitempty"`
}

func (*BatchJobView) Kind() model.Kind { return model.KindBatch }

// StatusService answers job-status queries. It only reads: every call goes
// to the store and nothing is cached.
type StatusService interface {
	Get(ctx context.Context, id string) (JobView, error)
}

type statusService struct {
	store store.JobStore
}

func NewStatusService(st store.JobStore) StatusService {
	return &statusService{store: st}
}

func (s *statusService) Get(ctx context.Context, id string) (JobView, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrJobNotFound
	}
	job, err := s.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return NewJobView(job), nil
}

// NewJobView builds the view of job from stored fields only, so two reads
// of an unchanged record serialize identically.
func NewJobView(job *model.Job) JobView {
	if !job.IsBatch() {
		v := &SingleJobView{
			JobID:          job.ID,
			Status:         job.Status,
			CollectionName: job.CollectionName,
			CreatedAt:      job.CreatedAt,
			StartedAt:      job.StartedAt,
			CompletedAt:    job.CompletedAt,
			Error:          job.Error,
			Metadata:       job.Metadata,
		}
		if len(job.Files) > 0 {
			f := job.Files[0]
			v.FileName = f.Name
			v.FileType = f.FileType
			v.Progress = f.Progress
		}
		return v
	}

	v := &BatchJobView{
		JobID:          job.ID,
		IsBatch:        true,
		Status:         job.Status,
		CollectionName: job.CollectionName,
		Files:          make([]FileView, len(job.Files)),
		CreatedAt:      job.CreatedAt,
		StartedAt:      job.StartedAt,
		CompletedAt:    job.CompletedAt,
		Error:          job.Error,
		Metadata:       job.Metadata,
	}
	if job.Batch != nil {
		v.BatchProgress = *job.Batch
	} else {
		v.BatchProgress = *model.BuildBatchProgress(job.Files)
	}
	for i, f := range job.Files {
		v.Files[i] = FileView{
			Name:        f.Name,
			FileType:    f.FileType,
			Size:        f.Size,
			Status:      f.Status,
			Progress:    f.Progress,
			TextLength:  f.TextLength,
			Error:       f.Error,
			StartedAt:   f.StartedAt,
			CompletedAt: f.CompletedAt,
		}
	}
	return v
}
