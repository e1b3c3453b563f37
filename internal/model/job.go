package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidTransition is returned when a lifecycle method is called on a
// job or file that is not in a state that allows it.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrWorkerInterrupted is the failure recorded for files that were still
// processing when their job was redelivered to a new worker.
const ErrWorkerInterrupted = "worker interrupted"

// Progress is the per-file progress snapshot shown to clients.
type Progress struct {
	CurrentStep     Step    `json:"current_step"`
	Percentage      float64 `json:"percentage"`
	ChunksProcessed int     `json:"chunks_processed"`
	TotalChunks     int     `json:"total_chunks"`
}

// FileTask is one uploaded file inside a job.
type FileTask struct {
	Name        string     `json:"name"`
	FileType    string     `json:"file_type"`
	Size        int64      `json:"size"`
	StagedKey   string     `json:"staged_key"`
	Status      FileStatus `json:"status"`
	Progress    Progress   `json:"progress"`
	TextLength  int        `json:"text_length"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// BatchProgress is the aggregate view of a job's files. It is derived from
// Files and recomputed on every mutation.
type BatchProgress struct {
	ProcessedFiles      int       `json:"processed_files"`
	TotalFiles          int       `json:"total_files"`
	CurrentFile         string    `json:"current_file,omitempty"`
	CurrentFileProgress *Progress `json:"current_file_progress,omitempty"`
	OverallProgress     float64   `json:"overall_progress"`
}

// Metadata summarizes a finished job.
type Metadata struct {
	ChunksCount           int     `json:"chunks_count"`
	TextLength            int     `json:"text_length"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
	TotalFiles            int     `json:"total_files"`
	SuccessfulFiles       int     `json:"successful_files"`
	FailedFiles           int     `json:"failed_files"`
}

// Job is the persisted record for one submission.
type Job struct {
	ID             string         `json:"id"`
	Kind           Kind           `json:"kind"`
	Status         Status         `json:"status"`
	CollectionName string         `json:"collection_name"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	Files          []FileTask     `json:"files"`
	Batch          *BatchProgress `json:"batch,omitempty"`
	Error          string         `json:"error,omitempty"`
	Metadata       *Metadata      `json:"metadata,omitempty"`
}

// NewJob builds a queued job. Every file starts pending at 0%.
func NewJob(id string, kind Kind, collection string, files []FileTask, now time.Time) *Job {
	tasks := make([]FileTask, len(files))
	for i, f := range files {
		f.Status = FilePending
		f.Progress = Progress{CurrentStep: StepQueued}
		f.Error = ""
		f.StartedAt = nil
		f.CompletedAt = nil
		tasks[i] = f
	}
	j := &Job{
		ID:             id,
		Kind:           kind,
		Status:         StatusQueued,
		CollectionName: collection,
		CreatedAt:      now.UTC(),
		Files:          tasks,
	}
	j.recompute()
	return j
}

// IsBatch reports whether the job was submitted through the batch path.
func (j *Job) IsBatch() bool { return j.Kind == KindBatch }

// Expired reports whether the job is past its retention window.
func (j *Job) Expired(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return !j.CreatedAt.After(now.Add(-ttl))
}

// Start moves a queued job to processing.
func (j *Job) Start(now time.Time) error {
	if j.Status != StatusQueued {
		return fmt.Errorf("%w: start job in status %s", ErrInvalidTransition, j.Status)
	}
	t := now.UTC()
	j.Status = StatusProcessing
	j.StartedAt = &t
	j.recompute()
	return nil
}

// StartFile marks file i as the current file.
func (j *Job) StartFile(i int, now time.Time) error {
	f, err := j.file(i)
	if err != nil {
		return err
	}
	if j.Status != StatusProcessing {
		return fmt.Errorf("%w: start file in job status %s", ErrInvalidTransition, j.Status)
	}
	if f.Status != FilePending {
		return fmt.Errorf("%w: start file in status %s", ErrInvalidTransition, f.Status)
	}
	for k := range j.Files {
		if k != i && j.Files[k].Status == FileProcessing {
			return fmt.Errorf("%w: file %q is already processing", ErrInvalidTransition, j.Files[k].Name)
		}
	}
	t := now.UTC()
	f.Status = FileProcessing
	f.StartedAt = &t
	f.Progress = Progress{CurrentStep: StepExtraction}
	j.recompute()
	return nil
}

// ApplyProgress folds a pipeline progress event into the file it names.
// Percentages are clamped into the band of the reported step and never
// move backwards; a step that is behind the current one is ignored.
func (j *Job) ApplyProgress(u ProgressUpdate) error {
	f, err := j.file(u.FileIndex)
	if err != nil {
		return err
	}
	if f.Status != FileProcessing {
		return fmt.Errorf("%w: progress for file in status %s", ErrInvalidTransition, f.Status)
	}
	lo, hi, ok := u.Step.Band()
	if !ok || u.Step == StepCompleted || u.Step == StepQueued {
		return fmt.Errorf("%w: progress step %q", ErrInvalidTransition, u.Step)
	}

	p := f.Progress
	if u.Step.order() >= p.CurrentStep.order() {
		p.CurrentStep = u.Step
	} else {
		lo, hi, _ = p.CurrentStep.Band()
	}
	pct := clamp(u.Percentage, lo, hi)
	if pct < p.Percentage {
		pct = p.Percentage
	}
	p.Percentage = round2(pct)

	if u.TotalChunks > 0 {
		p.TotalChunks = u.TotalChunks
	}
	if u.ChunksProcessed > p.ChunksProcessed {
		p.ChunksProcessed = u.ChunksProcessed
	}
	if p.TotalChunks > 0 && p.ChunksProcessed > p.TotalChunks {
		p.ChunksProcessed = p.TotalChunks
	}
	f.Progress = p
	j.recompute()
	return nil
}

// FinishFile records the pipeline outcome for file i. When it was the
// last unfinished file the job becomes terminal in the same call.
func (j *Job) FinishFile(i int, res FileResult, now time.Time) error {
	f, err := j.file(i)
	if err != nil {
		return err
	}
	if f.Status != FileProcessing {
		return fmt.Errorf("%w: finish file in status %s", ErrInvalidTransition, f.Status)
	}
	t := now.UTC()
	f.CompletedAt = &t

	if res.OK() && res.Chunks > 0 {
		f.Status = FileCompleted
		f.TextLength = res.TextLength
		f.Error = ""
		f.Progress = Progress{
			CurrentStep:     StepCompleted,
			Percentage:      100,
			ChunksProcessed: res.Chunks,
			TotalChunks:     res.Chunks,
		}
	} else {
		msg := res.Reason()
		if res.OK() {
			msg = "no chunks were produced"
		}
		f.Status = FileFailed
		f.Error = msg
		f.Progress.CurrentStep = StepFailed
	}

	j.recompute()
	if status, done := DeriveStatus(j.Kind, j.Files); done {
		j.finish(status, now)
		if j.Kind == KindSingle && status == StatusFailed {
			j.Error = j.Files[0].Error
		}
	}
	return nil
}

// FailJob fails the whole job. Files still processing fail with the same
// message; pending files are left untouched.
func (j *Job) FailJob(msg string, now time.Time) error {
	if j.Status.Terminal() {
		return fmt.Errorf("%w: fail job in status %s", ErrInvalidTransition, j.Status)
	}
	if msg == "" {
		msg = "job failed"
	}
	t := now.UTC()
	for k := range j.Files {
		f := &j.Files[k]
		if f.Status == FileProcessing {
			f.Status = FileFailed
			f.Error = msg
			f.Progress.CurrentStep = StepFailed
			f.CompletedAt = &t
		}
	}
	if j.StartedAt == nil {
		j.StartedAt = &t
	}
	j.recompute()
	j.Error = msg
	j.finish(StatusFailed, now)
	return nil
}

// InterruptStale fails files left processing by a previous worker. It is
// used when a processing job is delivered again.
func (j *Job) InterruptStale(now time.Time) error {
	if j.Status != StatusProcessing {
		return fmt.Errorf("%w: interrupt job in status %s", ErrInvalidTransition, j.Status)
	}
	for k := range j.Files {
		if j.Files[k].Status == FileProcessing {
			if err := j.FinishFile(k, Failed(errors.New(ErrWorkerInterrupted)), now); err != nil {
				return err
			}
		}
	}
	return nil
}

func (j *Job) finish(status Status, now time.Time) {
	t := now.UTC()
	j.Status = status
	j.CompletedAt = &t
	j.Metadata = BuildMetadata(j)
}

func (j *Job) file(i int) (*FileTask, error) {
	if i < 0 || i >= len(j.Files) {
		return nil, fmt.Errorf("%w: file index %d out of range", ErrInvalidTransition, i)
	}
	return &j.Files[i], nil
}

func (j *Job) recompute() {
	if j.Kind == KindBatch {
		j.Batch = BuildBatchProgress(j.Files)
	} else {
		j.Batch = nil
	}
}

// Clone returns a deep copy so stores never hand out shared state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.StartedAt = cloneTime(j.StartedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	c.Files = make([]FileTask, len(j.Files))
	for i, f := range j.Files {
		f.StartedAt = cloneTime(f.StartedAt)
		f.CompletedAt = cloneTime(f.CompletedAt)
		c.Files[i] = f
	}
	if j.Batch != nil {
		b := *j.Batch
		if b.CurrentFileProgress != nil {
			p := *b.CurrentFileProgress
			b.CurrentFileProgress = &p
		}
		c.Batch = &b
	}
	if j.Metadata != nil {
		m := *j.Metadata
		c.Metadata = &m
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
