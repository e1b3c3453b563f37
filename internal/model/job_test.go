package model

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newBatch(names ...string) *Job {
	files := make([]FileTask, len(names))
	for i, n := range names {
		files[i] = FileTask{Name: n, FileType: "pdf", Size: 10}
	}
	return NewJob("job-1", KindBatch, "docs", files, t0)
}

func TestNewJob_StartsQueued(t *testing.T) {
	j := newBatch("a.pdf", "b.pdf")
	if j.Status != StatusQueued {
		t.Fatalf("expected queued, got %s", j.Status)
	}
	if j.StartedAt != nil || j.CompletedAt != nil {
		t.Fatalf("expected no timestamps on a queued job")
	}
	for _, f := range j.Files {
		if f.Status != FilePending || f.Progress.Percentage != 0 || f.Progress.CurrentStep != StepQueued {
			t.Fatalf("expected pending file at 0%%, got %+v", f)
		}
	}
	if j.Batch == nil || j.Batch.TotalFiles != 2 || j.Batch.OverallProgress != 0 {
		t.Fatalf("unexpected batch progress %+v", j.Batch)
	}
}

func TestJob_StartOnlyOnce(t *testing.T) {
	j := newBatch("a.pdf", "b.pdf")
	if err := j.Start(t0); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := j.Start(t0.Add(time.Second)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on second start, got %v", err)
	}
	if !j.StartedAt.Equal(t0) {
		t.Fatalf("expected started_at to stay at first start, got %v", j.StartedAt)
	}
}

func TestApplyProgress_ClampsAndNeverDecreases(t *testing.T) {
	j := newBatch("a.pdf", "b.pdf")
	_ = j.Start(t0)
	_ = j.StartFile(0, t0)

	steps := []ProgressUpdate{
		{FileIndex: 0, Step: StepExtraction, Percentage: -5},
		{FileIndex: 0, Step: StepExtraction, Percentage: 25},
		{FileIndex: 0, Step: StepChunking, Percentage: 10, TotalChunks: 4},
		{FileIndex: 0, Step: StepEmbedding, Percentage: 70, ChunksProcessed: 2},
		{FileIndex: 0, Step: StepEmbedding, Percentage: 55, ChunksProcessed: 1},
		{FileIndex: 0, Step: StepExtraction, Percentage: 3},
		{FileIndex: 0, Step: StepStoring, Percentage: 250},
	}

	last := -1.0
	for _, u := range steps {
		if err := j.ApplyProgress(u); err != nil {
			t.Fatalf("ApplyProgress(%+v) error: %v", u, err)
		}
		p := j.Files[0].Progress
		if p.Percentage < 0 || p.Percentage > 100 {
			t.Fatalf("percentage out of bounds: %v", p.Percentage)
		}
		if p.Percentage < last {
			t.Fatalf("percentage decreased from %v to %v", last, p.Percentage)
		}
		lo, hi, _ := p.CurrentStep.Band()
		if p.Percentage < lo || p.Percentage > hi {
			t.Fatalf("percentage %v outside band of %s", p.Percentage, p.CurrentStep)
		}
		last = p.Percentage
	}

	p := j.Files[0].Progress
	if p.CurrentStep != StepStoring {
		t.Fatalf("expected storing step, got %s", p.CurrentStep)
	}
	if p.ChunksProcessed != 2 || p.TotalChunks != 4 {
		t.Fatalf("expected 2/4 chunks, got %d/%d", p.ChunksProcessed, p.TotalChunks)
	}
}

func TestApplyProgress_RejectsIdleFile(t *testing.T) {
	j := newBatch("a.pdf", "b.pdf")
	_ = j.Start(t0)
	err := j.ApplyProgress(ProgressUpdate{FileIndex: 1, Step: StepChunking, Percentage: 30})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for pending file, got %v", err)
	}
}

func TestStartFile_OneCurrentFile(t *testing.T) {
	j := newBatch("a.pdf", "b.pdf")
	_ = j.Start(t0)
	if err := j.StartFile(0, t0); err != nil {
		t.Fatalf("StartFile error: %v", err)
	}
	if err := j.StartFile(1, t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition while another file is processing, got %v", err)
	}
}

func TestFinishFile_BatchPartiallyCompleted(t *testing.T) {
	j := newBatch("A.pdf", "B.pdf", "C.pdf")
	_ = j.Start(t0)

	results := []FileResult{Ok(5, 100), Failed(errors.New("no text could be extracted")), Ok(3, 40)}
	for i, res := range results {
		if err := j.StartFile(i, t0); err != nil {
			t.Fatalf("StartFile(%d) error: %v", i, err)
		}
		if j.CompletedAt != nil {
			t.Fatalf("completed_at set before job is terminal")
		}
		if err := j.FinishFile(i, res, t0.Add(time.Duration(i+1)*time.Second)); err != nil {
			t.Fatalf("FinishFile(%d) error: %v", i, err)
		}
	}

	if j.Status != StatusPartiallyCompleted {
		t.Fatalf("expected partially_completed, got %s", j.Status)
	}
	if j.CompletedAt == nil {
		t.Fatalf("expected completed_at on terminal job")
	}
	if j.Batch.ProcessedFiles != 3 || j.Batch.OverallProgress != 100 {
		t.Fatalf("unexpected batch progress %+v", j.Batch)
	}
	m := j.Metadata
	if m == nil || m.SuccessfulFiles != 2 || m.FailedFiles != 1 || m.TotalFiles != 3 {
		t.Fatalf("unexpected metadata %+v", m)
	}
	if m.ChunksCount != 8 || m.TextLength != 140 {
		t.Fatalf("expected 8 chunks and 140 chars, got %d and %d", m.ChunksCount, m.TextLength)
	}
	if m.ProcessingTimeSeconds != 3 {
		t.Fatalf("expected 3s processing time, got %v", m.ProcessingTimeSeconds)
	}
	if j.Files[1].Error == "" || j.Files[1].Status != FileFailed {
		t.Fatalf("expected B to be failed with a reason, got %+v", j.Files[1])
	}
	if j.Error != "" {
		t.Fatalf("expected no job-level error on a partial batch, got %q", j.Error)
	}
}

func TestFinishFile_ZeroChunksIsFailure(t *testing.T) {
	j := NewJob("job-2", KindSingle, "docs", []FileTask{{Name: "a.pdf", FileType: "pdf"}}, t0)
	_ = j.Start(t0)
	_ = j.StartFile(0, t0)
	if err := j.FinishFile(0, Ok(0, 10), t0); err != nil {
		t.Fatalf("FinishFile error: %v", err)
	}
	if j.Files[0].Status != FileFailed {
		t.Fatalf("expected zero-chunk file to fail, got %s", j.Files[0].Status)
	}
	if j.Status != StatusFailed || j.Error == "" {
		t.Fatalf("expected failed single job with error, got %s %q", j.Status, j.Error)
	}
}

func TestFinishFile_CompletedHasFullChunks(t *testing.T) {
	j := NewJob("job-3", KindSingle, "docs", []FileTask{{Name: "a.pdf", FileType: "pdf"}}, t0)
	_ = j.Start(t0)
	_ = j.StartFile(0, t0)
	_ = j.ApplyProgress(ProgressUpdate{Step: StepEmbedding, Percentage: 60, ChunksProcessed: 1, TotalChunks: 3})
	if err := j.FinishFile(0, Ok(3, 900), t0); err != nil {
		t.Fatalf("FinishFile error: %v", err)
	}
	p := j.Files[0].Progress
	if j.Status != StatusCompleted || p.Percentage != 100 || p.ChunksProcessed != 3 || p.TotalChunks != 3 {
		t.Fatalf("unexpected completed state: %s %+v", j.Status, p)
	}
	if j.Batch != nil {
		t.Fatalf("single jobs carry no batch block")
	}
}

func TestFinishFile_TerminalIsFinal(t *testing.T) {
	j := NewJob("job-4", KindSingle, "docs", []FileTask{{Name: "a.pdf", FileType: "pdf"}}, t0)
	_ = j.Start(t0)
	_ = j.StartFile(0, t0)
	_ = j.FinishFile(0, Ok(1, 1), t0)

	if err := j.FinishFile(0, Failed(errors.New("late")), t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition after terminal, got %v", err)
	}
	if err := j.FailJob("late", t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on FailJob after terminal, got %v", err)
	}
	if j.Status != StatusCompleted {
		t.Fatalf("terminal status changed to %s", j.Status)
	}
}

func TestFailJob_BeforeAnyFile(t *testing.T) {
	j := newBatch("a.pdf", "b.pdf")
	_ = j.Start(t0)
	if err := j.FailJob("vector store unavailable", t0); err != nil {
		t.Fatalf("FailJob error: %v", err)
	}
	if j.Status != StatusFailed || j.Error != "vector store unavailable" || j.CompletedAt == nil {
		t.Fatalf("unexpected failed job %+v", j)
	}
	for _, f := range j.Files {
		if f.Status != FilePending {
			t.Fatalf("expected files untouched, got %s", f.Status)
		}
	}
}

func TestInterruptStale_FailsProcessingFile(t *testing.T) {
	j := newBatch("a.pdf", "b.pdf")
	_ = j.Start(t0)
	_ = j.StartFile(0, t0)
	if err := j.InterruptStale(t0); err != nil {
		t.Fatalf("InterruptStale error: %v", err)
	}
	if j.Files[0].Status != FileFailed || j.Files[0].Error != ErrWorkerInterrupted {
		t.Fatalf("expected interrupted file, got %+v", j.Files[0])
	}
	if j.Files[1].Status != FilePending || j.Status != StatusProcessing {
		t.Fatalf("expected remaining work to continue, got %s / %s", j.Files[1].Status, j.Status)
	}
}

func TestClone_IsDeep(t *testing.T) {
	j := newBatch("a.pdf", "b.pdf")
	_ = j.Start(t0)
	_ = j.StartFile(0, t0)
	c := j.Clone()
	c.Files[0].Progress.Percentage = 99
	*c.StartedAt = t0.Add(time.Hour)
	c.Batch.CurrentFileProgress.Percentage = 42
	if j.Files[0].Progress.Percentage != 0 || !j.StartedAt.Equal(t0) || j.Batch.CurrentFileProgress.Percentage != 0 {
		t.Fatalf("clone shares state with original")
	}
}

func TestExpired(t *testing.T) {
	j := newBatch("a.pdf", "b.pdf")
	if j.Expired(24*time.Hour, t0.Add(23*time.Hour)) {
		t.Fatalf("job should not be expired before the ttl")
	}
	if !j.Expired(24*time.Hour, t0.Add(24*time.Hour)) {
		t.Fatalf("job should be expired at the ttl")
	}
}
