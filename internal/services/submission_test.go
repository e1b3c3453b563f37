package services

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"docflow/internal/config"
	"docflow/internal/model"
	"docflow/internal/queue"
	"docflow/internal/staging"
	"docflow/internal/store"
)

const fixedID = "0192f3a1-7c1e-7d2a-9b1c-3f4e5a6b7c8d"

type brokenQueue struct{}

func (brokenQueue) Enqueue(context.Context, queue.WorkRef) error { return errors.New("broker down") }
func (brokenQueue) Dequeue(ctx context.Context) (*queue.Delivery, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (brokenQueue) Ping(context.Context) error { return errors.New("broker down") }
func (brokenQueue) Close() error               { return nil }

type brokenStore struct{ store.JobStore }

func (brokenStore) Create(context.Context, *model.Job) error { return errors.New("connection refused") }

type submitFixture struct {
	svc      *submissionService
	store    *store.Memory
	queue    *queue.Memory
	stageDir string
}

func newSubmitFixture(t *testing.T) *submitFixture {
	t.Helper()
	dir := t.TempDir()
	st := store.NewMemory(24*time.Hour, nil)
	q := queue.NewMemory(16)
	svc := NewSubmissionService(config.Default(), st, q, staging.NewLocal(dir), nil).(*submissionService)
	svc.newID = func() string { return fixedID }
	return &submitFixture{svc: svc, store: st, queue: q, stageDir: dir}
}

func blob(name string, size int) FileBlob {
	body := strings.Repeat("x", size)
	return FileBlob{
		Name: name,
		Size: int64(size),
		Open: func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(body)), nil },
	}
}

func stagedFiles(t *testing.T, dir string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk staging dir: %v", err)
	}
	return n
}

func TestSubmit_SingleFile(t *testing.T) {
	f := newSubmitFixture(t)
	res, err := f.svc.Submit(context.Background(), &SubmitRequest{Files: []FileBlob{blob("Quarterly Report.pdf", 10)}})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if res.JobID != fixedID || res.Status != model.StatusQueued || res.TotalFiles != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.CollectionName != "quarterly_report" {
		t.Fatalf("expected default collection quarterly_report, got %q", res.CollectionName)
	}

	job, err := f.store.Get(context.Background(), fixedID)
	if err != nil {
		t.Fatalf("expected stored job, got %v", err)
	}
	if job.Kind != model.KindSingle || job.Status != model.StatusQueued || job.Files[0].FileType != "pdf" {
		t.Fatalf("unexpected stored job: %+v", job)
	}
	if f.queue.Len() != 1 {
		t.Fatalf("expected one queued work item, got %d", f.queue.Len())
	}
	if stagedFiles(t, f.stageDir) != 1 {
		t.Fatalf("expected one staged payload")
	}
}

func TestSubmit_BatchKeepsCollectionName(t *testing.T) {
	f := newSubmitFixture(t)
	res, err := f.svc.Submit(context.Background(), &SubmitRequest{
		Batch:          true,
		CollectionName: "course-101",
		Files:          []FileBlob{blob("a.pdf", 3), blob("b.PPTX", 3), blob("c.pdf", 3)},
	})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if res.TotalFiles != 3 || res.CollectionName != "course-101" {
		t.Fatalf("unexpected result: %+v", res)
	}
	job, _ := f.store.Get(context.Background(), fixedID)
	if job.Batch == nil || job.Batch.TotalFiles != 3 || job.Batch.OverallProgress != 0 {
		t.Fatalf("expected fresh batch progress, got %+v", job.Batch)
	}
	if job.Files[1].FileType != "pptx" {
		t.Fatalf("expected lower-cased file type, got %q", job.Files[1].FileType)
	}
}

func TestSubmit_ValidationWritesNothing(t *testing.T) {
	files := func(n int) []FileBlob {
		out := make([]FileBlob, n)
		for i := range out {
			out[i] = blob("doc.pdf", 1)
		}
		return out
	}
	cases := []struct {
		name string
		req  SubmitRequest
		want string
	}{
		{"no files", SubmitRequest{}, "No files provided"},
		{"batch of one", SubmitRequest{Batch: true, Files: files(1)}, "Minimum 2 files required for batch processing. Use /api/start-embedding for single files."},
		{"batch of eleven", SubmitRequest{Batch: true, Files: files(11)}, "Maximum 10 files allowed per batch"},
		{"bad type", SubmitRequest{Files: []FileBlob{blob("notes.docx", 1)}}, "File type not allowed for 'notes.docx'. Allowed types: pdf, pptx"},
		{"too large", SubmitRequest{Files: []FileBlob{{Name: "big.pdf", Size: 51 << 20, Open: blob("big.pdf", 0).Open}}}, "File 'big.pdf' exceeds maximum size of 50MB"},
		{"batch too large", SubmitRequest{Batch: true, Files: []FileBlob{
			{Name: "a.pdf", Size: 45 << 20, Open: blob("a.pdf", 0).Open},
			{Name: "b.pdf", Size: 45 << 20, Open: blob("b.pdf", 0).Open},
			{Name: "c.pdf", Size: 45 << 20, Open: blob("c.pdf", 0).Open},
			{Name: "d.pdf", Size: 45 << 20, Open: blob("d.pdf", 0).Open},
			{Name: "e.pdf", Size: 45 << 20, Open: blob("e.pdf", 0).Open},
		}}, "Total batch size exceeds maximum of 200MB"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			f := newSubmitFixture(t)
			req := tc.req
			_, err := f.svc.Submit(context.Background(), &req)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Message != tc.want {
				t.Fatalf("expected message %q, got %q", tc.want, ve.Message)
			}
			if _, err := f.store.Get(context.Background(), fixedID); !errors.Is(err, store.ErrNotFound) {
				t.Fatalf("expected no job record, got %v", err)
			}
			if f.queue.Len() != 0 || stagedFiles(t, f.stageDir) != 0 {
				t.Fatalf("expected nothing queued or staged")
			}
		})
	}
}

func TestSubmit_QueueFailureRollsBack(t *testing.T) {
	f := newSubmitFixture(t)
	f.svc.queue = brokenQueue{}

	_, err := f.svc.Submit(context.Background(), &SubmitRequest{Batch: true, Files: []FileBlob{blob("a.pdf", 4), blob("b.pdf", 4)}})
	if !errors.Is(err, ErrQueueUnavailable) {
		t.Fatalf("expected ErrQueueUnavailable, got %v", err)
	}
	if _, err := f.store.Get(context.Background(), fixedID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected job record rolled back, got %v", err)
	}
	if n := stagedFiles(t, f.stageDir); n != 0 {
		t.Fatalf("expected staged payloads removed, found %d", n)
	}
}

func TestSubmit_StoreFailure(t *testing.T) {
	f := newSubmitFixture(t)
	f.svc.store = brokenStore{JobStore: f.store}

	_, err := f.svc.Submit(context.Background(), &SubmitRequest{Files: []FileBlob{blob("a.pdf", 4)}})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if f.queue.Len() != 0 || stagedFiles(t, f.stageDir) != 0 {
		t.Fatalf("expected nothing queued or staged")
	}
}

func TestDefaultCollectionName(t *testing.T) {
	cases := map[string]string{
		"Lecture Notes.pdf":   "lecture_notes",
		"dir/Week 1.pptx":     "week_1",
		"archive.tar.pdf":     "archive.tar",
		".pdf":                "default_collection",
		`C:\Users\me\Doc.pdf`: "doc",
	}
	for in, want := range cases {
		if got := DefaultCollectionName(in); got != want {
			t.Fatalf("DefaultCollectionName(%q) = %q, want %q", in, got, want)
		}
	}
}
