package model

// ProgressUpdate is emitted by the pipeline and applied to the job record
// by the runner that owns the job.
type ProgressUpdate struct {
	JobID           string
	FileIndex       int
	Step            Step
	Percentage      float64
	ChunksProcessed int
	TotalChunks     int
}

// FileInput is what the pipeline needs to process one staged file.
type FileInput struct {
	JobID          string
	FileIndex      int
	Name           string
	FileType       string
	StagedKey      string
	CollectionName string
}

// FileResult is the outcome of processing one file: either Ok with a
// chunk count, or a failure carrying the reason.
type FileResult struct {
	Chunks     int
	TextLength int
	Err        error
}

func Ok(chunks, textLength int) FileResult {
	return FileResult{Chunks: chunks, TextLength: textLength}
}

func Failed(err error) FileResult {
	return FileResult{Err: err}
}

func (r FileResult) OK() bool { return r.Err == nil }

// Reason is the failure message, or "" for a successful result.
func (r FileResult) Reason() string {
	if r.Err == nil {
		return ""
	}
	if msg := r.Err.Error(); msg != "" {
		return msg
	}
	return "unknown error"
}
