package model

// Status is the lifecycle state of a job. These values are part of the
// public status payload, so they must not change.
type Status string

const (
	StatusQueued             Status = "queued"
	StatusProcessing         Status = "processing"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
	StatusPartiallyCompleted Status = "partially_completed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusPartiallyCompleted:
		return true
	}
	return false
}

// FileStatus is the lifecycle state of one file inside a job.
type FileStatus string

const (
	FilePending    FileStatus = "pending"
	FileProcessing FileStatus = "processing"
	FileCompleted  FileStatus = "completed"
	FileFailed     FileStatus = "failed"
)

func (s FileStatus) Terminal() bool {
	return s == FileCompleted || s == FileFailed
}

// Kind distinguishes single-file submissions from batches.
type Kind string

const (
	KindSingle Kind = "single"
	KindBatch  Kind = "batch"
)

// Step names the pipeline stage a file is currently in.
type Step string

const (
	StepQueued     Step = "queued"
	StepExtraction Step = "text_extraction"
	StepChunking   Step = "chunking"
	StepEmbedding  Step = "generating_embeddings"
	StepStoring    Step = "storing"
	StepCompleted  Step = "completed"
	StepFailed     Step = "failed"
)

// stepBand is the percentage range a step may report. Keeping every
// reported percentage inside the band of its step means a reader never
// sees a step name that disagrees with the percentage.
type stepBand struct {
	order    int
	min, max float64
}

var stepBands = map[Step]stepBand{
	StepQueued:     {order: 0, min: 0, max: 0},
	StepExtraction: {order: 1, min: 0, max: 25},
	StepChunking:   {order: 2, min: 25, max: 50},
	StepEmbedding:  {order: 3, min: 50, max: 90},
	StepStoring:    {order: 4, min: 90, max: 99.99},
	StepCompleted:  {order: 5, min: 100, max: 100},
}

// Band returns the percentage range for a step and whether it is known.
func (s Step) Band() (min, max float64, ok bool) {
	b, ok := stepBands[s]
	return b.min, b.max, ok
}

func (s Step) order() int {
	if b, ok := stepBands[s]; ok {
		return b.order
	}
	return -1
}
