package model

import (
	"math"
	"time"
)

// Counts tallies files by outcome.
type Counts struct {
	Total      int
	Completed  int
	Failed     int
	Processing int
	Pending    int
}

// Processed is the number of files that reached a terminal state.
func (c Counts) Processed() int { return c.Completed + c.Failed }

// CountFiles tallies the files of a job.
func CountFiles(files []FileTask) Counts {
	c := Counts{Total: len(files)}
	for _, f := range files {
		switch f.Status {
		case FileCompleted:
			c.Completed++
		case FileFailed:
			c.Failed++
		case FileProcessing:
			c.Processing++
		default:
			c.Pending++
		}
	}
	return c
}

// OverallProgress weights each file equally:
//
//	100*processed/total + (current%/100)*(100/total)
//
// rounded to two decimals and clamped to [0,100].
func OverallProgress(files []FileTask) float64 {
	total := len(files)
	if total == 0 {
		return 0
	}
	share := 100 / float64(total)
	c := CountFiles(files)
	overall := float64(c.Processed()) * share
	if cur := currentFile(files); cur != nil {
		overall += cur.Progress.Percentage / 100 * share
	}
	return clamp(round2(overall), 0, 100)
}

// DeriveStatus returns the terminal status implied by the files, and false
// while any file is still pending or processing. A single job can never
// end up partially completed.
func DeriveStatus(kind Kind, files []FileTask) (Status, bool) {
	c := CountFiles(files)
	if c.Total == 0 || c.Processed() < c.Total {
		return "", false
	}
	switch {
	case c.Failed == 0:
		return StatusCompleted, true
	case c.Completed == 0:
		return StatusFailed, true
	case kind == KindSingle:
		return StatusFailed, true
	default:
		return StatusPartiallyCompleted, true
	}
}

// BuildBatchProgress derives the batch block from the files.
func BuildBatchProgress(files []FileTask) *BatchProgress {
	c := CountFiles(files)
	bp := &BatchProgress{
		ProcessedFiles:  c.Processed(),
		TotalFiles:      c.Total,
		OverallProgress: OverallProgress(files),
	}
	if cur := currentFile(files); cur != nil {
		p := cur.Progress
		bp.CurrentFile = cur.Name
		bp.CurrentFileProgress = &p
	}
	return bp
}

// BuildMetadata summarizes a job at the moment it becomes terminal.
func BuildMetadata(j *Job) *Metadata {
	c := CountFiles(j.Files)
	m := &Metadata{
		TotalFiles:      c.Total,
		SuccessfulFiles: c.Completed,
		FailedFiles:     c.Failed,
	}
	for _, f := range j.Files {
		if f.Status != FileCompleted {
			continue
		}
		m.ChunksCount += f.Progress.TotalChunks
		m.TextLength += f.TextLength
	}
	if j.CompletedAt != nil {
		start := j.CreatedAt
		if j.StartedAt != nil {
			start = *j.StartedAt
		}
		m.ProcessingTimeSeconds = durationSeconds(j.CompletedAt.Sub(start))
	}
	return m
}

func currentFile(files []FileTask) *FileTask {
	for i := range files {
		if files[i].Status == FileProcessing {
			return &files[i]
		}
	}
	return nil
}

func durationSeconds(d time.Duration) float64 {
	return math.Max(0, round2(d.Seconds()))
}
