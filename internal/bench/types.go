// Package bench drives a batch of audio samples through the catalog, the
// active transcription engine, and the results service, tracking per-item
// progress and aggregate accuracy.
package bench

import (
	"time"
)

// State is the top-level run state. Exactly one value exists at a time; it
// is the single source of truth for what stage the run is in.
type State string

const (
	StateIdle            State = "idle"
	StateFetchingCatalog State = "fetching_catalog"
	StateProcessing      State = "processing"
	StateCompleted       State = "completed"
	StateError           State = "error"
)

// Phase is the sub-stage within StateProcessing for the current item.
type Phase string

const (
	PhaseDownloading  Phase = "downloading"
	PhaseTranscribing Phase = "transcribing"
	PhaseUploading    Phase = "uploading"
)

// FileStatus tracks one catalog item's progress. Transitions are monotonic
// forward; error is terminal for the item.
type FileStatus string

const (
	FileStatusPending      FileStatus = "pending"
	FileStatusDownloading  FileStatus = "downloading"
	FileStatusTranscribing FileStatus = "transcribing"
	FileStatusUploading    FileStatus = "uploading"
	FileStatusCompleted    FileStatus = "completed"
	FileStatusError        FileStatus = "error"
)

// ItemResult is the mutable per-item record. Owned exclusively by the
// orchestrator; observers receive copies.
type ItemResult struct {
	ID             string        `json:"id"`
	FileName       string        `json:"file_name"`
	Status         FileStatus    `json:"status"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	ProcessingTime time.Duration `json:"processing_time"`
	Transcript     string        `json:"transcript,omitempty"`
	CER            *float64      `json:"cer,omitempty"`
}

// Summary aggregates a completed run. AverageCER is nil (not zero) when no
// item produced a rate.
type Summary struct {
	Items               int           `json:"items"`
	Completed           int           `json:"completed"`
	TotalProcessingTime time.Duration `json:"total_processing_time"`
	AverageCER          *float64      `json:"average_cer,omitempty"`
}

// Snapshot is a read-only copy of run state for observers. Any read may
// observe a value mid-run; no read-modify-write contract is offered.
type Snapshot struct {
	State   State        `json:"state"`
	Current int          `json:"current,omitempty"` // 1-based, processing only
	Total   int          `json:"total,omitempty"`
	Phase   Phase        `json:"phase,omitempty"`
	Message string       `json:"message,omitempty"` // error description
	Results []ItemResult `json:"results,omitempty"`
	Summary *Summary     `json:"summary,omitempty"`
}

// summarize computes the run summary once, at completion: total processing
// time over all items, mean CER over only the items that produced one.
func summarize(results []*ItemResult) *Summary {
	s := &Summary{Items: len(results)}

	var cerSum float64
	var cerCount int
	for _, r := range results {
		s.TotalProcessingTime += r.ProcessingTime
		if r.Status == FileStatusCompleted {
			s.Completed++
		}
		if r.CER != nil {
			cerSum += *r.CER
			cerCount++
		}
	}
	if cerCount > 0 {
		mean := cerSum / float64(cerCount)
		s.AverageCER = &mean
	}
	return s
}
