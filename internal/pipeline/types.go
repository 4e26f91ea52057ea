package pipeline

import (
	"time"

	"github.com/fyrsmithlabs/neuroprep/internal/stages"
)

// Status is the terminal state of a processed artifact.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// StageSummary captures one stage's contribution to a FileOutcome.
type StageSummary struct {
	Duration time.Duration `json:"duration"`

	// Load
	FileSizeBytes int64 `json:"file_size_bytes,omitempty"`

	// Process
	Steps []string `json:"steps,omitempty"`

	// Write
	OutputPath       string  `json:"output_path,omitempty"`
	OutputSizeBytes  int64   `json:"output_size_bytes,omitempty"`
	CompressionRatio float64 `json:"compression_ratio,omitempty"`
}

// FileOutcome is the full record of one artifact's run. It is created at
// the start of ProcessFile, finalized exactly once, and immutable after.
type FileOutcome struct {
	Input         string                  `json:"input"`
	Status        Status                  `json:"status"`
	Stages        map[string]StageSummary `json:"stages"`
	TotalDuration time.Duration           `json:"total_duration"`
	Error         string                  `json:"error,omitempty"`
	ErrorKind     stages.Kind             `json:"error_kind,omitempty"`
}

// BatchOutcome aggregates one batch run. Results preserves input order.
type BatchOutcome struct {
	RunID           string         `json:"run_id"`
	Total           int            `json:"total"`
	Successful      int            `json:"successful"`
	Failed          int            `json:"failed"`
	SuccessRate     float64        `json:"success_rate"`
	TotalDuration   time.Duration  `json:"total_duration"`
	AverageDuration time.Duration  `json:"average_duration"`
	Results         []*FileOutcome `json:"results"`
}

// ProgressUpdate reports batch progress through a side channel. It never
// affects outcome ordering or content.
type ProgressUpdate struct {
	Index  int
	Total  int
	Input  string
	Status Status
}

// ProgressFunc receives progress updates during a batch run.
type ProgressFunc func(update ProgressUpdate)

// BatchOptions configures a batch run.
type BatchOptions struct {
	// Workers bounds concurrent artifacts. Zero or one means sequential.
	Workers int

	// Progress, when set, is invoked after each artifact completes.
	Progress ProgressFunc
}
