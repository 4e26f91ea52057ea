// Package stages defines the pipeline stage contract: the Loader, Processor,
// and Writer interfaces, their result shapes, and the stage error taxonomy.
// The orchestrator in internal/pipeline treats stages as opaque collaborators.
package stages

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/neuroprep/internal/volume"
)

// LoadResult is the hand-off from Loader to Processor.
type LoadResult struct {
	Volume        *volume.Volume    `json:"-"`
	Metadata      map[string]string `json:"metadata"`
	Path          string            `json:"path"`
	FileSizeBytes int64             `json:"file_size_bytes"`
	LoadDuration  time.Duration     `json:"load_duration"`
}

// StepStats records one processing step that actually ran.
type StepStats struct {
	Name     string             `json:"name"`
	Method   string             `json:"method"`
	Duration time.Duration      `json:"duration"`
	Counters map[string]float64 `json:"counters,omitempty"`
}

// ProcessResult is the hand-off from Processor to Writer. Steps preserves
// execution order: skull_strip, bias_correction, normalization, with a step
// present if and only if it was enabled.
type ProcessResult struct {
	Volume        *volume.Volume    `json:"-"`
	Metadata      map[string]string `json:"metadata"`
	Steps         []StepStats       `json:"steps"`
	TotalDuration time.Duration     `json:"total_duration"`
}

// WriteResult describes the files produced for one artifact.
type WriteResult struct {
	OutputPath       string        `json:"output_path"`
	MetadataPath     string        `json:"metadata_path,omitempty"`
	ReportPath       string        `json:"report_path,omitempty"`
	FileSizeBytes    int64         `json:"file_size_bytes"`
	CompressionRatio float64       `json:"compression_ratio"`
	WriteDuration    time.Duration `json:"write_duration"`
}

// WriteOptions carries orchestration-level toggles through to the writer.
type WriteOptions struct {
	SaveMetadata bool
	Compress     bool
}

// Loader reads one artifact from disk.
type Loader interface {
	Load(ctx context.Context, path string) (*LoadResult, error)
}

// Processor transforms a loaded artifact. It performs no I/O.
type Processor interface {
	Process(ctx context.Context, in *LoadResult) (*ProcessResult, error)
}

// Writer persists a processed artifact under the given path stem.
type Writer interface {
	Write(ctx context.Context, in *ProcessResult, destStem string, opts WriteOptions) (*WriteResult, error)
}
