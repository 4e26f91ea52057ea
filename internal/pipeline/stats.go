package pipeline

import (
	"sync"
	"time"
)

// FileError pairs a failed artifact with its error text.
type FileError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// RunStatistics tracks process-wide counters across all processed artifacts.
// All methods are safe for concurrent use; batch workers may finish at the
// same time.
type RunStatistics struct {
	mu             sync.Mutex
	filesProcessed int
	filesFailed    int
	totalTime      time.Duration
	errors         []FileError
}

// NewRunStatistics returns zeroed statistics.
func NewRunStatistics() *RunStatistics {
	return &RunStatistics{}
}

// RecordSuccess counts one successfully processed artifact.
func (s *RunStatistics) RecordSuccess(elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filesProcessed++
	s.totalTime += elapsed
}

// RecordFailure counts one failed artifact and appends its error.
func (s *RunStatistics) RecordFailure(file string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filesFailed++
	s.errors = append(s.errors, FileError{File: file, Error: err.Error()})
}

// Snapshot is a point-in-time copy of the statistics.
type Snapshot struct {
	FilesProcessed int           `json:"files_processed"`
	FilesFailed    int           `json:"files_failed"`
	TotalTime      time.Duration `json:"total_processing_time"`
	Errors         []FileError   `json:"errors"`
}

// Snapshot returns a copy of the current counters and error log.
func (s *RunStatistics) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	errs := make([]FileError, len(s.errors))
	copy(errs, s.errors)
	return Snapshot{
		FilesProcessed: s.filesProcessed,
		FilesFailed:    s.filesFailed,
		TotalTime:      s.totalTime,
		Errors:         errs,
	}
}

// Reset returns the statistics to their initial zero state.
func (s *RunStatistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filesProcessed = 0
	s.filesFailed = 0
	s.totalTime = 0
	s.errors = nil
}
