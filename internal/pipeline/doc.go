// Package pipeline orchestrates the fixed load, process, write sequence
// over neuroimaging artifacts.
//
// # Architecture
//
// Pipeline runs one artifact at a time through three opaque stage adapters
// satisfying the contracts in internal/stages. Every run is wrapped in a
// hierarchical trace: a root span per artifact with one child span per
// stage, and one grandchild per processing step. Per-stage and per-run
// metrics feed a shared set of instruments created once at construction.
//
// ProcessBatch iterates a collection under continue-on-error semantics: a
// failing artifact is recorded and its siblings continue. Batches may run
// on a bounded worker pool; results always come back in input order.
//
// # Statistics
//
// Process-wide counters (files processed, failed, cumulative time, error
// log) live in RunStatistics, owned by the Pipeline and safe for
// concurrent workers. They accumulate across calls until ResetStatistics.
package pipeline
