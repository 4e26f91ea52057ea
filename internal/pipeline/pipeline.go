package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/neuroprep/internal/config"
	"github.com/fyrsmithlabs/neuroprep/internal/logging"
	"github.com/fyrsmithlabs/neuroprep/internal/stages"
	"github.com/fyrsmithlabs/neuroprep/internal/telemetry"
)

// Stage names used in outcome records and span attributes.
const (
	stageLoad    = "load"
	stageProcess = "process"
	stageWrite   = "write"
)

// outputSuffix is appended to every derived output base name.
const outputSuffix = "_preprocessed"

// Pipeline orchestrates the load, process, and write stages for one
// artifact at a time and aggregates run statistics across artifacts.
type Pipeline struct {
	cfg       config.PipelineConfig
	loader    stages.Loader
	processor stages.Processor
	writer    stages.Writer
	tracer    trace.Tracer
	metrics   *Metrics
	log       *logging.Logger
	stats     *RunStatistics
}

// Option overrides a pipeline collaborator, mainly for testing.
type Option func(*Pipeline)

// WithLoader replaces the default loader.
func WithLoader(l stages.Loader) Option {
	return func(p *Pipeline) { p.loader = l }
}

// WithProcessor replaces the default processor.
func WithProcessor(pr stages.Processor) Option {
	return func(p *Pipeline) { p.processor = pr }
}

// WithWriter replaces the default writer.
func WithWriter(w stages.Writer) Option {
	return func(p *Pipeline) { p.writer = w }
}

// New creates a pipeline from config. Stage adapters are constructed here
// and injected; metric instruments are created once and reused across all
// artifacts.
func New(cfg config.PipelineConfig, tel *telemetry.Telemetry, log *logging.Logger, opts ...Option) (*Pipeline, error) {
	tracer := tel.Tracer("neuroprep.pipeline")

	writer, err := stages.NewDataWriter(stages.Format(cfg.Format), true, tracer, log)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:    cfg,
		loader: stages.NewDataLoader(cfg.ValidateInputs, tracer, log),
		processor: stages.NewImageProcessor(stages.StepToggles{
			SkullStrip:     cfg.SkullStrip,
			BiasCorrection: cfg.BiasCorrection,
			Normalization:  cfg.Normalization,
		}, tracer, log),
		writer:  writer,
		tracer:  tracer,
		metrics: NewMetrics(tel.Meter("neuroprep.pipeline"), log),
		log:     log,
		stats:   NewRunStatistics(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// ProcessFile runs the three stages for one artifact inside one root span.
// It does not retry: the first stage error aborts the remaining stages and
// is propagated after being recorded on the span and in the run statistics.
// The returned FileOutcome is populated on both success and failure.
func (p *Pipeline) ProcessFile(ctx context.Context, inputPath, outputName string) (*FileOutcome, error) {
	ctx, span := p.tracer.Start(ctx, "preprocess_file")
	defer span.End()

	start := time.Now()
	name := filepath.Base(inputPath)
	span.SetAttributes(
		attribute.String("file.name", name),
		attribute.String("file.path", inputPath),
	)
	p.log.Info(ctx, "starting preprocessing pipeline", zap.String("file", name))

	outcome := &FileOutcome{
		Input:  inputPath,
		Stages: make(map[string]StageSummary),
	}

	// Stage 1: load
	loaded, err := p.loader.Load(ctx, inputPath)
	if err != nil {
		return p.finalizeFailure(ctx, span, outcome, start, err)
	}
	outcome.Stages[stageLoad] = StageSummary{
		Duration:      loaded.LoadDuration,
		FileSizeBytes: loaded.FileSizeBytes,
	}
	recordHistogram(ctx, p.metrics.loadDuration, loaded.LoadDuration.Seconds())
	recordHistogram(ctx, p.metrics.fileSize, float64(loaded.FileSizeBytes))

	// Stage 2: process
	processed, err := p.processor.Process(ctx, loaded)
	if err != nil {
		return p.finalizeFailure(ctx, span, outcome, start, err)
	}
	stepNames := make([]string, len(processed.Steps))
	for i, s := range processed.Steps {
		stepNames[i] = s.Name
	}
	outcome.Stages[stageProcess] = StageSummary{
		Duration: processed.TotalDuration,
		Steps:    stepNames,
	}
	recordHistogram(ctx, p.metrics.processDuration, processed.TotalDuration.Seconds())
	if processed.Volume != nil {
		recordHistogram(ctx, p.metrics.voxelsProcessed, float64(processed.Volume.VoxelCount()))
	}

	// Stage 3: write
	if outputName == "" {
		outputName = DeriveOutputName(inputPath)
	}
	written, err := p.writer.Write(ctx, processed, p.cfg.OutputStem(outputName), stages.WriteOptions{
		SaveMetadata: p.cfg.SaveMetadata,
		Compress:     p.cfg.CompressOutput,
	})
	if err != nil {
		return p.finalizeFailure(ctx, span, outcome, start, err)
	}
	outcome.Stages[stageWrite] = StageSummary{
		Duration:         written.WriteDuration,
		OutputPath:       written.OutputPath,
		OutputSizeBytes:  written.FileSizeBytes,
		CompressionRatio: written.CompressionRatio,
	}
	recordHistogram(ctx, p.metrics.writeDuration, written.WriteDuration.Seconds())
	recordHistogram(ctx, p.metrics.compressionRatio, written.CompressionRatio)

	// Total elapsed is wall clock from entry, so orchestration overhead is
	// included, not just the sum of stage durations.
	total := time.Since(start)
	outcome.TotalDuration = total
	outcome.Status = StatusSuccess

	span.SetAttributes(
		attribute.Float64("pipeline.duration_seconds", total.Seconds()),
		attribute.String("pipeline.status", string(StatusSuccess)),
	)
	span.SetStatus(codes.Ok, "")

	p.stats.RecordSuccess(total)
	addCounter(ctx, p.metrics.filesProcessed, 1)
	recordHistogram(ctx, p.metrics.totalDuration, total.Seconds())

	p.log.Info(ctx, "pipeline completed",
		zap.String("file", name),
		zap.Duration("elapsed", total))

	return outcome, nil
}

// finalizeFailure records a stage error on the span, the statistics, and
// the metrics, then returns the failed outcome alongside the error.
func (p *Pipeline) finalizeFailure(ctx context.Context, span trace.Span, outcome *FileOutcome, start time.Time, err error) (*FileOutcome, error) {
	total := time.Since(start)
	outcome.Status = StatusFailed
	outcome.Error = err.Error()
	outcome.ErrorKind = stages.KindOf(err)
	outcome.TotalDuration = total

	span.SetAttributes(
		attribute.String("pipeline.status", string(StatusFailed)),
		attribute.Bool("error", true),
		attribute.String("error.message", err.Error()),
	)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	p.stats.RecordFailure(outcome.Input, err)
	addCounter(ctx, p.metrics.filesFailed, 1)
	addCounter(ctx, p.metrics.processingErrors, 1)

	p.log.Error(ctx, "pipeline failed",
		zap.String("file", filepath.Base(outcome.Input)),
		zap.String("kind", string(outcome.ErrorKind)),
		zap.Error(err))

	return outcome, err
}

// Statistics returns a snapshot of the process-wide run statistics.
func (p *Pipeline) Statistics() Snapshot {
	return p.stats.Snapshot()
}

// ResetStatistics returns the run statistics to their initial zero state.
func (p *Pipeline) ResetStatistics() {
	p.stats.Reset()
}

// DeriveOutputName derives a deterministic output base name from the input
// path: the base name with any recognized extension stripped, plus a fixed
// suffix. Distinct base names map to distinct output names.
func DeriveOutputName(inputPath string) string {
	base := filepath.Base(inputPath)
	lower := strings.ToLower(base)
	for _, ext := range stages.SupportedExtensions {
		if strings.HasSuffix(lower, ext) {
			base = base[:len(base)-len(ext)]
			break
		}
	}
	return base + outputSuffix
}
