package pipeline

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/neuroprep/internal/logging"
)

// Metrics holds the pipeline's instruments. They are created once at
// pipeline construction and reused for every artifact. A failed instrument
// stays nil and its record calls become no-ops: telemetry problems must
// never fail the pipeline.
type Metrics struct {
	filesProcessed   metric.Int64Counter
	filesFailed      metric.Int64Counter
	processingErrors metric.Int64Counter

	fileSize         metric.Float64Histogram
	loadDuration     metric.Float64Histogram
	processDuration  metric.Float64Histogram
	writeDuration    metric.Float64Histogram
	totalDuration    metric.Float64Histogram
	voxelsProcessed  metric.Float64Histogram
	compressionRatio metric.Float64Histogram
}

// NewMetrics creates the pipeline instruments on the given meter.
// Creation failures are logged once per instrument and swallowed.
func NewMetrics(meter metric.Meter, log *logging.Logger) *Metrics {
	m := &Metrics{}
	ctx := context.Background()

	counter := func(dst *metric.Int64Counter, name, desc, unit string) {
		c, err := meter.Int64Counter(name,
			metric.WithDescription(desc),
			metric.WithUnit(unit))
		if err != nil {
			log.Warn(ctx, "failed to create counter", zap.String("name", name), zap.Error(err))
			return
		}
		*dst = c
	}
	histogram := func(dst *metric.Float64Histogram, name, desc, unit string) {
		h, err := meter.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit(unit))
		if err != nil {
			log.Warn(ctx, "failed to create histogram", zap.String("name", name), zap.Error(err))
			return
		}
		*dst = h
	}

	counter(&m.filesProcessed, "neuro.files.processed", "Number of files processed", "{file}")
	counter(&m.filesFailed, "neuro.files.failed", "Number of files that failed processing", "{file}")
	counter(&m.processingErrors, "neuro.processing.errors", "Number of processing errors", "{error}")

	histogram(&m.fileSize, "neuro.file.size", "Size of input files", "By")
	histogram(&m.loadDuration, "neuro.stage.load.duration", "Time spent loading data", "s")
	histogram(&m.processDuration, "neuro.stage.process.duration", "Time spent processing data", "s")
	histogram(&m.writeDuration, "neuro.stage.write.duration", "Time spent writing output", "s")
	histogram(&m.totalDuration, "neuro.pipeline.duration", "Total pipeline execution time", "s")
	histogram(&m.voxelsProcessed, "neuro.voxels.processed", "Number of voxels processed", "{voxel}")
	histogram(&m.compressionRatio, "neuro.compression.ratio", "Compression ratio of output files", "1")

	return m
}

func addCounter(ctx context.Context, c metric.Int64Counter, value int64) {
	if c != nil {
		c.Add(ctx, value)
	}
}

func recordHistogram(ctx context.Context, h metric.Float64Histogram, value float64) {
	if h != nil {
		h.Record(ctx, value)
	}
}
