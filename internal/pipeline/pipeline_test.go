package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/fyrsmithlabs/neuroprep/internal/config"
	"github.com/fyrsmithlabs/neuroprep/internal/logging"
	"github.com/fyrsmithlabs/neuroprep/internal/stages"
	"github.com/fyrsmithlabs/neuroprep/internal/telemetry"
	"github.com/fyrsmithlabs/neuroprep/internal/volume"
)

func testConfig(t *testing.T) config.PipelineConfig {
	t.Helper()
	return config.PipelineConfig{
		OutputDir:      t.TempDir(),
		Format:         "nifti",
		SkullStrip:     true,
		BiasCorrection: true,
		Normalization:  true,
		ValidateInputs: true,
		SaveMetadata:   true,
		CompressOutput: true,
		Workers:        1,
	}
}

// Fake stages keep orchestration tests fast and failure injection exact.

type fakeLoader struct {
	failOn string
}

func (f *fakeLoader) Load(_ context.Context, path string) (*stages.LoadResult, error) {
	if f.failOn != "" && strings.Contains(path, f.failOn) {
		return nil, stages.NewError(stages.KindNotFound, "load", path, errors.New("injected"))
	}
	vol, _ := volume.New(4, 4, 2)
	return &stages.LoadResult{
		Volume:        vol,
		Metadata:      map[string]string{"modality": "T1-weighted MRI"},
		Path:          path,
		FileSizeBytes: 1024,
		LoadDuration:  time.Millisecond,
	}, nil
}

type fakeProcessor struct {
	err error
}

func (f *fakeProcessor) Process(_ context.Context, in *stages.LoadResult) (*stages.ProcessResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &stages.ProcessResult{
		Volume:        in.Volume,
		Metadata:      in.Metadata,
		Steps:         []stages.StepStats{{Name: stages.StepNormalization, Duration: time.Millisecond}},
		TotalDuration: time.Millisecond,
	}, nil
}

type fakeWriter struct {
	err error
}

func (f *fakeWriter) Write(_ context.Context, _ *stages.ProcessResult, destStem string, _ stages.WriteOptions) (*stages.WriteResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &stages.WriteResult{
		OutputPath:       destStem + ".nii.gz",
		FileSizeBytes:    512,
		CompressionRatio: 2.0,
		WriteDuration:    time.Millisecond,
	}, nil
}

func fakePipeline(t *testing.T, tel *telemetry.TestTelemetry, opts ...Option) *Pipeline {
	t.Helper()
	base := []Option{
		WithLoader(&fakeLoader{}),
		WithProcessor(&fakeProcessor{}),
		WithWriter(&fakeWriter{}),
	}
	p, err := New(testConfig(t), tel.Telemetry, logging.NewNop(), append(base, opts...)...)
	require.NoError(t, err)
	return p
}

func TestNew_RejectsBadFormat(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	cfg := testConfig(t)
	cfg.Format = "jpeg"

	p, err := New(cfg, tel.Telemetry, logging.NewNop())
	require.Error(t, err)
	assert.Nil(t, p)
}

func TestProcessFile_Success(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	p := fakePipeline(t, tel)

	outcome, err := p.ProcessFile(context.Background(), "/data/scan_t1w.nii.gz", "")
	require.NoError(t, err)
	require.NotNil(t, outcome)

	assert.Equal(t, StatusSuccess, outcome.Status)
	assert.Empty(t, outcome.Error)
	assert.Greater(t, outcome.TotalDuration, time.Duration(0))

	require.Contains(t, outcome.Stages, "load")
	require.Contains(t, outcome.Stages, "process")
	require.Contains(t, outcome.Stages, "write")
	assert.Equal(t, int64(1024), outcome.Stages["load"].FileSizeBytes)
	assert.Equal(t, []string{stages.StepNormalization}, outcome.Stages["process"].Steps)
	assert.Equal(t, 2.0, outcome.Stages["write"].CompressionRatio)

	stats := p.Statistics()
	assert.Equal(t, 1, stats.FilesProcessed)
	assert.Equal(t, 0, stats.FilesFailed)

	root := tel.SpanByName("preprocess_file")
	require.NotNil(t, root)
	assert.Equal(t, codes.Ok, root.Status().Code)
	tel.AssertSpanAttribute(t, "preprocess_file", "file.name", "scan_t1w.nii.gz")
	tel.AssertSpanAttribute(t, "preprocess_file", "pipeline.status", "success")
}

func TestProcessFile_LoadFailure(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	p := fakePipeline(t, tel, WithLoader(&fakeLoader{failOn: "scan"}))

	outcome, err := p.ProcessFile(context.Background(), "/data/scan.nii.gz", "")
	require.Error(t, err)
	require.NotNil(t, outcome)

	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Equal(t, stages.KindNotFound, outcome.ErrorKind)
	assert.NotEmpty(t, outcome.Error)
	assert.NotContains(t, outcome.Stages, "load")

	stats := p.Statistics()
	assert.Equal(t, 0, stats.FilesProcessed)
	assert.Equal(t, 1, stats.FilesFailed)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, "/data/scan.nii.gz", stats.Errors[0].File)

	root := tel.SpanByName("preprocess_file")
	require.NotNil(t, root)
	assert.Equal(t, codes.Error, root.Status().Code)
	tel.AssertSpanAttribute(t, "preprocess_file", "pipeline.status", "failed")
	tel.AssertSpanAttribute(t, "preprocess_file", "error", true)

	// Later stages never ran, so the root has no child spans for them
	assert.Nil(t, tel.SpanByName("process_image"))
	assert.Nil(t, tel.SpanByName("write_output"))
}

func TestProcessFile_LoadFailureSpanTree(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	p, err := New(testConfig(t), tel.Telemetry, logging.NewNop())
	require.NoError(t, err)

	// Real stages, missing input: load fails, nothing downstream starts
	outcome, err := p.ProcessFile(context.Background(), "/nonexistent/scan.nii.gz", "")
	require.Error(t, err)
	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Equal(t, stages.KindNotFound, outcome.ErrorKind)

	root := tel.SpanByName("preprocess_file")
	require.NotNil(t, root)
	assert.False(t, root.Parent().IsValid())
	assert.Equal(t, codes.Error, root.Status().Code)

	assert.Nil(t, tel.SpanByName("process_image"))
	assert.Nil(t, tel.SpanByName("write_output"))
	assert.Nil(t, tel.SpanByName(stages.StepSkullStrip))
}

func TestProcessFile_WriteFailureKeepsEarlierStages(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	werr := stages.NewError(stages.KindIOFailure, "write", "/out", errors.New("disk full"))
	p := fakePipeline(t, tel, WithWriter(&fakeWriter{err: werr}))

	outcome, err := p.ProcessFile(context.Background(), "/data/a.nii.gz", "")
	require.Error(t, err)

	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Equal(t, stages.KindIOFailure, outcome.ErrorKind)
	// Earlier stage summaries survive the late failure
	assert.Contains(t, outcome.Stages, "load")
	assert.Contains(t, outcome.Stages, "process")
	assert.NotContains(t, outcome.Stages, "write")
}

func TestProcessFile_MetricsRecorded(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	p := fakePipeline(t, tel)

	_, err := p.ProcessFile(context.Background(), "/data/a.nii.gz", "")
	require.NoError(t, err)

	require.NoError(t, tel.MetricReader.Collect(context.Background()))
	names := collectedMetricNames(tel)
	assert.Contains(t, names, "neuro.files.processed")
	assert.Contains(t, names, "neuro.pipeline.duration")
	assert.Contains(t, names, "neuro.stage.load.duration")
	assert.NotContains(t, names, "neuro.files.failed")
}

func collectedMetricNames(tel *telemetry.TestTelemetry) []string {
	var names []string
	for _, rm := range tel.MetricReader.Metrics() {
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				names = append(names, m.Name)
			}
		}
	}
	return names
}

func TestProcessFile_EndToEnd(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	cfg := testConfig(t)
	p, err := New(cfg, tel.Telemetry, logging.NewNop())
	require.NoError(t, err)

	input := filepath.Join(t.TempDir(), "sub-01_t1w.nii.gz")
	require.NoError(t, os.WriteFile(input, make([]byte, 2048), 0o644))

	outcome, err := p.ProcessFile(context.Background(), input, "")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, outcome.Status)

	// The wall-clock total covers orchestration on top of the stages
	stageSum := outcome.Stages["load"].Duration +
		outcome.Stages["process"].Duration +
		outcome.Stages["write"].Duration
	assert.GreaterOrEqual(t, outcome.TotalDuration, stageSum)

	write := outcome.Stages["write"]
	assert.Equal(t, filepath.Join(cfg.OutputDir, "sub-01_t1w_preprocessed.nii.gz"), write.OutputPath)
	assert.FileExists(t, write.OutputPath)
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "sub-01_t1w_preprocessed.json"))
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "sub-01_t1w_preprocessed.report.txt"))
	assert.Greater(t, write.CompressionRatio, 1.0)
	assert.Equal(t, []string{
		stages.StepSkullStrip,
		stages.StepBiasCorrection,
		stages.StepNormalization,
	}, outcome.Stages["process"].Steps)
}

func TestProcessFile_SpanHierarchy(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	p, err := New(testConfig(t), tel.Telemetry, logging.NewNop())
	require.NoError(t, err)

	input := filepath.Join(t.TempDir(), "scan.nii.gz")
	require.NoError(t, os.WriteFile(input, make([]byte, 1024), 0o644))

	_, err = p.ProcessFile(context.Background(), input, "")
	require.NoError(t, err)

	root := tel.SpanByName("preprocess_file")
	require.NotNil(t, root)
	assert.False(t, root.Parent().IsValid(), "artifact span must be a trace root")

	childOf := func(child sdktrace.ReadOnlySpan, parent sdktrace.ReadOnlySpan) {
		t.Helper()
		require.NotNil(t, child)
		assert.Equal(t, parent.SpanContext().TraceID(), child.SpanContext().TraceID())
		assert.Equal(t, parent.SpanContext().SpanID(), child.Parent().SpanID())
	}

	load := tel.SpanByName("load_file")
	process := tel.SpanByName("process_image")
	write := tel.SpanByName("write_output")
	childOf(load, root)
	childOf(process, root)
	childOf(write, root)

	childOf(tel.SpanByName("validate_input"), load)
	childOf(tel.SpanByName(stages.StepSkullStrip), process)
	childOf(tel.SpanByName(stages.StepBiasCorrection), process)
	childOf(tel.SpanByName(stages.StepNormalization), process)
}

func TestStatistics_AccumulateAndReset(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	p := fakePipeline(t, tel, WithLoader(&fakeLoader{failOn: "bad"}))
	ctx := context.Background()

	_, _ = p.ProcessFile(ctx, "/data/a.nii.gz", "")
	_, _ = p.ProcessFile(ctx, "/data/bad.nii.gz", "")
	_, _ = p.ProcessFile(ctx, "/data/b.nii.gz", "")

	stats := p.Statistics()
	assert.Equal(t, 2, stats.FilesProcessed)
	assert.Equal(t, 1, stats.FilesFailed)
	assert.Greater(t, stats.TotalTime, time.Duration(0))
	require.Len(t, stats.Errors, 1)

	p.ResetStatistics()
	stats = p.Statistics()
	assert.Equal(t, 0, stats.FilesProcessed)
	assert.Equal(t, 0, stats.FilesFailed)
	assert.Equal(t, time.Duration(0), stats.TotalTime)
	assert.Empty(t, stats.Errors)

	// Reset on already-zero statistics stays zero
	p.ResetStatistics()
	assert.Equal(t, Snapshot{Errors: []FileError{}}, p.Statistics())
}

func TestDeriveOutputName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"/data/scan_t1w.nii.gz", "scan_t1w_preprocessed"},
		{"/data/scan.nii", "scan_preprocessed"},
		{"scan.mgz", "scan_preprocessed"},
		{"scan.dcm", "scan_preprocessed"},
		{"/data/noext", "noext_preprocessed"},
		{"/data/a.nii.gz", "a_preprocessed"},
		{"/data/b.nii.gz", "b_preprocessed"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DeriveOutputName(tt.input), tt.input)
	}
}
