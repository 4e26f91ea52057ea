package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/neuroprep/internal/stages"
	"github.com/fyrsmithlabs/neuroprep/internal/telemetry"
)

func TestProcessBatch_AllSucceed(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	p := fakePipeline(t, tel)

	inputs := []string{"/data/a.nii.gz", "/data/b.nii.gz", "/data/c.nii.gz"}
	outcome, err := p.ProcessBatch(context.Background(), inputs, BatchOptions{})
	require.NoError(t, err)

	assert.NotEmpty(t, outcome.RunID)
	assert.Equal(t, 3, outcome.Total)
	assert.Equal(t, 3, outcome.Successful)
	assert.Equal(t, 0, outcome.Failed)
	assert.Equal(t, 100.0, outcome.SuccessRate)
	require.Len(t, outcome.Results, 3)
	for i, r := range outcome.Results {
		assert.Equal(t, inputs[i], r.Input)
		assert.Equal(t, StatusSuccess, r.Status)
	}
}

func TestProcessBatch_ContinuesPastFailures(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	p := fakePipeline(t, tel, WithLoader(&fakeLoader{failOn: "bad"}))

	inputs := []string{"/data/a.nii.gz", "/data/bad.nii.gz", "/data/c.nii.gz"}
	outcome, err := p.ProcessBatch(context.Background(), inputs, BatchOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, outcome.Total)
	assert.Equal(t, 2, outcome.Successful)
	assert.Equal(t, 1, outcome.Failed)
	assert.InDelta(t, 66.7, outcome.SuccessRate, 0.1)

	// One outcome per input, in input order, failure in the middle
	require.Len(t, outcome.Results, 3)
	assert.Equal(t, StatusSuccess, outcome.Results[0].Status)
	assert.Equal(t, StatusFailed, outcome.Results[1].Status)
	assert.Equal(t, stages.KindNotFound, outcome.Results[1].ErrorKind)
	assert.Equal(t, StatusSuccess, outcome.Results[2].Status)

	stats := p.Statistics()
	assert.Equal(t, 2, stats.FilesProcessed)
	assert.Equal(t, 1, stats.FilesFailed)
}

func TestProcessBatch_Empty(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	p := fakePipeline(t, tel)

	outcome, err := p.ProcessBatch(context.Background(), nil, BatchOptions{})
	require.NoError(t, err)

	assert.Equal(t, 0, outcome.Total)
	assert.Equal(t, 0.0, outcome.SuccessRate)
	assert.Zero(t, outcome.AverageDuration)
	assert.Empty(t, outcome.Results)
}

func TestProcessBatch_WorkerPoolPreservesOrder(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	p := fakePipeline(t, tel, WithLoader(&fakeLoader{failOn: "bad"}))

	inputs := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		name := "/data/scan.nii.gz"
		if i%5 == 0 {
			name = "/data/bad.nii.gz"
		}
		inputs = append(inputs, name)
	}

	outcome, err := p.ProcessBatch(context.Background(), inputs, BatchOptions{Workers: 4})
	require.NoError(t, err)

	require.Len(t, outcome.Results, 20)
	for i, r := range outcome.Results {
		assert.Equal(t, inputs[i], r.Input, "slot %d", i)
		if i%5 == 0 {
			assert.Equal(t, StatusFailed, r.Status, "slot %d", i)
		} else {
			assert.Equal(t, StatusSuccess, r.Status, "slot %d", i)
		}
	}
	assert.Equal(t, 16, outcome.Successful)
	assert.Equal(t, 4, outcome.Failed)
}

func TestProcessBatch_ProgressCallback(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	p := fakePipeline(t, tel, WithLoader(&fakeLoader{failOn: "bad"}))

	var mu sync.Mutex
	seen := make(map[int]ProgressUpdate)
	opts := BatchOptions{
		Workers: 2,
		Progress: func(u ProgressUpdate) {
			mu.Lock()
			seen[u.Index] = u
			mu.Unlock()
		},
	}

	inputs := []string{"/data/a.nii.gz", "/data/bad.nii.gz", "/data/c.nii.gz"}
	_, err := p.ProcessBatch(context.Background(), inputs, opts)
	require.NoError(t, err)

	require.Len(t, seen, 3)
	for i, input := range inputs {
		u, ok := seen[i]
		require.True(t, ok, "no update for index %d", i)
		assert.Equal(t, input, u.Input)
		assert.Equal(t, 3, u.Total)
	}
	assert.Equal(t, StatusFailed, seen[1].Status)
}

func TestProcessBatch_CancelledBeforeStart(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	p := fakePipeline(t, tel)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := p.ProcessBatch(ctx, []string{"/data/a.nii.gz", "/data/b.nii.gz"}, BatchOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, outcome)
	assert.Equal(t, 0, outcome.Total)
	assert.Empty(t, outcome.Results)
}

func TestProcessBatch_ArtifactSpansAreRoots(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	p := fakePipeline(t, tel)

	inputs := []string{"/data/a.nii.gz", "/data/b.nii.gz"}
	_, err := p.ProcessBatch(context.Background(), inputs, BatchOptions{})
	require.NoError(t, err)

	roots := tel.SpansByName("preprocess_file")
	require.Len(t, roots, 2)
	for _, span := range roots {
		assert.False(t, span.Parent().IsValid())
	}
	// Separate artifacts never share a trace
	assert.NotEqual(t, roots[0].SpanContext().TraceID(), roots[1].SpanContext().TraceID())
}
