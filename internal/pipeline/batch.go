package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/neuroprep/internal/logging"
)

// ProcessBatch runs every input through ProcessFile under continue-on-error
// semantics: a failed artifact is downgraded to a failed FileOutcome and its
// siblings proceed. The batch as a whole never fails.
//
// Results preserve input order regardless of completion order; each worker
// writes into its own pre-assigned slot.
//
// Cancellation: once ctx is done, no further artifact is started; artifacts
// already in flight run to completion on a detached context. Unstarted
// artifacts are omitted from the results, and ctx.Err() is returned so the
// caller can tell a truncated batch from a complete one.
func (p *Pipeline) ProcessBatch(ctx context.Context, inputs []string, opts BatchOptions) (*BatchOutcome, error) {
	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	p.log.Info(ctx, "starting batch",
		zap.Int("files", len(inputs)),
		zap.Int("workers", workers))

	start := time.Now()
	results := make([]*FileOutcome, len(inputs))

	var progressMu sync.Mutex
	report := func(i int, outcome *FileOutcome) {
		if opts.Progress == nil {
			return
		}
		progressMu.Lock()
		defer progressMu.Unlock()
		opts.Progress(ProgressUpdate{
			Index:  i,
			Total:  len(inputs),
			Input:  outcome.Input,
			Status: outcome.Status,
		})
	}

	var g errgroup.Group
	g.SetLimit(workers)

	for i, input := range inputs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// In-flight artifacts finish even if the batch is cancelled.
			actx := context.WithoutCancel(ctx)
			outcome, err := p.ProcessFile(actx, input, "")
			if err != nil && outcome == nil {
				outcome = &FileOutcome{
					Input:  input,
					Status: StatusFailed,
					Error:  err.Error(),
				}
			}
			results[i] = outcome
			report(i, outcome)
			return nil
		})
	}

	// Workers never return errors; failures live in their outcome slots.
	_ = g.Wait()

	attempted := make([]*FileOutcome, 0, len(results))
	for _, r := range results {
		if r != nil {
			attempted = append(attempted, r)
		}
	}

	var successful, failed int
	for _, r := range attempted {
		if r.Status == StatusSuccess {
			successful++
		} else {
			failed++
		}
	}

	elapsed := time.Since(start)
	outcome := &BatchOutcome{
		RunID:         runID,
		Total:         len(attempted),
		Successful:    successful,
		Failed:        failed,
		TotalDuration: elapsed,
		Results:       attempted,
	}
	if len(attempted) > 0 {
		outcome.SuccessRate = float64(successful) / float64(len(attempted)) * 100
		outcome.AverageDuration = elapsed / time.Duration(len(attempted))
	}

	p.log.Info(ctx, "batch finished",
		zap.Int("total", outcome.Total),
		zap.Int("successful", successful),
		zap.Int("failed", failed),
		zap.Duration("elapsed", elapsed))

	return outcome, ctx.Err()
}
