package main

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/neuroprep/internal/config"
	"github.com/fyrsmithlabs/neuroprep/internal/pipeline"
)

var batchFlags struct {
	outputDir        string
	pattern          string
	format           string
	workers          int
	noProgress       bool
	noSkullStrip     bool
	noBiasCorrection bool
	noNormalization  bool
}

var batchCmd = &cobra.Command{
	Use:   "batch <input-dir>",
	Short: "Process multiple files in a directory",
	Long: `Process every file in a directory matching a glob pattern. One failing
file does not abort the batch; the exit code is non-zero if any file failed.

Examples:
  # Process all NIfTI files
  neuroprep batch ./scans

  # Four files in flight at once
  neuroprep batch --workers 4 -p '*.nii.gz' ./scans`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	f := batchCmd.Flags()
	f.StringVarP(&batchFlags.outputDir, "output-dir", "o", "", "output directory for processed files")
	f.StringVarP(&batchFlags.pattern, "pattern", "p", "*.nii*", "file pattern to match")
	f.StringVarP(&batchFlags.format, "format", "f", "", "output format (nifti, mgz, analyze)")
	f.IntVar(&batchFlags.workers, "workers", 0, "number of files processed concurrently (default from config)")
	f.BoolVar(&batchFlags.noProgress, "no-progress", false, "don't print per-file progress")
	f.BoolVar(&batchFlags.noSkullStrip, "no-skull-strip", false, "disable skull stripping")
	f.BoolVar(&batchFlags.noBiasCorrection, "no-bias-correction", false, "disable bias field correction")
	f.BoolVar(&batchFlags.noNormalization, "no-normalization", false, "disable intensity normalization")
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx, func(cfg *config.Config) {
		if batchFlags.outputDir != "" {
			cfg.Pipeline.OutputDir = batchFlags.outputDir
		}
		if batchFlags.format != "" {
			cfg.Pipeline.Format = batchFlags.format
		}
		if batchFlags.workers > 0 {
			cfg.Pipeline.Workers = batchFlags.workers
		}
		applyStepFlags(cfg, batchFlags.noSkullStrip, batchFlags.noBiasCorrection, batchFlags.noNormalization)
	})
	if err != nil {
		return err
	}
	defer rt.close(ctx)

	inputs, err := filepath.Glob(filepath.Join(args[0], batchFlags.pattern))
	if err != nil {
		return fmt.Errorf("invalid pattern %q: %w", batchFlags.pattern, err)
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no files found matching pattern %q in %s", batchFlags.pattern, args[0])
	}
	sort.Strings(inputs)

	fmt.Printf("Found %d file(s) matching pattern %q\n\n", len(inputs), batchFlags.pattern)

	p, err := pipeline.New(rt.cfg.Pipeline, rt.tel, rt.log)
	if err != nil {
		return err
	}

	opts := pipeline.BatchOptions{Workers: rt.cfg.Pipeline.Workers}
	if !batchFlags.noProgress {
		opts.Progress = func(u pipeline.ProgressUpdate) {
			mark := "✓"
			if u.Status != pipeline.StatusSuccess {
				mark = "✗"
			}
			fmt.Printf("  %s [%d/%d] %s\n", mark, u.Index+1, u.Total, filepath.Base(u.Input))
		}
	}

	outcome, batchErr := p.ProcessBatch(ctx, inputs, opts)
	printBatchSummary(outcome)

	if errs := p.Statistics().Errors; len(errs) > 0 {
		fmt.Println("ERRORS:")
		for _, e := range errs {
			fmt.Printf("  - %s: %s\n", e.File, e.Error)
		}
		fmt.Println()
	}

	if batchErr != nil {
		return fmt.Errorf("batch interrupted: %w", batchErr)
	}
	if outcome.Failed > 0 {
		return fmt.Errorf("%d of %d file(s) failed", outcome.Failed, outcome.Total)
	}
	return nil
}

func printBatchSummary(outcome *pipeline.BatchOutcome) {
	divider := "============================================================"
	fmt.Println()
	fmt.Println(divider)
	fmt.Println("BATCH PROCESSING SUMMARY")
	fmt.Println(divider)
	fmt.Printf("Total files:     %d\n", outcome.Total)
	fmt.Printf("Successful:      %d (%.1f%%)\n", outcome.Successful, outcome.SuccessRate)
	fmt.Printf("Failed:          %d\n", outcome.Failed)
	fmt.Printf("Total time:      %.2fs\n", outcome.TotalDuration.Seconds())
	fmt.Printf("Avg per file:    %.2fs\n", outcome.AverageDuration.Seconds())
	fmt.Println(divider)
	fmt.Println()
}
