package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/neuroprep/internal/config"
	"github.com/fyrsmithlabs/neuroprep/internal/pipeline"
)

var processFlags struct {
	outputDir        string
	outputName       string
	format           string
	noSkullStrip     bool
	noBiasCorrection bool
	noNormalization  bool
	noValidate       bool
	noMetadata       bool
	noCompress       bool
}

var processCmd = &cobra.Command{
	Use:   "process <input-file>",
	Short: "Process a single neuroimaging file",
	Long: `Process a single neuroimaging file through the load, process, write
pipeline.

Examples:
  # Process with defaults
  neuroprep process scan_t1w.nii.gz

  # Custom output location and format, skip skull stripping
  neuroprep process -o ./out -f mgz --no-skull-strip scan_t1w.nii.gz`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	f := processCmd.Flags()
	f.StringVarP(&processFlags.outputDir, "output-dir", "o", "", "output directory for processed files")
	f.StringVarP(&processFlags.outputName, "output-name", "n", "", "output base name (derived from input if empty)")
	f.StringVarP(&processFlags.format, "format", "f", "", "output format (nifti, mgz, analyze)")
	f.BoolVar(&processFlags.noSkullStrip, "no-skull-strip", false, "disable skull stripping")
	f.BoolVar(&processFlags.noBiasCorrection, "no-bias-correction", false, "disable bias field correction")
	f.BoolVar(&processFlags.noNormalization, "no-normalization", false, "disable intensity normalization")
	f.BoolVar(&processFlags.noValidate, "no-validate", false, "skip input validation")
	f.BoolVar(&processFlags.noMetadata, "no-metadata", false, "don't save metadata JSON")
	f.BoolVar(&processFlags.noCompress, "no-compress", false, "don't compress output files")
}

// applyStepFlags maps the disable flags onto the pipeline config.
func applyStepFlags(cfg *config.Config, noSkullStrip, noBiasCorrection, noNormalization bool) {
	if noSkullStrip {
		cfg.Pipeline.SkullStrip = false
	}
	if noBiasCorrection {
		cfg.Pipeline.BiasCorrection = false
	}
	if noNormalization {
		cfg.Pipeline.Normalization = false
	}
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx, func(cfg *config.Config) {
		if processFlags.outputDir != "" {
			cfg.Pipeline.OutputDir = processFlags.outputDir
		}
		if processFlags.format != "" {
			cfg.Pipeline.Format = processFlags.format
		}
		applyStepFlags(cfg, processFlags.noSkullStrip, processFlags.noBiasCorrection, processFlags.noNormalization)
		if processFlags.noValidate {
			cfg.Pipeline.ValidateInputs = false
		}
		if processFlags.noMetadata {
			cfg.Pipeline.SaveMetadata = false
		}
		if processFlags.noCompress {
			cfg.Pipeline.CompressOutput = false
		}
	})
	if err != nil {
		return err
	}
	defer rt.close(ctx)

	p, err := pipeline.New(rt.cfg.Pipeline, rt.tel, rt.log)
	if err != nil {
		return err
	}

	result, err := p.ProcessFile(ctx, args[0], processFlags.outputName)
	if err != nil {
		fmt.Printf("✗ Processing failed: %v\n", err)
		return err
	}

	fmt.Println("✓ Processing completed successfully")
	if write, ok := result.Stages["write"]; ok {
		fmt.Printf("\nOutput file: %s\n", write.OutputPath)
	}
	fmt.Printf("Total time: %.2fs\n", result.TotalDuration.Seconds())

	fmt.Println("\nStage breakdown:")
	names := make([]string, 0, len(result.Stages))
	for name := range result.Stages {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %s: %.2fs\n", name, result.Stages[name].Duration.Seconds())
	}

	return nil
}
