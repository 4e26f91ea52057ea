// Package config provides configuration loading for neuroprep.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/fyrsmithlabs/neuroprep/internal/logging"
	"github.com/fyrsmithlabs/neuroprep/internal/stages"
	"github.com/fyrsmithlabs/neuroprep/internal/telemetry"
)

// Config is the top-level neuroprep configuration.
type Config struct {
	Pipeline  PipelineConfig   `koanf:"pipeline"`
	Telemetry telemetry.Config `koanf:"telemetry"`
	Logging   logging.Config   `koanf:"logging"`
}

// PipelineConfig holds the immutable pipeline toggles. It is owned by the
// pipeline for its lifetime and never mutated after construction.
type PipelineConfig struct {
	OutputDir      string `koanf:"output_dir"`
	Format         string `koanf:"format"` // nifti, mgz, analyze
	SkullStrip     bool   `koanf:"skull_strip"`
	BiasCorrection bool   `koanf:"bias_correction"`
	Normalization  bool   `koanf:"normalization"`
	ValidateInputs bool   `koanf:"validate_inputs"`
	SaveMetadata   bool   `koanf:"save_metadata"`
	CompressOutput bool   `koanf:"compress_output"`
	Workers        int    `koanf:"workers"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Pipeline.OutputDir == "" {
		return fmt.Errorf("pipeline.output_dir is required")
	}
	if _, err := stages.ParseFormat(c.Pipeline.Format); err != nil {
		return fmt.Errorf("pipeline.format: %w", err)
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be >= 1, got %d", c.Pipeline.Workers)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// OutputStem joins the output directory with a derived base name.
func (c *PipelineConfig) OutputStem(baseName string) string {
	return filepath.Join(c.OutputDir, baseName)
}
