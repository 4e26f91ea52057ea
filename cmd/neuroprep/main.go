// Package main implements the neuroprep CLI: a staged neuroimaging
// preprocessing pipeline with OpenTelemetry instrumentation.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/neuroprep/internal/config"
	"github.com/fyrsmithlabs/neuroprep/internal/logging"
	"github.com/fyrsmithlabs/neuroprep/internal/telemetry"
)

// version information (set via ldflags during build)
var version = "dev"

var (
	// configPath overrides the default config file location
	configPath string
)

func main() {
	// SIGINT/SIGTERM cancel the command context; a running batch stops
	// claiming new files and lets in-flight ones finish.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "neuroprep",
	Short: "Neuroimaging preprocessing pipeline with OpenTelemetry",
	Long: `neuroprep runs a fixed load, process, write pipeline over neuroimaging
files, exporting traces and metrics for every stage to an OTLP collector.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/neuroprep/config.yaml)")
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(infoCmd)
}

// runtime bundles the shared dependencies every subcommand needs.
type runtime struct {
	cfg *config.Config
	tel *telemetry.Telemetry
	log *logging.Logger
}

// newRuntime loads configuration and initializes telemetry and logging.
// Telemetry initialization failure degrades to "telemetry unavailable"
// rather than aborting the command.
func newRuntime(ctx context.Context, override func(*config.Config)) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	tel, err := telemetry.New(ctx, &cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	log, err := logging.NewLogger(&cfg.Logging, tel.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if health := tel.Health(); health.Degraded {
		log.Warn(ctx, "telemetry unavailable, continuing without it",
			zap.String("endpoint", cfg.Telemetry.Endpoint),
			zap.Error(health.Err))
	} else if tel.IsEnabled() {
		log.Info(ctx, "telemetry enabled",
			zap.String("endpoint", cfg.Telemetry.Endpoint))
	}

	return &runtime{cfg: cfg, tel: tel, log: log}, nil
}

// close flushes telemetry and logs on command exit. The flush must survive
// an interrupt, so shutdown runs on a detached context.
func (r *runtime) close(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if err := r.tel.Shutdown(ctx); err != nil {
		r.log.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
	_ = r.log.Sync()
}
