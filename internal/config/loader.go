package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// defaultYAML seeds koanf with the hardcoded defaults so every later layer
// only overrides what it sets.
const defaultYAML = `
pipeline:
  output_dir: ./output
  format: nifti
  skull_strip: true
  bias_correction: true
  normalization: true
  validate_inputs: true
  save_metadata: true
  compress_output: true
  workers: 1
telemetry:
  enabled: true
  endpoint: localhost:4317
  protocol: grpc
  service_name: neuroprep
  service_version: 0.1.0
  insecure: true
  sampling:
    rate: 1.0
  metrics:
    enabled: true
    export_interval: 10s
  shutdown:
    timeout: 5s
logging:
  level: info
  format: console
  output:
    stderr: true
    otel: false
  caller:
    enabled: false
    skip: 1
  fields:
    service: neuroprep
`

// Load loads configuration in precedence order (highest to lowest):
//
//  1. Environment variables (PIPELINE_OUTPUT_DIR, TELEMETRY_ENDPOINT, ...)
//  2. YAML config file (~/.config/neuroprep/config.yaml, or configPath)
//  3. Hardcoded defaults
//
// The standard OTEL environment variables OTEL_EXPORTER_OTLP_ENDPOINT and
// OTEL_SDK_DISABLED are honored on top of the neuroprep-specific ones.
//
// Environment variables use underscore separator and are uppercased, split
// on the first underscore into section and field:
//
//	PIPELINE_OUTPUT_DIR  -> pipeline.output_dir
//	TELEMETRY_ENDPOINT   -> telemetry.endpoint
//	LOGGING_LEVEL        -> logging.level
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaultYAML)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Use default config path if not specified
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "neuroprep", "config.yaml")
	}

	// Load from YAML file if it exists
	if _, err := os.Stat(configPath); err == nil {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Override with environment variables
	if err := k.Load(env.Provider("", ".", func(s string) string {
		// Split on first underscore only: SECTION_FIELD_NAME -> section.field_name
		lower := strings.ToLower(s)
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyOTELEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// readConfigFile opens and size-checks the config file through a single
// file descriptor to avoid a stat/read race.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// applyOTELEnv honors the standard OpenTelemetry SDK environment variables.
func applyOTELEnv(cfg *Config) {
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		endpoint = strings.TrimPrefix(endpoint, "https://")
		endpoint = strings.TrimPrefix(endpoint, "http://")
		cfg.Telemetry.Endpoint = endpoint
	}
	if strings.EqualFold(os.Getenv("OTEL_SDK_DISABLED"), "true") {
		cfg.Telemetry.Enabled = false
	}
}
