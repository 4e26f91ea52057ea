// Package telemetry provides OpenTelemetry instrumentation for neuroprep.
//
// # Overview
//
// This package implements distributed tracing and metrics collection using
// the OpenTelemetry Go SDK. It exports telemetry data to an OTEL Collector
// over OTLP (gRPC by default, http/protobuf optionally).
//
// # Usage
//
// Create a telemetry instance:
//
//	cfg := telemetry.NewDefaultConfig()
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(ctx)
//
// Use tracer and meter:
//
//	tracer := tel.Tracer("neuroprep.pipeline")
//	ctx, span := tracer.Start(ctx, "preprocess_file")
//	defer span.End()
//
//	meter := tel.Meter("neuroprep.pipeline")
//	counter, _ := meter.Int64Counter("neuro.files.processed")
//	counter.Add(ctx, 1)
//
// # Degradation
//
// Exporter failures never abort the pipeline: provider initialization errors
// leave a degraded but functional instance whose Tracer and Meter fall back
// to the global (no-op) providers.
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  service_name: "neuroprep"
//	  sampling:
//	    rate: 1.0
//	  metrics:
//	    enabled: true
//	    export_interval: 10s
package telemetry
