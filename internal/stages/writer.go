package stages

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/neuroprep/internal/logging"
	"github.com/fyrsmithlabs/neuroprep/internal/volume"
)

// Format identifies an output container format.
type Format string

const (
	FormatNIfTI   Format = "nifti"
	FormatMGZ     Format = "mgz"
	FormatAnalyze Format = "analyze"
)

// volumeMagic prefixes the binary payload so outputs are self-describing.
var volumeMagic = [4]byte{'N', 'P', 'V', '1'}

// ParseFormat validates a format tag.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatNIfTI, FormatMGZ, FormatAnalyze:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unsupported format %q (supported: nifti, mgz, analyze)", s)
	}
}

// extension returns the primary output extension for the format.
func (f Format) extension(compress bool) string {
	switch f {
	case FormatNIfTI:
		if compress {
			return ".nii.gz"
		}
		return ".nii"
	case FormatMGZ:
		return ".mgz"
	default:
		return ".img"
	}
}

// compressible reports whether the format supports gzip payloads.
func (f Format) compressible() bool {
	return f == FormatNIfTI
}

// DataWriter persists processed volumes plus optional metadata and report
// sidecars. All three files share the destination stem and differ by suffix.
type DataWriter struct {
	format     Format
	createDirs bool
	tracer     trace.Tracer
	log        *logging.Logger
}

// NewDataWriter creates a writer for the given format. createDirs controls
// whether missing parent directories are created on write.
func NewDataWriter(format Format, createDirs bool, tracer trace.Tracer, log *logging.Logger) (*DataWriter, error) {
	if _, err := ParseFormat(string(format)); err != nil {
		return nil, err
	}
	return &DataWriter{format: format, createDirs: createDirs, tracer: tracer, log: log}, nil
}

// Write persists the processed volume under destStem. Fails with
// KindIOFailure if the primary output or metadata sidecar cannot be written.
// A report sidecar failure is logged and discarded: the report is not part
// of the artifact's primary deliverable.
func (w *DataWriter) Write(ctx context.Context, in *ProcessResult, destStem string, opts WriteOptions) (*WriteResult, error) {
	ctx, span := w.tracer.Start(ctx, "write_output")
	defer span.End()

	compress := opts.Compress && w.format.compressible()
	outputPath := destStem + w.format.extension(compress)

	span.SetAttributes(
		attribute.String("output.path", outputPath),
		attribute.String("output.format", string(w.format)),
		attribute.Bool("output.compressed", compress),
	)
	w.log.Info(ctx, "writing output", zap.String("path", outputPath))

	start := time.Now()

	if w.createDirs {
		if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
			serr := NewError(KindIOFailure, "write", outputPath, err)
			recordSpanError(span, serr)
			return nil, serr
		}
	}

	rawBytes, err := w.writeVolume(in.Volume, outputPath, compress)
	if err != nil {
		serr := NewError(KindIOFailure, "write", outputPath, err)
		recordSpanError(span, serr)
		return nil, serr
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		serr := NewError(KindIOFailure, "write", outputPath, err)
		recordSpanError(span, serr)
		return nil, serr
	}

	ratio := 1.0
	if compress && info.Size() > 0 {
		ratio = float64(rawBytes) / float64(info.Size())
	}

	result := &WriteResult{
		OutputPath:       outputPath,
		FileSizeBytes:    info.Size(),
		CompressionRatio: ratio,
	}

	if opts.SaveMetadata {
		metadataPath := destStem + ".json"
		if err := w.writeMetadata(in, metadataPath, result); err != nil {
			serr := NewError(KindIOFailure, "write", metadataPath, err)
			recordSpanError(span, serr)
			return nil, serr
		}
		result.MetadataPath = metadataPath
	}

	if len(in.Steps) > 0 {
		reportPath := destStem + ".report.txt"
		if err := w.writeReport(in, reportPath); err != nil {
			// Reports are auxiliary; never fail the artifact over one.
			w.log.Warn(ctx, "could not write processing report",
				zap.String("path", reportPath), zap.Error(err))
		} else {
			result.ReportPath = reportPath
		}
	}

	result.WriteDuration = time.Since(start)
	span.SetAttributes(
		attribute.Int64("output.size_bytes", info.Size()),
		attribute.Float64("output.compression_ratio", ratio),
	)
	span.SetStatus(codes.Ok, "")
	w.log.Info(ctx, "output written",
		zap.String("path", outputPath),
		zap.Int64("size_bytes", info.Size()),
		zap.Duration("elapsed", result.WriteDuration))

	return result, nil
}

// writeVolume writes the binary payload: magic, dims, then little-endian
// float32 voxels. Returns the uncompressed payload size.
func (w *DataWriter) writeVolume(vol *volume.Volume, path string, compress bool) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var out io.Writer = f
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(f)
		out = gz
	}
	bw := bufio.NewWriter(out)

	if _, err := bw.Write(volumeMagic[:]); err != nil {
		return 0, err
	}
	for _, d := range vol.Dims {
		if err := binary.Write(bw, binary.LittleEndian, uint32(d)); err != nil {
			return 0, err
		}
	}
	if err := binary.Write(bw, binary.LittleEndian, vol.Data); err != nil {
		return 0, err
	}

	if err := bw.Flush(); err != nil {
		return 0, err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return 0, err
		}
	}
	if err := f.Close(); err != nil {
		return 0, err
	}

	rawBytes := int64(len(volumeMagic)) + 3*4 + int64(len(vol.Data))*4
	return rawBytes, nil
}

// sidecarMetadata is the structured record written next to the output file.
type sidecarMetadata struct {
	OriginalMetadata map[string]string `json:"original_metadata"`
	ProcessingSteps  []StepStats       `json:"processing_steps"`
	Output           outputDescriptor  `json:"output"`
}

type outputDescriptor struct {
	Path      string    `json:"path"`
	Format    string    `json:"format"`
	SizeBytes int64     `json:"size_bytes"`
	Generated time.Time `json:"generated"`
}

// writeMetadata serializes the combined metadata record as indented JSON.
func (w *DataWriter) writeMetadata(in *ProcessResult, path string, result *WriteResult) error {
	record := sidecarMetadata{
		OriginalMetadata: in.Metadata,
		ProcessingSteps:  in.Steps,
		Output: outputDescriptor{
			Path:      result.OutputPath,
			Format:    string(w.format),
			SizeBytes: result.FileSizeBytes,
			Generated: time.Now().UTC(),
		},
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// writeReport renders the human-readable processing summary.
func (w *DataWriter) writeReport(in *ProcessResult, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	divider := "============================================================\n"

	fmt.Fprint(bw, divider)
	fmt.Fprint(bw, "NEUROIMAGING PROCESSING REPORT\n")
	fmt.Fprint(bw, divider)
	fmt.Fprintf(bw, "\nGenerated: %s\n\n", time.Now().UTC().Format("2006-01-02 15:04:05"))

	fmt.Fprint(bw, "INPUT DATA:\n")
	if vol := in.Volume; vol != nil {
		fmt.Fprintf(bw, "  Shape: %s\n", shapeString(vol))
	}
	if modality, ok := in.Metadata["modality"]; ok {
		fmt.Fprintf(bw, "  Modality: %s\n", modality)
	}

	fmt.Fprint(bw, "\nPROCESSING STEPS:\n")
	for i, step := range in.Steps {
		fmt.Fprintf(bw, "  %d. %s\n", i+1, step.Name)
		fmt.Fprintf(bw, "     Time: %.3fs\n", step.Duration.Seconds())
		fmt.Fprintf(bw, "     Method: %s\n", step.Method)
	}

	fmt.Fprintf(bw, "\nTotal processing time: %.3fs\n", in.TotalDuration.Seconds())
	fmt.Fprint(bw, "\n")
	fmt.Fprint(bw, divider)

	if err := bw.Flush(); err != nil {
		return err
	}
	return f.Close()
}
