package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/neuroprep/internal/stages"
)

var infoCmd = &cobra.Command{
	Use:   "info <input-file>",
	Short: "Display information about a neuroimaging file",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx, nil)
	if err != nil {
		return err
	}
	defer rt.close(ctx)

	// Inspection never validates; a file that would fail the pipeline
	// can still be described.
	loader := stages.NewDataLoader(false, rt.tel.Tracer("neuroprep/info"), rt.log)
	result, err := loader.Load(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("File: %s\n", args[0])
	fmt.Printf("Size: %.2f MB\n", float64(result.FileSizeBytes)/(1024*1024))
	fmt.Printf("Shape: %dx%dx%d\n", result.Volume.Dims[0], result.Volume.Dims[1], result.Volume.Dims[2])
	fmt.Printf("Voxels: %d\n", result.Volume.VoxelCount())

	fmt.Println("\nMetadata:")
	keys := make([]string, 0, len(result.Metadata))
	for k := range result.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s: %s\n", k, result.Metadata[k])
	}

	return nil
}
