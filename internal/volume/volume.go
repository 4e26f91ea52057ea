// Package volume provides the in-memory voxel buffer processed by the pipeline.
package volume

import (
	"fmt"
	"math"
)

// Volume is a dense 3D float32 voxel buffer in x-fastest order.
type Volume struct {
	Data []float32
	Dims [3]int
}

// New allocates a zeroed volume with the given dimensions.
func New(dx, dy, dz int) (*Volume, error) {
	if dx <= 0 || dy <= 0 || dz <= 0 {
		return nil, fmt.Errorf("invalid volume dimensions %dx%dx%d", dx, dy, dz)
	}
	return &Volume{
		Data: make([]float32, dx*dy*dz),
		Dims: [3]int{dx, dy, dz},
	}, nil
}

// VoxelCount returns the number of voxels in the volume.
func (v *Volume) VoxelCount() int {
	if v == nil {
		return 0
	}
	return len(v.Data)
}

// Empty reports whether the volume holds no voxels.
func (v *Volume) Empty() bool {
	return v.VoxelCount() == 0
}

// index maps (x, y, z) to the flat offset.
func (v *Volume) index(x, y, z int) int {
	return x + v.Dims[0]*(y+v.Dims[1]*z)
}

// At returns the voxel at (x, y, z).
func (v *Volume) At(x, y, z int) float32 {
	return v.Data[v.index(x, y, z)]
}

// Set stores value at (x, y, z).
func (v *Volume) Set(x, y, z int, value float32) {
	v.Data[v.index(x, y, z)] = value
}

// HasNonFinite reports whether any voxel is NaN or Inf.
func (v *Volume) HasNonFinite() bool {
	for _, f := range v.Data {
		f64 := float64(f)
		if math.IsNaN(f64) || math.IsInf(f64, 0) {
			return true
		}
	}
	return false
}

// Stats summarizes the intensity distribution of a volume.
type Stats struct {
	Mean float64
	Std  float64
	Min  float64
	Max  float64
}

// Summarize computes intensity statistics in a single pass plus variance pass.
func (v *Volume) Summarize() Stats {
	if v.Empty() {
		return Stats{}
	}

	min := math.Inf(1)
	max := math.Inf(-1)
	var sum float64
	for _, f := range v.Data {
		f64 := float64(f)
		sum += f64
		if f64 < min {
			min = f64
		}
		if f64 > max {
			max = f64
		}
	}
	mean := sum / float64(len(v.Data))

	var sq float64
	for _, f := range v.Data {
		d := float64(f) - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(v.Data)))

	return Stats{Mean: mean, Std: std, Min: min, Max: max}
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	if v == nil {
		return nil
	}
	data := make([]float32, len(v.Data))
	copy(data, v.Data)
	return &Volume{Data: data, Dims: v.Dims}
}
