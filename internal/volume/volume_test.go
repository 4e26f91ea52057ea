package volume

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidDimensions(t *testing.T) {
	tests := []struct {
		name       string
		dx, dy, dz int
	}{
		{"zero x", 0, 10, 10},
		{"zero y", 10, 0, 10},
		{"zero z", 10, 10, 0},
		{"negative", -1, 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := New(tt.dx, tt.dy, tt.dz)
			require.Error(t, err)
			assert.Nil(t, v)
		})
	}
}

func TestVolume_AtSet(t *testing.T) {
	v, err := New(4, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, 24, v.VoxelCount())

	v.Set(3, 2, 1, 42.5)
	assert.Equal(t, float32(42.5), v.At(3, 2, 1))
	assert.Equal(t, float32(0), v.At(0, 0, 0))

	// Last flat index maps to the last coordinate
	assert.Equal(t, float32(42.5), v.Data[23])
}

func TestVolume_Empty(t *testing.T) {
	var nilVol *Volume
	assert.True(t, nilVol.Empty())
	assert.True(t, (&Volume{}).Empty())

	v, err := New(2, 2, 2)
	require.NoError(t, err)
	assert.False(t, v.Empty())
}

func TestVolume_HasNonFinite(t *testing.T) {
	v, err := New(2, 2, 2)
	require.NoError(t, err)
	assert.False(t, v.HasNonFinite())

	v.Data[3] = float32(math.NaN())
	assert.True(t, v.HasNonFinite())

	v.Data[3] = float32(math.Inf(1))
	assert.True(t, v.HasNonFinite())
}

func TestVolume_Summarize(t *testing.T) {
	v, err := New(2, 2, 1)
	require.NoError(t, err)
	copy(v.Data, []float32{1, 2, 3, 4})

	stats := v.Summarize()
	assert.InDelta(t, 2.5, stats.Mean, 1e-9)
	assert.InDelta(t, math.Sqrt(1.25), stats.Std, 1e-9)
	assert.Equal(t, 1.0, stats.Min)
	assert.Equal(t, 4.0, stats.Max)

	assert.Equal(t, Stats{}, (&Volume{}).Summarize())
}

func TestVolume_CloneIsIndependent(t *testing.T) {
	v, err := New(2, 2, 2)
	require.NoError(t, err)
	v.Set(1, 1, 1, 7)

	c := v.Clone()
	require.NotNil(t, c)
	assert.Equal(t, v.Dims, c.Dims)
	assert.Equal(t, float32(7), c.At(1, 1, 1))

	c.Set(1, 1, 1, 9)
	assert.Equal(t, float32(7), v.At(1, 1, 1))

	var nilVol *Volume
	assert.Nil(t, nilVol.Clone())
}
