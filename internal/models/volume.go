package models

import (
	"fmt"
)

// Volume4D represents a functional (BOLD) image: a time series of 3D volumes.
type Volume4D struct {
	// Data is the voxel data as a 1D array in x-fastest order, one full
	// 3D volume per time point: Data[t*Nx*Ny*Nz + z*Nx*Ny + y*Nx + x]
	Data []float64

	// Nx, Ny, Nz are the spatial dimensions in voxels
	Nx, Ny, Nz int

	// NumVolumes is the number of time points (volumes)
	NumVolumes int

	// RepetitionTime is the sampling interval between volumes in seconds.
	// Zero when the source header carried no timing information.
	RepetitionTime float64

	// Affine is the 4x4 voxel-to-world transform, row-major
	Affine [16]float64
}

// Mask is a 3D boolean volume aligned to a functional image's spatial grid.
type Mask struct {
	// Data is the mask as a 1D boolean array in the same x-fastest order
	// as Volume4D, one entry per voxel
	Data []bool

	// Nx, Ny, Nz are the spatial dimensions in voxels
	Nx, Ny, Nz int

	// Affine is the 4x4 voxel-to-world transform, row-major
	Affine [16]float64
}

// DimensionError reports a spatial or dimensionality mismatch between a
// functional image and a mask, or a volume of the wrong rank.
type DimensionError struct {
	Want string
	Got  string
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %s, got %s", e.Want, e.Got)
}

// SpatialShape returns the spatial dimensions of the volume.
func (v *Volume4D) SpatialShape() [3]int {
	return [3]int{v.Nx, v.Ny, v.Nz}
}

// VoxelsPerVolume returns the number of voxels in a single 3D volume.
func (v *Volume4D) VoxelsPerVolume() int {
	return v.Nx * v.Ny * v.Nz
}

// At returns the intensity at spatial index i (flattened) and time point t.
func (v *Volume4D) At(i, t int) float64 {
	return v.Data[t*v.VoxelsPerVolume()+i]
}

// TrimLeadingVolumes returns a view of the volume with the first skip time
// points removed. The underlying data is shared, not copied.
func (v *Volume4D) TrimLeadingVolumes(skip int) *Volume4D {
	if skip <= 0 {
		return v
	}
	if skip > v.NumVolumes {
		skip = v.NumVolumes
	}
	trimmed := *v
	trimmed.Data = v.Data[skip*v.VoxelsPerVolume():]
	trimmed.NumVolumes = v.NumVolumes - skip
	return &trimmed
}

// NumActive returns the number of true entries in the mask.
func (m *Mask) NumActive() int {
	n := 0
	for _, on := range m.Data {
		if on {
			n++
		}
	}
	return n
}

// SameShape reports whether the mask's spatial grid matches the volume's.
func (m *Mask) SameShape(v *Volume4D) bool {
	return m.Nx == v.Nx && m.Ny == v.Ny && m.Nz == v.Nz
}

// CheckShape returns a DimensionError when the mask's spatial grid does not
// match the functional volume's first three dimensions.
func (m *Mask) CheckShape(v *Volume4D) error {
	if m.SameShape(v) {
		return nil
	}
	return &DimensionError{
		Want: fmt.Sprintf("mask shape matching functional dimensions (%d, %d, %d)", v.Nx, v.Ny, v.Nz),
		Got:  fmt.Sprintf("(%d, %d, %d)", m.Nx, m.Ny, m.Nz),
	}
}

// ExtractTimeSeries applies the mask to the volume and returns the selected
// voxel time series as a flat voxels-by-time matrix in row-major order
// (row = voxel, column = time point), together with the row count.
// Voxels appear in flattened spatial order, matching the mask layout.
func (m *Mask) ExtractTimeSeries(v *Volume4D) ([]float64, int, error) {
	if err := m.CheckShape(v); err != nil {
		return nil, 0, err
	}
	nVox := m.NumActive()
	T := v.NumVolumes
	out := make([]float64, nVox*T)
	row := 0
	for i, on := range m.Data {
		if !on {
			continue
		}
		for t := 0; t < T; t++ {
			out[row*T+t] = v.At(i, t)
		}
		row++
	}
	return out, nVox, nil
}

// ScatterRows writes per-voxel values back into a full 3D boolean volume:
// active[i] becomes the mask value for the i-th active voxel of the base
// mask. Used to turn a derived voxel selection into a spatial mask.
func (m *Mask) ScatterRows(active []bool) *Mask {
	out := &Mask{
		Data:   make([]bool, len(m.Data)),
		Nx:     m.Nx,
		Ny:     m.Ny,
		Nz:     m.Nz,
		Affine: m.Affine,
	}
	row := 0
	for i, on := range m.Data {
		if on {
			out.Data[i] = active[row]
			row++
		}
	}
	return out
}
