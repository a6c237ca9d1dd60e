package models

import (
	"errors"
	"testing"
)

func testVolume() *Volume4D {
	vol := &Volume4D{
		Data:       make([]float64, 2*2*1*4),
		Nx:         2,
		Ny:         2,
		Nz:         1,
		NumVolumes: 4,
	}
	for t := 0; t < 4; t++ {
		for i := 0; i < 4; i++ {
			vol.Data[t*4+i] = float64(10*t + i)
		}
	}
	return vol
}

func TestExtractTimeSeries(t *testing.T) {
	vol := testVolume()
	mask := &Mask{Data: []bool{true, false, false, true}, Nx: 2, Ny: 2, Nz: 1}

	flat, nVox, err := mask.ExtractTimeSeries(vol)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if nVox != 2 {
		t.Fatalf("nVox = %d, want 2", nVox)
	}
	// Voxel 0 carries series 0, 10, 20, 30; voxel 3 carries 3, 13, 23, 33.
	want := []float64{0, 10, 20, 30, 3, 13, 23, 33}
	for i, v := range flat {
		if v != want[i] {
			t.Errorf("flat[%d] = %g, want %g", i, v, want[i])
		}
	}
}

func TestExtractTimeSeriesShapeMismatch(t *testing.T) {
	vol := testVolume()
	mask := &Mask{Data: make([]bool, 8), Nx: 2, Ny: 2, Nz: 2}

	_, _, err := mask.ExtractTimeSeries(vol)
	var dimErr *DimensionError
	if !errors.As(err, &dimErr) {
		t.Fatalf("expected DimensionError, got %v", err)
	}
}

func TestTrimLeadingVolumes(t *testing.T) {
	vol := testVolume()

	trimmed := vol.TrimLeadingVolumes(2)
	if trimmed.NumVolumes != 2 {
		t.Fatalf("NumVolumes = %d, want 2", trimmed.NumVolumes)
	}
	if trimmed.Data[0] != 20 {
		t.Errorf("first trimmed value = %g, want 20", trimmed.Data[0])
	}

	if vol.TrimLeadingVolumes(0) != vol {
		t.Error("zero trim should return the volume unchanged")
	}
	if over := vol.TrimLeadingVolumes(10); over.NumVolumes != 0 {
		t.Errorf("over-trim NumVolumes = %d, want 0", over.NumVolumes)
	}
}

func TestScatterRows(t *testing.T) {
	base := &Mask{Data: []bool{true, false, true, true}, Nx: 2, Ny: 2, Nz: 1}
	out := base.ScatterRows([]bool{false, true, true})

	want := []bool{false, false, true, true}
	for i, v := range out.Data {
		if v != want[i] {
			t.Errorf("out[%d] = %v, want %v", i, v, want[i])
		}
	}
	if out.NumActive() != 2 {
		t.Errorf("NumActive = %d, want 2", out.NumActive())
	}
}
