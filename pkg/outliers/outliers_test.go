package outliers

import (
	"testing"

	"fmriconfounds/internal/models"
)

func TestLeadingCountStopsAtFirstInlier(t *testing.T) {
	// The first three points sit far from the median, the fourth is the
	// median itself, and a late point is extreme again. Only the leading
	// run counts; the late outlier must not.
	points := []float64{40, 30, 20, 1, 2, 0, 1, 1, 1, 1, 100}
	if got := LeadingCount1D(points, DefaultThreshold); got != 3 {
		t.Errorf("LeadingCount1D = %d, want 3", got)
	}
}

func TestLeadingCountNoOutliers(t *testing.T) {
	points := []float64{1, 2, 1, 2, 1, 2, 1, 2}
	if got := LeadingCount1D(points, DefaultThreshold); got != 0 {
		t.Errorf("LeadingCount1D = %d, want 0", got)
	}
}

func TestLeadingCountEmpty(t *testing.T) {
	if got := LeadingCount(nil, DefaultThreshold); got != 0 {
		t.Errorf("LeadingCount(nil) = %d, want 0", got)
	}
}

func TestLeadingCountMultivariate(t *testing.T) {
	points := [][]float64{
		{50, 50},
		{0, 1},
		{1, 0},
		{0, 0},
		{1, 1},
		{0, 1},
		{1, 0},
	}
	if got := LeadingCount(points, DefaultThreshold); got != 1 {
		t.Errorf("LeadingCount = %d, want 1", got)
	}
}

func TestCountNonSteadyState(t *testing.T) {
	// Two saturated leading volumes, then a stable signal.
	nx, ny, nz, T := 2, 2, 2, 20
	vol := &models.Volume4D{
		Data:       make([]float64, nx*ny*nz*T),
		Nx:         nx,
		Ny:         ny,
		Nz:         nz,
		NumVolumes: T,
	}
	for t2 := 0; t2 < T; t2++ {
		level := 1.0
		switch t2 {
		case 0:
			level = 500
		case 1:
			level = 300
		}
		// A little per-volume wobble keeps the MAD nonzero.
		if t2 >= 2 && t2%2 == 0 {
			level = 1.05
		}
		for i := 0; i < nx*ny*nz; i++ {
			vol.Data[t2*nx*ny*nz+i] = level
		}
	}

	if got := CountNonSteadyState(vol); got != 2 {
		t.Errorf("CountNonSteadyState = %d, want 2", got)
	}
}
