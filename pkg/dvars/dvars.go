// Package dvars computes DVARS, the root-mean-square frame-to-frame signal
// change of a masked functional image, in three flavors: non-standardized,
// standardized by the mean predicted temporal-difference standard deviation
// of an AR(1) noise model, and standardized per voxel.
package dvars

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"fmriconfounds/internal/models"
	"fmriconfounds/pkg/detrend"
)

// Options control the DVARS computation.
type Options struct {
	// RemoveZeroVariance drops voxels whose robust standard deviation is
	// exactly zero before estimating the noise model.
	RemoveZeroVariance bool

	// IntensityNormalization rescales the masked data to this value times
	// the global median. Zero disables normalization; 1000 matches the
	// common convention.
	IntensityNormalization float64
}

// Result holds the three per-frame DVARS series (length T-1) and their
// means, reported as summary scalars.
type Result struct {
	Standardized    []float64
	NonStandardized []float64
	VoxelwiseStd    []float64

	MeanStandardized    float64
	MeanNonStandardized float64
	MeanVoxelwiseStd    float64
}

// NumericalError reports a non-finite condition in the voxelwise
// standardization, where a zero predicted difference standard deviation
// would otherwise silently produce infinities.
type NumericalError struct {
	Op string
}

func (e *NumericalError) Error() string {
	return "dvars: numerical error in " + e.Op
}

// Compute calculates all three DVARS variants for a functional image under
// a brain mask. The functional image must be 4D with at least two volumes.
func Compute(vol *models.Volume4D, mask *models.Mask, opts Options) (*Result, error) {
	if vol.NumVolumes < 2 {
		return nil, &models.DimensionError{
			Want: "a 4D functional image with at least 2 volumes",
			Got:  fmt.Sprintf("%d volume(s)", vol.NumVolumes),
		}
	}
	flat, nVox, err := mask.ExtractTimeSeries(vol)
	if err != nil {
		return nil, err
	}
	T := vol.NumVolumes

	if opts.IntensityNormalization != 0 {
		med := medianOf(append([]float64(nil), flat...))
		floats.Scale(opts.IntensityNormalization/med, flat)
	}

	// Robust per-voxel standard deviation from the interquartile range,
	// with lower-interpolated percentiles to match the FSL convention.
	funcSD := make([]float64, nVox)
	row := make([]float64, T)
	for v := 0; v < nVox; v++ {
		copy(row, flat[v*T:(v+1)*T])
		sort.Float64s(row)
		funcSD[v] = (percentileLower(row, 75) - percentileLower(row, 25)) / 1.349
	}

	if opts.RemoveZeroVariance {
		kept := flat[:0]
		keptSD := funcSD[:0]
		for v := 0; v < nVox; v++ {
			if funcSD[v] != 0 {
				kept = append(kept, flat[v*T:(v+1)*T]...)
				keptSD = append(keptSD, funcSD[v])
			}
		}
		flat = kept
		funcSD = keptSD
		nVox = len(funcSD)
	}
	if nVox == 0 {
		return nil, &NumericalError{Op: "robust variance estimation: no voxels with nonzero variance"}
	}

	// Lag-1 autocorrelation of each mean-removed voxel series, then the
	// AR(1)-predicted standard deviation of its temporal difference.
	demeaned, _ := detrend.RegressPoly(0, mat.NewDense(nVox, T, flat), true)
	diffSDHat := make([]float64, nVox)
	for v := 0; v < nVox; v++ {
		ar1 := yuleWalkerLag1(demeaned.RawRowView(v))
		diffSDHat[v] = math.Sqrt((1-ar1)*2) * funcSD[v]
	}
	diffSDMean := stat.Mean(diffSDHat, nil)

	res := &Result{
		Standardized:    make([]float64, T-1),
		NonStandardized: make([]float64, T-1),
		VoxelwiseStd:    make([]float64, T-1),
	}

	for t := 0; t < T-1; t++ {
		sum := 0.0
		for v := 0; v < nVox; v++ {
			d := flat[v*T+t+1] - flat[v*T+t]
			sum += d * d
		}
		res.NonStandardized[t] = math.Sqrt(sum / float64(nVox))
		res.Standardized[t] = res.NonStandardized[t] / diffSDMean
	}

	// The voxelwise standardization is the one place where a division is
	// escalated to a hard failure instead of substituting a sentinel.
	for v := 0; v < nVox; v++ {
		if diffSDHat[v] == 0 {
			return nil, &NumericalError{Op: "voxelwise standardization: zero predicted difference SD"}
		}
	}
	for t := 0; t < T-1; t++ {
		sum := 0.0
		for v := 0; v < nVox; v++ {
			d := (flat[v*T+t+1] - flat[v*T+t]) / diffSDHat[v]
			sum += d * d
		}
		val := math.Sqrt(sum / float64(nVox))
		if math.IsInf(val, 0) || math.IsNaN(val) {
			return nil, &NumericalError{Op: "voxelwise standardization: non-finite result"}
		}
		res.VoxelwiseStd[t] = val
	}

	res.MeanStandardized = stat.Mean(res.Standardized, nil)
	res.MeanNonStandardized = stat.Mean(res.NonStandardized, nil)
	res.MeanVoxelwiseStd = stat.Mean(res.VoxelwiseStd, nil)
	return res, nil
}

// WriteSeries writes one DVARS series as a single-column text file with
// six decimal places per value.
func WriteSeries(path string, series []float64) error {
	var b strings.Builder
	for _, v := range series {
		fmt.Fprintf(&b, "%0.6f\n", v)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// WriteAll writes the combined three-variant file: a tab-separated header
// followed by one row per frame pair with eight decimal places.
func WriteAll(path string, res *Result) error {
	var b strings.Builder
	b.WriteString("std DVARS\tnon-std DVARS\tvx-wise std DVARS\n")
	for t := range res.Standardized {
		fmt.Fprintf(&b, "%0.8f\t%0.8f\t%0.8f\n",
			res.Standardized[t], res.NonStandardized[t], res.VoxelwiseStd[t])
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// yuleWalkerLag1 estimates the lag-1 autocorrelation coefficient of a
// mean-removed series by the Yule-Walker method with biased autocovariance.
func yuleWalkerLag1(x []float64) float64 {
	n := float64(len(x))
	r0, r1 := 0.0, 0.0
	for i, v := range x {
		r0 += v * v
		if i+1 < len(x) {
			r1 += v * x[i+1]
		}
	}
	r0 /= n
	r1 /= n
	return r1 / r0
}

// percentileLower returns the p-th percentile of sorted data using lower
// interpolation: the value at index floor(p/100 * (n-1)).
func percentileLower(sorted []float64, p float64) float64 {
	idx := int(math.Floor(p / 100 * float64(len(sorted)-1)))
	return sorted[idx]
}

// medianOf returns the median, sorting its argument in place.
func medianOf(xs []float64) float64 {
	sort.Float64s(xs)
	n := len(xs)
	if n%2 == 1 {
		return xs[n/2]
	}
	return (xs[n/2-1] + xs[n/2]) / 2
}
