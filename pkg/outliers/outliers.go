// Package outliers implements a modified-Z-score outlier count used to
// detect non-steady-state volumes at the start of a functional scan.
package outliers

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"fmriconfounds/internal/models"
)

// DefaultThreshold is the modified-Z-score cutoff above which a point is
// considered an outlier.
const DefaultThreshold = 3.5

// steadyStateWindow caps how many leading volumes are inspected when
// counting non-steady-state volumes.
const steadyStateWindow = 50

// LeadingCount returns the number of consecutive outliers at the start of
// points. Scoring is the modified Z-score: 0.6745 times each point's
// Euclidean distance from the median, divided by the median of those
// distances. Counting stops at the first point at or below thresh, so a
// later outlier after a steady point is never counted.
//
// Each element of points is one observation; multivariate observations use
// the per-dimension median as the reference point.
func LeadingCount(points [][]float64, thresh float64) int {
	n := len(points)
	if n == 0 {
		return 0
	}
	dims := len(points[0])

	median := make([]float64, dims)
	col := make([]float64, n)
	for d := 0; d < dims; d++ {
		for i := range points {
			col[i] = points[i][d]
		}
		median[d] = medianOf(col)
	}

	dist := make([]float64, n)
	for i := range points {
		sum := 0.0
		for d := 0; d < dims; d++ {
			delta := points[i][d] - median[d]
			sum += delta * delta
		}
		dist[i] = math.Sqrt(sum)
	}

	mad := medianOf(append([]float64(nil), dist...))

	count := 0
	for _, d := range dist {
		if 0.6745*d/mad <= thresh {
			break
		}
		count++
	}
	return count
}

// LeadingCount1D is LeadingCount for a scalar series.
func LeadingCount1D(points []float64, thresh float64) int {
	wrapped := make([][]float64, len(points))
	for i, p := range points {
		wrapped[i] = []float64{p}
	}
	return LeadingCount(wrapped, thresh)
}

// CountNonSteadyState counts the non-steady-state volumes at the start of
// a functional scan by scoring the mean global signal of the first volumes
// (at most the steady-state window) with the default threshold.
func CountNonSteadyState(vol *models.Volume4D) int {
	T := vol.NumVolumes
	if T > steadyStateWindow {
		T = steadyStateWindow
	}
	nVox := vol.VoxelsPerVolume()
	global := make([]float64, T)
	for t := 0; t < T; t++ {
		global[t] = stat.Mean(vol.Data[t*nVox:(t+1)*nVox], nil)
	}
	return LeadingCount1D(global, DefaultThreshold)
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
