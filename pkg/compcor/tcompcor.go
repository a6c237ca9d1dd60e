package compcor

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/mat"

	"fmriconfounds/internal/models"
	"fmriconfounds/pkg/detrend"
	"fmriconfounds/pkg/nifti"
)

// HighVarianceMask derives the tCompCor mask: the voxels of the base mask
// whose temporal standard deviation, after a fixed quadratic detrend,
// falls in the top percentile of the distribution.
//
// The secondary detrend is always a degree-2 Legendre fit with mean
// removal, independent of the pre-filter chosen for extraction. The
// threshold is the standard-deviation value at the integer-rounded
// percentile 100*(1-percentileThreshold); voxels at or above it are
// active. With a default threshold and a tiny mask the result can contain
// a single voxel, which is valid.
func HighVarianceMask(vol *models.Volume4D, base *models.Mask, percentileThreshold float64) (*models.Mask, error) {
	flat, nVox, err := base.ExtractTimeSeries(vol)
	if err != nil {
		return nil, err
	}
	if nVox == 0 {
		return base.ScatterRows(nil), nil
	}

	residual, _ := detrend.RegressPoly(2, mat.NewDense(nVox, vol.NumVolumes, flat), true)

	// Zero is the pass-through value here: a flat voxel can never clear
	// a positive variance threshold.
	tSTD := make([]float64, nVox)
	for v := 0; v < nVox; v++ {
		tSTD[v] = populationStd(residual.RawRowView(v), 0)
	}

	pct := math.Round(100 * (1 - percentileThreshold))
	threshold := percentileLinear(tSTD, pct)

	active := make([]bool, nVox)
	for v := range tSTD {
		active[v] = tSTD[v] >= threshold
	}
	return base.ScatterRows(active), nil
}

// DeriveHighVarianceMasks derives one high-variance mask per base mask and
// persists each as a sequentially numbered NIfTI volume under outDir. It
// returns the derived masks and their file paths in base-mask order.
func DeriveHighVarianceMasks(vol *models.Volume4D, bases []*models.Mask, percentileThreshold float64, outDir string) ([]*models.Mask, []string, error) {
	if outDir != "" {
		if err := os.MkdirAll(outDir, 0755); err != nil {
			return nil, nil, fmt.Errorf("creating mask output directory: %w", err)
		}
	}
	masks := make([]*models.Mask, 0, len(bases))
	paths := make([]string, 0, len(bases))
	for i, base := range bases {
		derived, err := HighVarianceMask(vol, base, percentileThreshold)
		if err != nil {
			return nil, nil, err
		}
		masks = append(masks, derived)
		if outDir == "" {
			continue
		}
		path := filepath.Join(outDir, fmt.Sprintf("mask_%03d.nii.gz", i))
		if err := nifti.SaveMask(derived, path); err != nil {
			return nil, nil, err
		}
		paths = append(paths, path)
	}
	return masks, paths, nil
}

// percentileLinear returns the p-th percentile (0..100) of data using
// linear interpolation between the two nearest order statistics.
func percentileLinear(data []float64, p float64) float64 {
	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
