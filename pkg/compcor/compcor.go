// Package compcor implements component-based noise correction (CompCor)
// for fMRI data: it extracts the principal temporal components of voxel
// time series inside one or more noise regions of interest, for use as
// nuisance regressors. The anatomical (aCompCor) and temporal (tCompCor)
// variants share the same decomposition core and differ only in where
// their masks come from and how outputs are labeled.
package compcor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"fmriconfounds/internal/models"
	"fmriconfounds/pkg/detrend"
	"fmriconfounds/pkg/maskops"
)

// Variant selects the CompCor flavor. It controls the default output
// column prefix and, for the temporal variant, whether a high-variance
// voxel mask is derived from the data before extraction.
type Variant int

const (
	// Generic runs on whatever masks are supplied.
	Generic Variant = iota

	// Anatomical is identical to Generic apart from its output label;
	// its masks conventionally cover non-neural tissue.
	Anatomical

	// Temporal replaces the supplied masks with derived masks of the
	// highest-temporal-variance voxels before extraction.
	Temporal
)

// DefaultPrefix returns the component column prefix for the variant.
func (v Variant) DefaultPrefix() string {
	switch v {
	case Anatomical:
		return "aCompCor"
	case Temporal:
		return "tCompCor"
	}
	return "CompCor"
}

// FilterType selects the pre-filter applied to voxel time series before
// the decomposition.
type FilterType int

const (
	// FilterPolynomial removes a Legendre polynomial trend.
	FilterPolynomial FilterType = iota

	// FilterCosine removes a discrete-cosine low-frequency drift.
	FilterCosine

	// FilterNone removes only each voxel's mean (a degree-0 polynomial).
	FilterNone
)

// ParseFilterType maps a configuration string onto a FilterType.
func ParseFilterType(s string) (FilterType, error) {
	switch s {
	case "polynomial":
		return FilterPolynomial, nil
	case "cosine":
		return FilterCosine, nil
	case "none", "false", "":
		return FilterNone, nil
	}
	return 0, &ConfigError{Reason: fmt.Sprintf("unknown pre-filter %q", s)}
}

// ConfigError reports an invalid extraction configuration.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "compcor configuration: " + e.Reason
}

// ErrNoComponents is returned when components were requested but none of
// the masks produced any.
var ErrNoComponents = fmt.Errorf("compcor: no components found")

// Config holds the extraction parameters. Build one with NewConfig so the
// parameters are validated eagerly rather than midway through a run.
type Config struct {
	// Variant selects CompCor, aCompCor, or tCompCor behavior.
	Variant Variant

	// NumComponents is the number of components to keep per mask.
	NumComponents int

	// VarianceThreshold, when non-zero, selects per mask the smallest
	// leading set of components whose cumulative explained variance
	// reaches the threshold, overriding NumComponents. Must lie in (0, 1).
	VarianceThreshold float64

	// Filter is the pre-filter applied before decomposition.
	Filter FilterType

	// Degree is the polynomial order for FilterPolynomial.
	Degree int

	// PeriodCut is the high-pass period cutoff in seconds for FilterCosine.
	PeriodCut float64

	// RepetitionTime is the volume sampling interval in seconds, required
	// by FilterCosine. Zero means "derive from the image header".
	RepetitionTime float64

	// IgnoreInitialVolumes is the number of leading non-steady-state
	// volumes to exclude from filtering and decomposition. The excluded
	// rows reappear as zeros in the outputs.
	IgnoreInitialVolumes int

	// PercentileThreshold sets the high-variance voxel fraction for the
	// temporal variant (0 < threshold < 1).
	PercentileThreshold float64

	// Prefix overrides the variant's default component column prefix.
	Prefix string

	// MaskSelection controls how multiple masks are reduced before
	// extraction; nil passes a single mask through.
	MaskSelection *maskops.Selection
}

// NewConfig returns a validated configuration with the usual defaults:
// six components, polynomial pre-filter, 128 s period cutoff, and a 0.98
// percentile threshold for the temporal variant.
func NewConfig(variant Variant) Config {
	return Config{
		Variant:             variant,
		NumComponents:       6,
		Filter:              FilterPolynomial,
		PeriodCut:           128,
		PercentileThreshold: 0.98,
	}
}

// Validate checks the configuration against a source volume, filling the
// repetition time from the volume header when it was not set explicitly.
func (c *Config) Validate(vol *models.Volume4D) error {
	if c.NumComponents < 0 {
		return &ConfigError{Reason: fmt.Sprintf("number of components must be non-negative, got %d", c.NumComponents)}
	}
	if c.VarianceThreshold < 0 || c.VarianceThreshold >= 1 {
		return &ConfigError{Reason: fmt.Sprintf("variance threshold must be in [0, 1), got %g", c.VarianceThreshold)}
	}
	if c.Filter == FilterCosine && c.RepetitionTime == 0 {
		if vol.RepetitionTime == 0 {
			return &ConfigError{Reason: "cosine pre-filter requires a repetition time, and the image header carries none"}
		}
		c.RepetitionTime = vol.RepetitionTime
	}
	if c.Variant == Temporal && (c.PercentileThreshold <= 0 || c.PercentileThreshold >= 1) {
		return &ConfigError{Reason: fmt.Sprintf("percentile threshold must be in (0, 1), got %g", c.PercentileThreshold)}
	}
	if c.IgnoreInitialVolumes < 0 {
		return &ConfigError{Reason: fmt.Sprintf("ignore_initial_volumes must be non-negative, got %d", c.IgnoreInitialVolumes)}
	}
	return nil
}

// HeaderPrefix returns the effective component column prefix.
func (c *Config) HeaderPrefix() string {
	if c.Prefix != "" {
		return c.Prefix
	}
	return c.Variant.DefaultPrefix()
}

// Result is the outcome of an extraction run.
type Result struct {
	// Components is the time-by-K matrix of noise components, ordered by
	// descending singular value within each mask and concatenated across
	// masks in input order. Its row count always matches the un-trimmed
	// source time series length; skipped leading volumes are zero rows.
	Components *mat.Dense

	// ComponentHeaders are the output column names, Prefix00, Prefix01, ...
	ComponentHeaders []string

	// Basis is the non-constant pre-filter basis from the last processed
	// mask, padded the same way as Components and extended with one-hot
	// columns for skipped volumes. Nil when the basis is empty and no
	// volumes were skipped.
	Basis *mat.Dense

	// BasisHeaders are the basis column names: Legendre00/Cosine00, ...
	// plus NonSteadyStateOutlierNN for each skipped volume.
	BasisHeaders []string

	// VarianceExplained holds, per mask, the fraction of variance each
	// retained component explains.
	VarianceExplained [][]float64

	// HighVarianceMaskPaths lists the derived mask files written by the
	// temporal variant, in mask input order. Empty for other variants.
	HighVarianceMaskPaths []string
}

// Extract runs the full CompCor pipeline: mask combination, optional
// high-variance mask derivation (temporal variant), leading-volume
// trimming, per-mask decomposition, and zero-padding of the outputs back
// to the full time series length.
//
// maskOutDir receives the derived mask volumes for the temporal variant
// and is unused otherwise.
func Extract(vol *models.Volume4D, masks []*models.Mask, cfg Config, maskOutDir string) (*Result, error) {
	if err := cfg.Validate(vol); err != nil {
		return nil, err
	}
	masks, err := maskops.Combine(masks, cfg.MaskSelection)
	if err != nil {
		return nil, err
	}

	fullT := vol.NumVolumes
	skip := cfg.IgnoreInitialVolumes
	trimmed := vol.TrimLeadingVolumes(skip)

	// The temporal variant ranks voxel variance on the same series the
	// decomposition will see, after any leading volumes are excluded.
	var maskPaths []string
	if cfg.Variant == Temporal {
		masks, maskPaths, err = DeriveHighVarianceMasks(trimmed, masks, cfg.PercentileThreshold, maskOutDir)
		if err != nil {
			return nil, err
		}
	}

	components, basis, varExplained, err := computeNoiseComponents(trimmed, masks, cfg)
	if err != nil {
		return nil, err
	}

	res := &Result{
		VarianceExplained:     varExplained,
		HighVarianceMaskPaths: maskPaths,
	}
	res.Components = padRows(components, skip, 0)
	if res.Components != nil {
		_, k := res.Components.Dims()
		for i := 0; i < k; i++ {
			res.ComponentHeaders = append(res.ComponentHeaders, fmt.Sprintf("%s%02d", cfg.HeaderPrefix(), i))
		}
	}

	res.Basis, res.BasisHeaders = padBasis(basis, skip, fullT, cfg.Filter)
	return res, nil
}

// computeNoiseComponents runs the decomposition for each mask and
// horizontally concatenates the component matrices in mask order. It
// returns the components, the pre-filter basis of the last mask, and the
// per-mask variance-explained shares.
func computeNoiseComponents(vol *models.Volume4D, masks []*models.Mask, cfg Config) (*mat.Dense, *mat.Dense, [][]float64, error) {
	var components *mat.Dense
	var basis *mat.Dense
	var varExplained [][]float64

	for _, mask := range masks {
		flat, nVox, err := mask.ExtractTimeSeries(vol)
		if err != nil {
			return nil, nil, nil, err
		}
		if nVox == 0 {
			continue
		}
		T := vol.NumVolumes
		data := mat.NewDense(nVox, T, flat)
		zeroNaNRows(data)

		var residual *mat.Dense
		switch cfg.Filter {
		case FilterCosine:
			residual, basis = detrend.CosineFilter(data, cfg.RepetitionTime, cfg.PeriodCut, true)
		case FilterPolynomial:
			residual, basis = detrend.RegressPoly(cfg.Degree, data, true)
		default:
			residual, basis = detrend.RegressPoly(0, data, true)
		}

		// Time-by-voxel layout, each voxel normalized to unit variance.
		M := new(mat.Dense)
		M.CloneFrom(residual.T())
		normalizeColumns(M)

		var svd mat.SVD
		if ok := svd.Factorize(M, mat.SVDThin); !ok {
			return nil, nil, nil, fmt.Errorf("compcor: SVD failed to converge for a %dx%d matrix", T, nVox)
		}
		var u mat.Dense
		svd.UTo(&u)
		_, uCols := u.Dims()

		s := svd.Values(nil)
		total := 0.0
		for _, v := range s {
			total += v * v
		}

		take := cfg.NumComponents
		if cfg.VarianceThreshold > 0 {
			// Keep the smallest leading set of components whose
			// cumulative explained variance reaches the threshold.
			take = uCols
			cum := 0.0
			for i, v := range s {
				cum += v * v / total
				if cum >= cfg.VarianceThreshold {
					take = i + 1
					break
				}
			}
		}
		if take > uCols {
			take = uCols
		}
		if take == 0 {
			continue
		}
		sub := u.Slice(0, T, 0, take).(*mat.Dense)

		shares := make([]float64, take)
		for i := 0; i < take; i++ {
			shares[i] = s[i] * s[i] / total
		}
		varExplained = append(varExplained, shares)

		if components == nil {
			components = mat.DenseCopyOf(sub)
		} else {
			components = hstack(components, sub)
		}
	}

	if components == nil && (cfg.NumComponents > 0 || cfg.VarianceThreshold > 0) {
		return nil, nil, nil, ErrNoComponents
	}
	return components, basis, varExplained, nil
}

// zeroNaNRows replaces every row that contains a NaN anywhere in its time
// series with zeros, preserving row alignment with the mask.
func zeroNaNRows(data *mat.Dense) {
	rows, cols := data.Dims()
	for i := 0; i < rows; i++ {
		row := data.RawRowView(i)
		bad := false
		for _, v := range row {
			if math.IsNaN(v) {
				bad = true
				break
			}
		}
		if bad {
			for j := 0; j < cols; j++ {
				row[j] = 0
			}
		}
	}
}

// normalizeColumns divides each column by its temporal standard deviation.
// Zero and NaN standard deviations pass values through unchanged.
func normalizeColumns(M *mat.Dense) {
	rows, cols := M.Dims()
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, M)
		sd := populationStd(col, 1)
		for i := 0; i < rows; i++ {
			M.Set(i, j, M.At(i, j)/sd)
		}
	}
}

// populationStd computes the standard deviation with the population
// (divide-by-N) convention, substituting sentinel for zero or NaN results.
func populationStd(xs []float64, sentinel float64) float64 {
	n := float64(len(xs))
	mean := 0.0
	for _, v := range xs {
		mean += v
	}
	mean /= n
	ss := 0.0
	for _, v := range xs {
		d := v - mean
		ss += d * d
	}
	sd := math.Sqrt(ss / n)
	if sd == 0 || math.IsNaN(sd) {
		return sentinel
	}
	return sd
}

// hstack concatenates two matrices with equal row counts side by side.
func hstack(a, b *mat.Dense) *mat.Dense {
	ra, ca := a.Dims()
	_, cb := b.Dims()
	out := mat.NewDense(ra, ca+cb, nil)
	out.Slice(0, ra, 0, ca).(*mat.Dense).Copy(a)
	out.Slice(0, ra, ca, ca+cb).(*mat.Dense).Copy(b)
	return out
}

// padRows returns m with pad zero rows prepended and extraCols zero
// columns appended. A nil input with no padding stays nil.
func padRows(m *mat.Dense, pad, extraCols int) *mat.Dense {
	if m == nil {
		return nil
	}
	if pad == 0 && extraCols == 0 {
		return m
	}
	rows, cols := m.Dims()
	out := mat.NewDense(rows+pad, cols+extraCols, nil)
	out.Slice(pad, pad+rows, 0, cols).(*mat.Dense).Copy(m)
	return out
}

// padBasis rebuilds the pre-filter basis output for a run that skipped
// leading volumes: the basis rows shift down by the skip count, and each
// skipped volume contributes a one-hot indicator column. The returned
// headers cover both the basis columns and the indicator columns.
func padBasis(basis *mat.Dense, skip, fullT int, filter FilterType) (*mat.Dense, []string) {
	name := "Legendre"
	if filter == FilterCosine {
		name = "Cosine"
	}

	ncols := 0
	if basis != nil {
		_, ncols = basis.Dims()
	}
	headers := make([]string, 0, ncols+skip)
	for i := 0; i < ncols; i++ {
		headers = append(headers, fmt.Sprintf("%s%02d", name, i))
	}
	if skip == 0 {
		return basis, headers
	}

	out := mat.NewDense(fullT, ncols+skip, nil)
	if basis != nil {
		out.Slice(skip, fullT, 0, ncols).(*mat.Dense).Copy(basis)
	}
	for i := 0; i < skip; i++ {
		out.Set(i, ncols+i, 1)
		headers = append(headers, fmt.Sprintf("NonSteadyStateOutlier%02d", i))
	}
	return out, headers
}
