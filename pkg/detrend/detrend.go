// Package detrend implements the voxel-wise pre-filters applied to fMRI
// time series before noise-component extraction: Legendre polynomial
// detrending and discrete-cosine high-pass filtering.
//
// Both filters operate on a voxels-by-time matrix and return a residual of
// identical shape plus the non-constant part of the design basis, which is
// what gets reported as the "pre-filter" regressors.
package detrend

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// conditionMax is the condition-number ceiling above which the cosine drift
// basis is regularized before fitting.
const conditionMax = 1e15

// RegressPoly removes a Legendre polynomial trend of the given degree from
// each row (voxel) of data, a voxels-by-time matrix.
//
// The design basis has the constant term in column 0 and the Legendre
// polynomials of order 1..degree (evaluated over the time axis normalized
// to [-1, 1]) in the remaining columns. The fit uses the Moore-Penrose
// pseudo-inverse of the basis so rank-deficient designs still produce a
// bounded solution.
//
// When removeMean is false, the constant column and its coefficient row are
// dropped before reconstruction, so the trend is removed but each voxel's
// mean is preserved.
//
// Returns the residual (same shape as data) and the non-constant basis
// columns as a time-by-degree matrix; the basis is nil when degree is 0.
func RegressPoly(degree int, data *mat.Dense, removeMean bool) (*mat.Dense, *mat.Dense) {
	_, T := data.Dims()
	X := legendreBasis(T, degree)

	// betas = pinv(X) . data^T
	var dataT mat.Dense
	dataT.CloneFrom(data.T())
	betas := new(mat.Dense)
	betas.Mul(pseudoInverse(X), &dataT)

	fitX := X
	fitBetas := betas
	if !removeMean && degree > 0 {
		fitX = dropColumn(X, 0)
		fitBetas = dropRow(betas, 0)
	}

	residual := subtractFit(data, fitX, fitBetas, removeMean || degree > 0)
	return residual, nonConstantColumns(X, 0)
}

// CosineFilter removes a discrete-cosine low-frequency drift from each row
// (voxel) of data, a voxels-by-time matrix. Frame times are timestep*k for
// k = 0..T-1, and periodCut is the high-pass period cutoff in the same
// units as timestep.
//
// The drift basis has the cosine terms first and a constant column last;
// the constant is left at 1.0 rather than being normalized like the cosine
// terms, matching the reference drift-basis convention. Ill-conditioned
// bases are regularized by shifting all singular values before the fit.
//
// Unlike RegressPoly, the fit is ordinary least squares.
func CosineFilter(data *mat.Dense, timestep, periodCut float64, removeMean bool) (*mat.Dense, *mat.Dense) {
	_, T := data.Dims()
	X := fullRank(cosineDriftBasis(periodCut, timestep, T))

	var dataT mat.Dense
	dataT.CloneFrom(data.T())
	betas := new(mat.Dense)
	if err := betas.Solve(X, &dataT); err != nil {
		// Singular even after regularization; fall back to the
		// pseudo-inverse solution.
		betas.Mul(pseudoInverse(X), &dataT)
	}

	_, cols := X.Dims()
	fitX := X
	fitBetas := betas
	if !removeMean && cols > 1 {
		fitX = dropColumn(X, cols-1)
		fitBetas = dropRow(betas, cols-1)
	}

	residual := subtractFit(data, fitX, fitBetas, removeMean || cols > 1)
	return residual, nonConstantColumns(X, cols-1)
}

// legendreBasis builds the time-by-(degree+1) Legendre design basis with
// the constant term in column 0. The polynomials are evaluated at points
// evenly spaced over [-1, 1] using the Bonnet recurrence.
func legendreBasis(T, degree int) *mat.Dense {
	X := mat.NewDense(T, degree+1, nil)
	for k := 0; k < T; k++ {
		x := -1.0
		if T > 1 {
			x = -1.0 + 2.0*float64(k)/float64(T-1)
		}
		// P0 = 1, P1 = x, (n+1) P_{n+1} = (2n+1) x Pn - n P_{n-1}
		p0, p1 := 1.0, x
		X.Set(k, 0, p0)
		if degree >= 1 {
			X.Set(k, 1, p1)
		}
		for n := 1; n < degree; n++ {
			p2 := (float64(2*n+1)*x*p1 - float64(n)*p0) / float64(n+1)
			X.Set(k, n+1, p2)
			p0, p1 = p1, p2
		}
	}
	return X
}

// cosineDriftBasis builds the time-by-order discrete cosine drift basis.
// Columns 0..order-2 hold sqrt(2/T)-scaled cosine terms of increasing
// frequency; the final column is the constant 1.0.
func cosineDriftBasis(periodCut, timestep float64, T int) *mat.Dense {
	order := int(math.Floor(2.0 * float64(T) * timestep / periodCut))
	if order < 1 {
		order = 1
	}
	X := mat.NewDense(T, order, nil)
	nfct := math.Sqrt(2.0 / float64(T))
	for j := 1; j < order; j++ {
		for k := 0; k < T; k++ {
			X.Set(k, j-1, nfct*math.Cos(math.Pi/float64(T)*(float64(k)+0.5)*float64(j)))
		}
	}
	for k := 0; k < T; k++ {
		X.Set(k, order-1, 1.0)
	}
	return X
}

// fullRank guards the fit against an ill-conditioned basis. When the
// condition number exceeds conditionMax, a scalar is added to every
// singular value and the matrix is rebuilt from the shifted decomposition.
func fullRank(X *mat.Dense) *mat.Dense {
	var svd mat.SVD
	if ok := svd.Factorize(X, mat.SVDThin); !ok {
		return X
	}
	s := svd.Values(nil)
	smax, smin := s[0], s[len(s)-1]
	if smin > 0 && smax/smin < conditionMax {
		return X
	}
	lambda := (smax - conditionMax*smin) / (conditionMax - 1)
	for i := range s {
		s[i] += lambda
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	out := new(mat.Dense)
	out.Mul(&u, diagTimesT(s, &v))
	return out
}

// pseudoInverse computes the Moore-Penrose pseudo-inverse via thin SVD,
// zeroing singular values below the conventional relative tolerance.
func pseudoInverse(X *mat.Dense) *mat.Dense {
	r, c := X.Dims()
	var svd mat.SVD
	if ok := svd.Factorize(X, mat.SVDThin); !ok {
		// A failed factorization leaves no better option than the
		// transpose-shaped zero matrix.
		return mat.NewDense(c, r, nil)
	}
	s := svd.Values(nil)
	n := r
	if c > n {
		n = c
	}
	tol := float64(n) * s[0] * 1e-15
	inv := make([]float64, len(s))
	for i, v := range s {
		if v > tol {
			inv[i] = 1.0 / v
		}
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	out := new(mat.Dense)
	out.Mul(&v, diagTimesT(inv, &u))
	return out
}

// diagTimesT returns diag(d) . M^T for a thin-SVD factor M.
func diagTimesT(d []float64, m *mat.Dense) *mat.Dense {
	rows, _ := m.Dims()
	out := mat.NewDense(len(d), rows, nil)
	for i := range d {
		for j := 0; j < rows; j++ {
			out.Set(i, j, d[i]*m.At(j, i))
		}
	}
	return out
}

// subtractFit reconstructs the fitted trend (X . betas)^T and subtracts it
// from data. When hasFit is false there is nothing to subtract and the
// input is copied unchanged.
func subtractFit(data, X, betas *mat.Dense, hasFit bool) *mat.Dense {
	residual := new(mat.Dense)
	residual.CloneFrom(data)
	if !hasFit {
		return residual
	}
	var hat mat.Dense
	hat.Mul(X, betas)
	residual.Sub(residual, hat.T())
	return residual
}

// nonConstantColumns returns X with the constant column at constIdx
// removed, or nil when no non-constant columns remain.
func nonConstantColumns(X *mat.Dense, constIdx int) *mat.Dense {
	_, cols := X.Dims()
	if cols <= 1 {
		return nil
	}
	return dropColumn(X, constIdx)
}

// dropColumn returns a copy of X without column idx.
func dropColumn(X *mat.Dense, idx int) *mat.Dense {
	rows, cols := X.Dims()
	out := mat.NewDense(rows, cols-1, nil)
	for j, jj := 0, 0; j < cols; j++ {
		if j == idx {
			continue
		}
		for i := 0; i < rows; i++ {
			out.Set(i, jj, X.At(i, j))
		}
		jj++
	}
	return out
}

// dropRow returns a copy of X without row idx.
func dropRow(X *mat.Dense, idx int) *mat.Dense {
	rows, cols := X.Dims()
	out := mat.NewDense(rows-1, cols, nil)
	for i, ii := 0, 0; i < rows; i++ {
		if i == idx {
			continue
		}
		for j := 0; j < cols; j++ {
			out.Set(ii, j, X.At(i, j))
		}
		ii++
	}
	return out
}
