package detrend

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

const tol = 1e-10

// rowMean returns the mean of row i of m.
func rowMean(m *mat.Dense, i int) float64 {
	_, cols := m.Dims()
	sum := 0.0
	for j := 0; j < cols; j++ {
		sum += m.At(i, j)
	}
	return sum / float64(cols)
}

func TestRegressPolyShapes(t *testing.T) {
	data := mat.NewDense(3, 8, []float64{
		1, 2, 3, 4, 5, 6, 7, 8,
		2, 2, 2, 2, 2, 2, 2, 2,
		1, 4, 9, 16, 25, 36, 49, 64,
	})

	for _, degree := range []int{0, 1, 2, 3} {
		residual, basis := RegressPoly(degree, data, true)

		rr, rc := residual.Dims()
		if rr != 3 || rc != 8 {
			t.Errorf("degree %d: residual shape = (%d, %d), want (3, 8)", degree, rr, rc)
		}

		if degree == 0 {
			if basis != nil {
				t.Errorf("degree 0: non-constant basis should be empty")
			}
			continue
		}
		br, bc := basis.Dims()
		if br != 8 || bc != degree {
			t.Errorf("degree %d: basis shape = (%d, %d), want (8, %d)", degree, br, bc, degree)
		}
	}
}

func TestRegressPolyMeanRemoval(t *testing.T) {
	data := mat.NewDense(2, 6, []float64{
		5, 7, 9, 11, 13, 15,
		-1, -1, -1, -1, -1, -1,
	})

	t.Run("DegreeZeroRemovesMean", func(t *testing.T) {
		residual, _ := RegressPoly(0, data, true)
		for i := 0; i < 2; i++ {
			if m := rowMean(residual, i); math.Abs(m) > tol {
				t.Errorf("row %d residual mean = %g, want 0", i, m)
			}
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		once, _ := RegressPoly(0, data, true)
		twice, _ := RegressPoly(0, once, true)
		if !mat.EqualApprox(once, twice, tol) {
			t.Error("mean removal applied twice differs from once")
		}
	})

	t.Run("PreservesMeanWhenAsked", func(t *testing.T) {
		residual, _ := RegressPoly(1, data, false)
		for i := 0; i < 2; i++ {
			want := rowMean(data, i)
			if got := rowMean(residual, i); math.Abs(got-want) > tol {
				t.Errorf("row %d residual mean = %g, want %g", i, got, want)
			}
		}
	})

	t.Run("RemovesLinearTrend", func(t *testing.T) {
		residual, _ := RegressPoly(1, data, true)
		// Row 0 is exactly linear in time, so the residual vanishes.
		for j := 0; j < 6; j++ {
			if v := residual.At(0, j); math.Abs(v) > 1e-8 {
				t.Errorf("residual[0][%d] = %g, want 0", j, v)
			}
		}
	})
}

func TestLegendreBasis(t *testing.T) {
	T := 5
	X := legendreBasis(T, 2)

	for k := 0; k < T; k++ {
		if X.At(k, 0) != 1 {
			t.Errorf("constant column entry %d = %g, want 1", k, X.At(k, 0))
		}
	}

	// P1 spans [-1, 1]; P2 = (3x^2 - 1)/2 is 1 at both ends and -0.5 at 0.
	if got := X.At(0, 1); math.Abs(got+1) > tol {
		t.Errorf("P1(-1) = %g, want -1", got)
	}
	if got := X.At(T-1, 1); math.Abs(got-1) > tol {
		t.Errorf("P1(1) = %g, want 1", got)
	}
	if got := X.At(2, 2); math.Abs(got+0.5) > tol {
		t.Errorf("P2(0) = %g, want -0.5", got)
	}
	if got := X.At(0, 2); math.Abs(got-1) > tol {
		t.Errorf("P2(-1) = %g, want 1", got)
	}
}

func TestCosineDriftBasis(t *testing.T) {
	T := 40
	timestep := 2.5
	// A 64s cutoff gives order 3, so the basis carries two genuine
	// cosine columns ahead of the constant.
	periodCut := 64.0
	X := cosineDriftBasis(periodCut, timestep, T)

	rows, cols := X.Dims()
	wantOrder := int(math.Floor(2 * float64(T) * timestep / periodCut))
	if rows != T || cols != wantOrder {
		t.Fatalf("basis shape = (%d, %d), want (%d, %d)", rows, cols, T, wantOrder)
	}

	t.Run("ConstantColumnUnnormalized", func(t *testing.T) {
		// The constant column stays at 1.0; it is deliberately not scaled
		// like the cosine terms.
		for k := 0; k < T; k++ {
			if X.At(k, cols-1) != 1 {
				t.Fatalf("constant entry %d = %g, want exactly 1", k, X.At(k, cols-1))
			}
		}
	})

	t.Run("CosineTermScaling", func(t *testing.T) {
		nfct := math.Sqrt(2.0 / float64(T))
		want := nfct * math.Cos(math.Pi/float64(T)*0.5)
		if got := X.At(0, 0); math.Abs(got-want) > tol {
			t.Errorf("first cosine entry = %g, want %g", got, want)
		}
	})

	t.Run("MinimumOrder", func(t *testing.T) {
		// A cutoff longer than the scan still yields the constant column.
		small := cosineDriftBasis(1e6, timestep, T)
		_, c := small.Dims()
		if c != 1 {
			t.Errorf("order = %d, want 1", c)
		}
	})
}

func TestCosineFilter(t *testing.T) {
	T := 30
	data := mat.NewDense(2, T, nil)
	for j := 0; j < T; j++ {
		// Slow drift plus an offset for row 0, pure offset for row 1.
		data.Set(0, j, 3+0.5*math.Cos(2*math.Pi*float64(j)/float64(2*T)))
		data.Set(1, j, -2)
	}

	residual, basis := CosineFilter(data, 2.0, 16, true)

	rr, rc := residual.Dims()
	if rr != 2 || rc != T {
		t.Fatalf("residual shape = (%d, %d), want (2, %d)", rr, rc, T)
	}
	if basis == nil {
		t.Fatal("expected a non-constant basis")
	}
	br, bc := basis.Dims()
	wantCols := int(math.Floor(2*float64(T)*2.0/16)) - 1
	if br != T || bc != wantCols {
		t.Errorf("basis shape = (%d, %d), want (%d, %d)", br, bc, T, wantCols)
	}

	// The constant row detrends to zero.
	for j := 0; j < T; j++ {
		if v := residual.At(1, j); math.Abs(v) > 1e-8 {
			t.Errorf("residual[1][%d] = %g, want 0", j, v)
		}
	}

	t.Run("PreservesMeanWhenAsked", func(t *testing.T) {
		res, _ := CosineFilter(data, 2.0, 16, false)
		for i := 0; i < 2; i++ {
			want := rowMean(data, i)
			if got := rowMean(res, i); math.Abs(got-want) > 1e-8 {
				t.Errorf("row %d mean = %g, want %g", i, got, want)
			}
		}
	})
}

func TestFullRankRegularization(t *testing.T) {
	// Two nearly identical columns force an enormous condition number.
	X := mat.NewDense(4, 2, []float64{
		1, 1,
		1, 1,
		1, 1,
		1, 1 + 1e-18,
	})
	out := fullRank(X)

	var svd mat.SVD
	if ok := svd.Factorize(out, mat.SVDThin); !ok {
		t.Fatal("SVD failed on regularized matrix")
	}
	s := svd.Values(nil)
	if s[len(s)-1] <= 0 {
		t.Errorf("smallest singular value = %g, want > 0", s[len(s)-1])
	}
	// A fully rank-deficient input regularizes to the ceiling itself.
	if cond := s[0] / s[len(s)-1]; cond > conditionMax*(1+1e-9) {
		t.Errorf("condition number %g still above the ceiling", cond)
	}
}

func TestPseudoInverse(t *testing.T) {
	t.Run("Invertible", func(t *testing.T) {
		X := mat.NewDense(2, 2, []float64{2, 0, 0, 4})
		inv := pseudoInverse(X)
		want := mat.NewDense(2, 2, []float64{0.5, 0, 0, 0.25})
		if !mat.EqualApprox(inv, want, tol) {
			t.Errorf("pinv = %v", mat.Formatted(inv))
		}
	})

	t.Run("RankDeficient", func(t *testing.T) {
		// A rank-1 matrix still yields a bounded pseudo-inverse with
		// X . pinv(X) . X == X.
		X := mat.NewDense(3, 2, []float64{1, 2, 2, 4, 3, 6})
		inv := pseudoInverse(X)
		var proj, back mat.Dense
		proj.Mul(X, inv)
		back.Mul(&proj, X)
		if !mat.EqualApprox(&back, X, 1e-8) {
			t.Error("X . pinv(X) . X != X for rank-deficient X")
		}
	})
}
