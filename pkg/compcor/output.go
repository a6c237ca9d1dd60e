package compcor

import (
	"fmt"
	"os"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// WriteComponents writes the component matrix as tab-separated text: a
// header row of column names followed by one row per time point with ten
// decimal places per value.
func WriteComponents(path string, res *Result) error {
	if res.Components == nil {
		return nil
	}
	return writeTSV(path, res.ComponentHeaders, res.Components)
}

// WriteBasis writes the pre-filter basis (plus any non-steady-state
// indicator columns) in the same tab-separated format as the components.
// Nothing is written when the basis is empty.
func WriteBasis(path string, res *Result) error {
	if res.Basis == nil {
		return nil
	}
	return writeTSV(path, res.BasisHeaders, res.Basis)
}

// WriteVarianceExplained writes a per-component metadata sidecar as
// tab-separated text: one row per retained component with its column
// name, the index of the mask it came from, its variance-explained
// share, and the cumulative share within that mask.
func WriteVarianceExplained(path string, res *Result) error {
	if len(res.VarianceExplained) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString("component\tmask\tvariance_explained\tcumulative_variance_explained\n")
	next := 0
	for maskIdx, shares := range res.VarianceExplained {
		cum := 0.0
		for _, share := range shares {
			cum += share
			fmt.Fprintf(&b, "%s\t%d\t%.10f\t%.10f\n", res.ComponentHeaders[next], maskIdx, share, cum)
			next++
		}
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func writeTSV(path string, headers []string, m *mat.Dense) error {
	var b strings.Builder
	b.WriteString(strings.Join(headers, "\t"))
	b.WriteByte('\n')
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if j > 0 {
				b.WriteByte('\t')
			}
			fmt.Fprintf(&b, "%.10f", m.At(i, j))
		}
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
