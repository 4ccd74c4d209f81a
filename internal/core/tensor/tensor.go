// Package tensor holds the small row-major matrix helpers used for embedding
// sets, region positions and region sizes.
package tensor

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// ErrShapeMismatch is returned when two matrices cannot be combined.
var ErrShapeMismatch = errors.New("shape mismatch")

// DefaultPadValue is the neutral fill used by CatWithPad. Zero columns do not
// change norms or dot products.
const DefaultPadValue = 0.0

// Matrix is a row-major (N, D) array. One row per encoder or per region.
type Matrix [][]float64

// Rows returns N.
func (m Matrix) Rows() int {
	return len(m)
}

// Dim returns D, the width of the first row.
func (m Matrix) Dim() int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0])
}

// Clone returns a deep copy.
func (m Matrix) Clone() Matrix {
	if m == nil {
		return nil
	}
	out := make(Matrix, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// Validate reports an error when rows have differing widths.
func (m Matrix) Validate() error {
	d := m.Dim()
	for i, row := range m {
		if len(row) != d {
			return fmt.Errorf("row %d has %d columns, expected %d: %w", i, len(row), d, ErrShapeMismatch)
		}
	}
	return nil
}

// Take returns the rows at the given indices in order.
func (m Matrix) Take(indices []int) Matrix {
	out := make(Matrix, len(indices))
	for i, idx := range indices {
		out[i] = m[idx]
	}
	return out
}

// Zeros returns an (n, d) matrix of zeros.
func Zeros(n, d int) Matrix {
	out := make(Matrix, n)
	for i := range out {
		out[i] = make([]float64, d)
	}
	return out
}

// Norm returns the L2 norm of v.
func Norm(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return floats.Norm(v, 2)
}

// Normalize returns v scaled to unit length. A zero vector is returned
// unchanged.
func Normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	n := Norm(v)
	if n == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = x / n
	}
	return out
}

// Centers returns pos + size/2 row by row.
func Centers(positions, sizes Matrix) (Matrix, error) {
	if positions.Rows() != sizes.Rows() {
		return nil, fmt.Errorf("centers: %d positions vs %d sizes: %w", positions.Rows(), sizes.Rows(), ErrShapeMismatch)
	}
	out := make(Matrix, len(positions))
	for i := range positions {
		if len(positions[i]) != len(sizes[i]) {
			return nil, fmt.Errorf("centers: row %d width %d vs %d: %w", i, len(positions[i]), len(sizes[i]), ErrShapeMismatch)
		}
		row := make([]float64, len(positions[i]))
		for j := range row {
			row[j] = positions[i][j] + sizes[i][j]/2
		}
		out[i] = row
	}
	return out, nil
}

// CatWithPad concatenates blocks along the row axis. Blocks narrower than the
// widest one are right-padded with fill so encoders with differing
// embedding widths can share one target set.
func CatWithPad(fill float64, blocks ...Matrix) Matrix {
	width := 0
	for _, b := range blocks {
		for _, row := range b {
			if len(row) > width {
				width = len(row)
			}
		}
	}

	var out Matrix
	for _, b := range blocks {
		for _, row := range b {
			padded := make([]float64, width)
			copy(padded, row)
			for j := len(row); j < width; j++ {
				padded[j] = fill
			}
			out = append(out, padded)
		}
	}
	return out
}

// Euclidean returns the distance between two equal-length vectors.
func Euclidean(a, b []float64) float64 {
	if len(a) == 0 {
		return 0
	}
	return floats.Distance(a, b, 2)
}

// Flatten concatenates all rows into a single vector.
func Flatten(m Matrix) []float64 {
	out := make([]float64, 0, m.Rows()*m.Dim())
	for _, row := range m {
		out = append(out, row...)
	}
	return out
}
