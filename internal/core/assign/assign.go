// Package assign solves the minimum-cost bipartite matching used to line up
// candidate regions with a location-aware prompt's target regions.
package assign

import (
	"errors"
	"fmt"
	"math"

	"github.com/promptsteer/promptsteer/internal/core/tensor"
)

// ErrInvalidCost is returned for NaN or infinite entries in a cost matrix.
var ErrInvalidCost = errors.New("invalid assignment cost")

// Unassigned marks a row left without a column.
const Unassigned = -1

// Pair links one target region to the candidate region matched with it.
type Pair struct {
	Target    int `json:"target"`
	Candidate int `json:"candidate"`
}

// Assignment is the result of Match.
type Assignment struct {
	Pairs []Pair  `json:"pairs"`
	Cost  float64 `json:"cost"`
}

// Targets returns the matched target indices in order.
func (a Assignment) Targets() []int {
	out := make([]int, len(a.Pairs))
	for i, p := range a.Pairs {
		out[i] = p.Target
	}
	return out
}

// Candidates returns the candidate index matched to each target, in target
// order. Applying it to the candidate rows yields the reordered set.
func (a Assignment) Candidates() []int {
	out := make([]int, len(a.Pairs))
	for i, p := range a.Pairs {
		out[i] = p.Candidate
	}
	return out
}

// Distances returns the pairwise Euclidean distance matrix between the rows
// of a and the rows of b.
func Distances(a, b tensor.Matrix) (tensor.Matrix, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if a.Rows() > 0 && b.Rows() > 0 && a.Dim() != b.Dim() {
		return nil, fmt.Errorf("distances: width %d vs %d: %w", a.Dim(), b.Dim(), tensor.ErrShapeMismatch)
	}
	out := make(tensor.Matrix, a.Rows())
	for i := range a {
		row := make([]float64, b.Rows())
		for j := range b {
			row[j] = tensor.Euclidean(a[i], b[j])
		}
		out[i] = row
	}
	return out, nil
}

// Match pairs target regions with candidate regions so the summed distance
// between matched centres is minimal. With differing counts only
// min(len(candidates), len(targets)) pairs are produced; the surplus regions
// on the larger side are left out.
func Match(candidates, targets tensor.Matrix) (Assignment, error) {
	cost, err := Distances(targets, candidates)
	if err != nil {
		return Assignment{}, err
	}
	cols, err := Solve(cost)
	if err != nil {
		return Assignment{}, err
	}

	var out Assignment
	for target, candidate := range cols {
		if candidate == Unassigned {
			continue
		}
		out.Pairs = append(out.Pairs, Pair{Target: target, Candidate: candidate})
		out.Cost += cost[target][candidate]
	}
	return out, nil
}

// Solve returns, for every row of cost, the column assigned to it so that
// the total cost is minimal and no column is used twice. Rows beyond the
// number of columns get Unassigned.
func Solve(cost tensor.Matrix) ([]int, error) {
	n := cost.Rows()
	if n == 0 {
		return []int{}, nil
	}
	if err := cost.Validate(); err != nil {
		return nil, err
	}
	m := cost.Dim()
	for i, row := range cost {
		for j, c := range row {
			if math.IsNaN(c) || math.IsInf(c, 0) {
				return nil, fmt.Errorf("%w at (%d,%d): %v", ErrInvalidCost, i, j, c)
			}
		}
	}

	if m == 0 {
		out := make([]int, n)
		for i := range out {
			out[i] = Unassigned
		}
		return out, nil
	}

	if n <= m {
		return hungarian(cost), nil
	}

	transposed := make(tensor.Matrix, m)
	for j := range transposed {
		transposed[j] = make([]float64, n)
		for i := 0; i < n; i++ {
			transposed[j][i] = cost[i][j]
		}
	}
	rowForCol := hungarian(transposed)
	out := make([]int, n)
	for i := range out {
		out[i] = Unassigned
	}
	for j, i := range rowForCol {
		out[i] = j
	}
	return out, nil
}

// hungarian is the O(n²m) shortest augmenting path formulation with row and
// column potentials. Requires n <= m.
func hungarian(a tensor.Matrix) []int {
	n, m := len(a), len(a[0])
	u := make([]float64, n+1)
	v := make([]float64, m+1)
	p := make([]int, m+1)
	way := make([]int, m+1)

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		minv := make([]float64, m+1)
		for j := range minv {
			minv[j] = math.Inf(1)
		}
		used := make([]bool, m+1)

		for {
			used[j0] = true
			i0 := p[j0]
			delta := math.Inf(1)
			j1 := 0
			for j := 1; j <= m; j++ {
				if used[j] {
					continue
				}
				cur := a[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= m; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	out := make([]int, n)
	for j := 1; j <= m; j++ {
		if p[j] != 0 {
			out[p[j]-1] = j - 1
		}
	}
	return out
}
