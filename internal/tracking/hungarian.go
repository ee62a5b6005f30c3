package tracking

import (
	"errors"
	"fmt"
	"math"
)

// forbiddenCost replaces +Inf entries so every square sub-problem stays feasible.
// Real costs are squared distances between normalized centers and stay far below it.
const forbiddenCost = 1e6

var errRaggedMatrix = errors.New("cost matrix rows have different lengths")

// pair is one row/column assignment with a finite cost
type pair struct {
	row, col int
}

// assign solves the rectangular minimum-cost assignment problem over cost and
// returns only the pairs whose original cost is finite
func assign(cost [][]float64) ([]pair, error) {
	rows := len(cost)
	if rows == 0 {
		return nil, nil
	}
	cols := len(cost[0])
	if cols == 0 {
		return nil, nil
	}

	for i, row := range cost {
		if len(row) != cols {
			return nil, errRaggedMatrix
		}
		for j, c := range row {
			if math.IsNaN(c) || math.IsInf(c, -1) {
				return nil, fmt.Errorf("invalid cost %v at (%d,%d)", c, i, j)
			}
		}
	}

	// The solver needs rows <= cols
	transposed := rows > cols
	work := cost
	if transposed {
		work = transpose(cost)
	}

	rowToCol := hungarian(work)

	var pairs []pair
	for r, c := range rowToCol {
		if c < 0 {
			continue
		}
		row, col := r, c
		if transposed {
			row, col = c, r
		}
		if math.IsInf(cost[row][col], 1) {
			continue
		}
		pairs = append(pairs, pair{row: row, col: col})
	}
	return pairs, nil
}

// hungarian is the O(n^2 m) potentials formulation of Kuhn-Munkres.
// a must have n rows and m >= n columns; the result maps each row to a column.
func hungarian(a [][]float64) []int {
	n, m := len(a), len(a[0])
	at := func(i, j int) float64 {
		c := a[i][j]
		if math.IsInf(c, 1) {
			return forbiddenCost
		}
		return c
	}

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
				cur := at(i0-1, j-1) - u[i0] - v[j]
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

		for {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
			if j0 == 0 {
				break
			}
		}
	}

	rowToCol := make([]int, n)
	for i := range rowToCol {
		rowToCol[i] = -1
	}
	for j := 1; j <= m; j++ {
		if p[j] != 0 {
			rowToCol[p[j]-1] = j - 1
		}
	}
	return rowToCol
}

func transpose(a [][]float64) [][]float64 {
	out := make([][]float64, len(a[0]))
	for j := range out {
		out[j] = make([]float64, len(a))
		for i := range a {
			out[j][i] = a[i][j]
		}
	}
	return out
}
