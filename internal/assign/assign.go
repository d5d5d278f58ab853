// Package assign solves the detection<->track assignment problem from a
// cost matrix (spec §4.2 step 3: "Solve assignment (Hungarian or greedy
// with threshold match_thresh)").
//
// The Hungarian path is grounded on nmichlo-norfair-go's
// internal/scipy/optimize.go (cost-to-profit conversion, square padding,
// threshold filtering around github.com/arthurkushman/go-hungarian). The
// greedy path is grounded on the same repo's matching.go.
package assign

import hungarian "github.com/arthurkushman/go-hungarian"

// Assignment pairs a row (detection) index with a column (track) index.
type Assignment struct {
	Row int
	Col int
}

// Hungarian solves the optimal assignment minimising total cost, rejecting
// any pair whose cost exceeds threshold. Rows/cols beyond the matched set
// are returned as unmatched, except that a matrix with no rows carries no
// column count and reports no unmatched columns.
func Hungarian(cost [][]float64, threshold float64) (matches []Assignment, unmatchedRows, unmatchedCols []int) {
	numRows := len(cost)
	if numRows == 0 {
		return nil, nil, nil
	}
	numCols := len(cost[0])
	if numCols == 0 {
		for i := 0; i < numRows; i++ {
			unmatchedRows = append(unmatchedRows, i)
		}
		return nil, unmatchedRows, nil
	}

	size := numRows
	if numCols > size {
		size = numCols
	}

	// go-hungarian maximises profit; convert cost to profit using a
	// constant ceiling comfortably above any real cost in this domain
	// (costs here are bounded distances/1-similarity, always < 10).
	const ceiling = 1000.0
	profit := make([][]float64, size)
	for i := range profit {
		profit[i] = make([]float64, size)
		for j := range profit[i] {
			if i < numRows && j < numCols {
				profit[i][j] = ceiling - cost[i][j]
			}
		}
	}

	result := hungarian.SolveMax(profit)

	matchedRows := make(map[int]bool, numRows)
	matchedCols := make(map[int]bool, numCols)
	for i, row := range result {
		if i >= numRows {
			continue
		}
		for j, p := range row {
			if j >= numCols || p == 0 {
				continue
			}
			c := ceiling - p
			if c <= threshold {
				matches = append(matches, Assignment{Row: i, Col: j})
				matchedRows[i] = true
				matchedCols[j] = true
			}
		}
	}

	for i := 0; i < numRows; i++ {
		if !matchedRows[i] {
			unmatchedRows = append(unmatchedRows, i)
		}
	}
	for j := 0; j < numCols; j++ {
		if !matchedCols[j] {
			unmatchedCols = append(unmatchedCols, j)
		}
	}
	return matches, unmatchedRows, unmatchedCols
}

// Greedy solves assignment by repeatedly picking the globally lowest
// remaining cost pair below threshold. Cheaper than Hungarian but not
// optimal; the tracker itself always calls Hungarian.
func Greedy(cost [][]float64, threshold float64) (matches []Assignment, unmatchedRows, unmatchedCols []int) {
	numRows := len(cost)
	if numRows == 0 {
		return nil, nil, nil
	}
	numCols := len(cost[0])

	usedRows := make(map[int]bool, numRows)
	usedCols := make(map[int]bool, numCols)

	type cell struct {
		r, c int
		cost float64
	}
	var cells []cell
	for i := 0; i < numRows; i++ {
		for j := 0; j < numCols; j++ {
			if cost[i][j] <= threshold {
				cells = append(cells, cell{i, j, cost[i][j]})
			}
		}
	}
	// Simple selection sort over remaining cells is fine: detections per
	// frame and active tracks are both small (tens, not thousands).
	for len(cells) > 0 {
		best := 0
		for i := 1; i < len(cells); i++ {
			if cells[i].cost < cells[best].cost {
				best = i
			}
		}
		c := cells[best]
		cells = append(cells[:best], cells[best+1:]...)
		if usedRows[c.r] || usedCols[c.c] {
			continue
		}
		matches = append(matches, Assignment{Row: c.r, Col: c.c})
		usedRows[c.r] = true
		usedCols[c.c] = true
	}

	for i := 0; i < numRows; i++ {
		if !usedRows[i] {
			unmatchedRows = append(unmatchedRows, i)
		}
	}
	for j := 0; j < numCols; j++ {
		if !usedCols[j] {
			unmatchedCols = append(unmatchedCols, j)
		}
	}
	return matches, unmatchedRows, unmatchedCols
}
