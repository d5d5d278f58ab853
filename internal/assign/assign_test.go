package assign

import "testing"

func TestHungarian_SimpleDiagonal(t *testing.T) {
	cost := [][]float64{
		{0.1, 0.9},
		{0.9, 0.1},
	}
	matches, unRows, unCols := Hungarian(cost, 0.5)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if len(unRows) != 0 || len(unCols) != 0 {
		t.Errorf("expected no unmatched, got rows=%v cols=%v", unRows, unCols)
	}
	seen := map[Assignment]bool{}
	for _, m := range matches {
		seen[m] = true
	}
	if !seen[Assignment{0, 0}] || !seen[Assignment{1, 1}] {
		t.Errorf("expected diagonal match, got %v", matches)
	}
}

func TestHungarian_RejectsAboveThreshold(t *testing.T) {
	cost := [][]float64{
		{5.0},
	}
	matches, unRows, unCols := Hungarian(cost, 0.5)
	if len(matches) != 0 {
		t.Errorf("expected no matches above threshold, got %v", matches)
	}
	if len(unRows) != 1 || len(unCols) != 1 {
		t.Errorf("expected 1 unmatched row and col, got rows=%v cols=%v", unRows, unCols)
	}
}

func TestHungarian_RectangularMatrix(t *testing.T) {
	cost := [][]float64{
		{0.1, 0.2, 0.9},
		{0.9, 0.1, 0.9},
	}
	matches, unRows, unCols := Hungarian(cost, 0.5)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d: %v", len(matches), matches)
	}
	if len(unRows) != 0 {
		t.Errorf("expected all rows matched, got unmatched %v", unRows)
	}
	if len(unCols) != 1 {
		t.Errorf("expected 1 unmatched column, got %v", unCols)
	}
}

func TestGreedy_PicksLowestCostFirst(t *testing.T) {
	cost := [][]float64{
		{0.3, 0.1},
		{0.1, 0.3},
	}
	matches, unRows, unCols := Greedy(cost, 0.5)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if len(unRows) != 0 || len(unCols) != 0 {
		t.Errorf("expected no unmatched, got rows=%v cols=%v", unRows, unCols)
	}
	byRow := map[int]int{}
	for _, m := range matches {
		byRow[m.Row] = m.Col
	}
	if byRow[0] != 1 || byRow[1] != 0 {
		t.Errorf("expected cross match on lowest costs, got %v", matches)
	}
}

func TestGreedy_EmptyCostMatrix(t *testing.T) {
	matches, unRows, unCols := Greedy(nil, 0.5)
	if matches != nil || unRows != nil || unCols != nil {
		t.Errorf("expected all nil for empty input, got %v %v %v", matches, unRows, unCols)
	}
}
