package routing

import "testing"

func TestCircularVecEvictsOldest(t *testing.T) {
	cv := newCircularVec[int](2)
	cv.push(1)
	cv.push(2)
	if !cv.contains(1) || !cv.contains(2) {
		t.Fatalf("expected both 1 and 2 present")
	}

	cv.push(3)
	if cv.contains(1) {
		t.Fatalf("expected 1 to be evicted")
	}
	if !cv.contains(2) || !cv.contains(3) {
		t.Fatalf("expected 2 and 3 present")
	}
	if cv.len() != 2 {
		t.Fatalf("expected len 2, got %d", cv.len())
	}
}
