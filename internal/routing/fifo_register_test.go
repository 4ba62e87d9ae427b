package routing

import (
	"math/big"
	"testing"
)

func TestFifoRegisterMedianOfRecentSamples(t *testing.T) {
	r := newFifoRegister(3)
	if r.median() != nil {
		t.Fatalf("expected nil median on empty register")
	}

	r.add(big.NewInt(10))
	r.add(big.NewInt(30))
	r.add(big.NewInt(20))
	if got := r.median(); got.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("expected median 20, got %v", got)
	}

	// pushes out the 10, leaving {30, 20, 40} -> median 30
	r.add(big.NewInt(40))
	if got := r.median(); got.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("expected median 30 after eviction, got %v", got)
	}
}
