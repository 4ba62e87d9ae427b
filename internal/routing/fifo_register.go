package routing

import (
	"math/big"
	"sort"
)

// fifoRegister keeps the most recent maxLength observed distances (e.g.
// distances to peers that sent us a request) and reports their median,
// which feeds the network_density estimate used by the pricing curve in
// internal/payment: a smaller median distance among recent requesters
// suggests a denser neighbourhood.
type fifoRegister struct {
	queue        []*big.Int
	maxLength    int
	cachedMedian *big.Int
	dirty        bool
}

func newFifoRegister(maxLength int) *fifoRegister {
	return &fifoRegister{
		queue:     make([]*big.Int, 0, maxLength),
		maxLength: maxLength,
		dirty:     true,
	}
}

// add records a new distance sample, evicting the oldest sample once the
// register is at capacity.
func (f *fifoRegister) add(d *big.Int) {
	if len(f.queue) == f.maxLength {
		f.queue = f.queue[1:]
	}
	f.queue = append(f.queue, d)
	f.dirty = true
}

// median returns the median of the currently held samples, or nil if the
// register is empty. The result is cached until the next add.
func (f *fifoRegister) median() *big.Int {
	if len(f.queue) == 0 {
		return nil
	}
	if !f.dirty {
		return f.cachedMedian
	}
	sorted := make([]*big.Int, len(f.queue))
	copy(sorted, f.queue)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Cmp(sorted[j]) < 0 })
	f.cachedMedian = sorted[len(sorted)/2]
	f.dirty = false
	return f.cachedMedian
}
