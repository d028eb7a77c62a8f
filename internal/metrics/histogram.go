package metrics

import (
	"sort"
	"sync"
)

// Histogram is a fixed-bucket cumulative latency histogram. Bucket bounds
// are fixed at creation and never change. Counts are stored cumulatively:
// each bucket holds the number of observations less than or equal to its
// upper bound, and the final bucket (+Inf) holds the total count.
//
// A Histogram is safe for concurrent use. Observe and snapshotting share a
// mutex so a snapshot always sees counts and sum from a single coherent
// point in time.
type Histogram struct {
	bounds []float64 // finite upper bounds, ascending

	mu     sync.Mutex
	counts []uint64 // len(bounds)+1; last entry is the +Inf bucket
	sum    float64
}

// NewHistogram creates a histogram with the given finite bucket upper
// bounds. The bounds are copied and sorted; the +Inf bucket is implicit.
func NewHistogram(bounds []float64) *Histogram {
	sorted := make([]float64, len(bounds))
	copy(sorted, bounds)
	sort.Float64s(sorted)

	return &Histogram{
		bounds: sorted,
		counts: make([]uint64, len(sorted)+1),
	}
}

// Observe records a single value. Every bucket whose upper bound is >= the
// value is incremented, so the stored counts stay cumulative by bucket
// order. A value above all finite bounds lands only in the +Inf bucket;
// it is never dropped.
func (h *Histogram) Observe(value float64) {
	// First bucket whose bound satisfies value <= bound.
	i := sort.SearchFloat64s(h.bounds, value)

	h.mu.Lock()
	for j := i; j < len(h.counts); j++ {
		h.counts[j]++
	}
	h.sum += value
	h.mu.Unlock()
}

// Bounds returns the finite bucket upper bounds.
func (h *Histogram) Bounds() []float64 {
	return h.bounds
}

// state returns a coherent copy of the cumulative counts and the sum.
func (h *Histogram) state() ([]uint64, float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	counts := make([]uint64, len(h.counts))
	copy(counts, h.counts)
	return counts, h.sum
}
