package metrics

import (
	"sync"
	"testing"
)

func TestHistogram_CumulativeBuckets(t *testing.T) {
	h := NewHistogram([]float64{10, 50, 100})

	// 15ms lands in the 50 bucket and, cumulatively, everything above it.
	h.Observe(15)

	counts, sum := h.state()
	want := []uint64{0, 1, 1, 1}
	for i, c := range want {
		if counts[i] != c {
			t.Errorf("counts[%d] = %d, want %d", i, counts[i], c)
		}
	}
	if sum != 15 {
		t.Errorf("sum = %v, want 15", sum)
	}
}

func TestHistogram_BoundaryIsInclusive(t *testing.T) {
	h := NewHistogram([]float64{10, 50})

	h.Observe(10)

	counts, _ := h.state()
	if counts[0] != 1 {
		t.Errorf("counts[0] = %d, want 1 (le is inclusive)", counts[0])
	}
}

func TestHistogram_OverMaxLandsInInf(t *testing.T) {
	h := NewHistogram([]float64{10, 50})

	h.Observe(9000)

	counts, _ := h.state()
	want := []uint64{0, 0, 1}
	for i, c := range want {
		if counts[i] != c {
			t.Errorf("counts[%d] = %d, want %d", i, counts[i], c)
		}
	}
}

func TestHistogram_CountsMatchObservations(t *testing.T) {
	h := NewHistogram([]float64{10, 50, 100})
	values := []float64{1, 5, 10, 11, 49, 50, 51, 99, 100, 101, 1000}

	for _, v := range values {
		h.Observe(v)
	}

	counts, sum := h.state()
	bounds := h.Bounds()

	// For every bound b, counts must equal |{v : v <= b}|.
	for i, b := range bounds {
		var want uint64
		for _, v := range values {
			if v <= b {
				want++
			}
		}
		if counts[i] != want {
			t.Errorf("counts[le=%v] = %d, want %d", b, counts[i], want)
		}
	}
	if got := counts[len(counts)-1]; got != uint64(len(values)) {
		t.Errorf("+Inf count = %d, want %d", got, len(values))
	}

	var wantSum float64
	for _, v := range values {
		wantSum += v
	}
	if sum != wantSum {
		t.Errorf("sum = %v, want %v", sum, wantSum)
	}
}

func TestHistogram_MonotonicByBucketOrder(t *testing.T) {
	h := NewHistogram([]float64{5, 10, 25, 50})
	for _, v := range []float64{3, 7, 7, 30, 60, 12} {
		h.Observe(v)
	}

	counts, _ := h.state()
	for i := 1; i < len(counts); i++ {
		if counts[i] < counts[i-1] {
			t.Errorf("counts[%d] = %d < counts[%d] = %d; cumulative counts must be monotonic", i, counts[i], i-1, counts[i-1])
		}
	}
}

func TestHistogram_ConcurrentObserve(t *testing.T) {
	h := NewHistogram([]float64{10, 100})

	const goroutines = 8
	const perGoroutine = 500

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				h.Observe(50)
			}
		}()
	}
	wg.Wait()

	counts, sum := h.state()
	total := uint64(goroutines * perGoroutine)
	if counts[len(counts)-1] != total {
		t.Errorf("+Inf count = %d, want %d", counts[len(counts)-1], total)
	}
	if sum != float64(total)*50 {
		t.Errorf("sum = %v, want %v", sum, float64(total)*50)
	}
}
