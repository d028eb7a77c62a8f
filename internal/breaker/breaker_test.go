package breaker

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock for breaker tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(clock *fakeClock) *Breaker {
	return New(Config{
		Window:      20,
		MinRequests: 10,
		Threshold:   0.5,
		OpenFor:     30 * time.Second,
		Now:         clock.Now,
	})
}

func TestBreaker_StartsClosed(t *testing.T) {
	b := New(Config{})
	if b.State() != StateClosed {
		t.Errorf("State() = %v, want StateClosed", b.State())
	}
	if !b.Allow() {
		t.Error("Allow() = false on a fresh breaker")
	}
}

func TestBreaker_StaysClosedBelowMinRequests(t *testing.T) {
	b := newTestBreaker(&fakeClock{})

	// 9 failures: ratio 1.0 but below min-requests, must stay closed.
	for i := 0; i < 9; i++ {
		b.Record(true)
	}
	if b.State() != StateClosed {
		t.Errorf("State() = %v, want StateClosed below min requests", b.State())
	}
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := newTestBreaker(&fakeClock{})

	for i := 0; i < 5; i++ {
		b.Record(false)
	}
	for i := 0; i < 5; i++ {
		b.Record(true)
	}

	// 10 tracked, ratio 0.5 >= threshold 0.5.
	if b.State() != StateOpen {
		t.Errorf("State() = %v, want StateOpen", b.State())
	}
	if b.Allow() {
		t.Error("Allow() = true while open")
	}
}

func TestBreaker_HalfOpenProbeCloses(t *testing.T) {
	clock := &fakeClock{}
	b := newTestBreaker(clock)

	for i := 0; i < 10; i++ {
		b.Record(true)
	}
	if b.State() != StateOpen {
		t.Fatalf("State() = %v, want StateOpen", b.State())
	}

	clock.Advance(31 * time.Second)

	if !b.Allow() {
		t.Fatal("Allow() = false after cool-down, want probe admitted")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("State() = %v, want StateHalfOpen", b.State())
	}

	// A second request during the probe is short-circuited.
	if b.Allow() {
		t.Error("Allow() = true while a probe is in flight")
	}

	b.Record(false)
	if b.State() != StateClosed {
		t.Errorf("State() after successful probe = %v, want StateClosed", b.State())
	}
	if b.Tracked() != 0 {
		t.Errorf("Tracked() = %d, want 0 (window cleared on close)", b.Tracked())
	}
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	clock := &fakeClock{}
	b := newTestBreaker(clock)

	for i := 0; i < 10; i++ {
		b.Record(true)
	}
	clock.Advance(31 * time.Second)
	b.Allow()

	b.Record(true)
	if b.State() != StateOpen {
		t.Errorf("State() after failed probe = %v, want StateOpen", b.State())
	}
	if b.Allow() {
		t.Error("Allow() = true right after re-open")
	}
}

func TestBreaker_WindowSlides(t *testing.T) {
	b := New(Config{Window: 4, MinRequests: 4, Threshold: 0.75, Now: (&fakeClock{}).Now})

	b.Record(true)
	b.Record(true)
	b.Record(false)
	b.Record(false)
	if got := b.Ratio(); got != 0.5 {
		t.Errorf("Ratio() = %v, want 0.5", got)
	}

	// Further successes push the oldest failures out one by one.
	b.Record(false)
	if got := b.Ratio(); got != 0.25 {
		t.Errorf("Ratio() = %v, want 0.25 after sliding", got)
	}
	b.Record(false)
	if got := b.Ratio(); got != 0 {
		t.Errorf("Ratio() = %v, want 0 after both failures slid out", got)
	}
}

func TestBreaker_SetThreshold(t *testing.T) {
	b := newTestBreaker(&fakeClock{})

	b.SetThreshold(0.3)
	if got := b.Threshold(); got != 0.3 {
		t.Errorf("Threshold() = %v, want 0.3", got)
	}

	// Out-of-range values are ignored.
	b.SetThreshold(0)
	b.SetThreshold(1.5)
	if got := b.Threshold(); got != 0.3 {
		t.Errorf("Threshold() = %v, want 0.3 unchanged", got)
	}

	// 4 failures out of 10 opens at the lowered threshold.
	for i := 0; i < 6; i++ {
		b.Record(false)
	}
	for i := 0; i < 4; i++ {
		b.Record(true)
	}
	if b.State() != StateOpen {
		t.Errorf("State() = %v, want StateOpen at adaptive threshold", b.State())
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	clock := &fakeClock{}
	var transitions []State
	b := New(Config{
		Window:      20,
		MinRequests: 10,
		Threshold:   0.5,
		OpenFor:     30 * time.Second,
		Now:         clock.Now,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, to)
		},
	})

	for i := 0; i < 10; i++ {
		b.Record(true)
	}
	clock.Advance(31 * time.Second)
	b.Allow()
	b.Record(false)

	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transitions[%d] = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestBreaker_ConcurrentRecord(t *testing.T) {
	b := New(Config{Window: 128, MinRequests: 1000000, Threshold: 0.99})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				b.Allow()
				b.Record(j%2 == 0)
			}
		}()
	}
	wg.Wait()

	if b.Tracked() != 128 {
		t.Errorf("Tracked() = %d, want full window 128", b.Tracked())
	}
}
