// Package breaker implements a sliding-window circuit breaker for the
// upstream forwarding path.
package breaker

import (
	"sync"
	"time"
)

// State is the circuit state.
type State int

const (
	// StateClosed lets all requests through.
	StateClosed State = iota

	// StateOpen short-circuits all requests until the cool-down elapses.
	StateOpen

	// StateHalfOpen admits a single probe request; its outcome decides
	// whether the circuit closes again or re-opens.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the breaker tuning knobs.
type Config struct {
	// Window is the number of most recent outcomes considered.
	Window int

	// MinRequests is the minimum number of tracked outcomes in the window
	// before the failure ratio is acted on.
	MinRequests int

	// Threshold is the failure ratio at or above which the circuit opens.
	Threshold float64

	// OpenFor is how long the circuit stays open before admitting a probe.
	OpenFor time.Duration

	// Now is the clock; nil means time.Now. Used by tests.
	Now func() time.Time

	// OnStateChange, if set, is called (under no lock) after every state
	// transition.
	OnStateChange func(from, to State)
}

// DefaultConfig returns the breaker defaults.
func DefaultConfig() Config {
	return Config{
		Window:      20,
		MinRequests: 10,
		Threshold:   0.5,
		OpenFor:     30 * time.Second,
	}
}

// Breaker tracks recent upstream outcomes and short-circuits requests while
// the failure ratio is too high. Safe for concurrent use.
type Breaker struct {
	cfg Config

	mu            sync.Mutex
	state         State
	window        []bool // true = failure
	next          int
	filled        int
	openedAt      time.Time
	probeInFlight bool
	threshold     float64
}

// New creates a breaker. Zero-valued config fields fall back to defaults.
func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MinRequests <= 0 {
		cfg.MinRequests = def.MinRequests
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = def.OpenFor
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Breaker{
		cfg:       cfg,
		window:    make([]bool, cfg.Window),
		threshold: cfg.Threshold,
	}
}

// Allow reports whether a request may proceed to the upstream. An open
// circuit transitions to half-open once the cool-down has elapsed; in
// half-open exactly one probe is admitted at a time.
func (b *Breaker) Allow() bool {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return true

	case StateOpen:
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.OpenFor {
			b.mu.Unlock()
			return false
		}
		from := b.state
		b.state = StateHalfOpen
		b.probeInFlight = true
		b.mu.Unlock()
		b.notify(from, StateHalfOpen)
		return true

	case StateHalfOpen:
		if b.probeInFlight {
			b.mu.Unlock()
			return false
		}
		b.probeInFlight = true
		b.mu.Unlock()
		return true
	}

	b.mu.Unlock()
	return true
}

// Record tracks the outcome of a forwarded request and returns the failure
// ratio over the window after recording. In half-open state the outcome is
// the probe's: success closes the circuit and clears the window, failure
// re-opens it.
func (b *Breaker) Record(failure bool) float64 {
	b.mu.Lock()

	b.window[b.next] = failure
	b.next = (b.next + 1) % len(b.window)
	if b.filled < len(b.window) {
		b.filled++
	}

	switch b.state {
	case StateHalfOpen:
		b.probeInFlight = false
		if failure {
			b.openLocked()
			ratio := b.ratioLocked()
			b.mu.Unlock()
			b.notify(StateHalfOpen, StateOpen)
			return ratio
		}
		b.state = StateClosed
		b.clearLocked()
		b.mu.Unlock()
		b.notify(StateHalfOpen, StateClosed)
		return 0

	case StateClosed:
		ratio := b.ratioLocked()
		if b.filled >= b.cfg.MinRequests && ratio >= b.threshold {
			b.openLocked()
			b.mu.Unlock()
			b.notify(StateClosed, StateOpen)
			return ratio
		}
		b.mu.Unlock()
		return ratio
	}

	ratio := b.ratioLocked()
	b.mu.Unlock()
	return ratio
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Ratio returns the current failure ratio over the window.
func (b *Breaker) Ratio() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ratioLocked()
}

// Tracked returns how many outcomes the window currently holds.
func (b *Breaker) Tracked() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filled
}

// SetThreshold replaces the failure-ratio threshold, clamped to (0, 1].
// Used by the adaptive controller.
func (b *Breaker) SetThreshold(t float64) {
	if t <= 0 || t > 1 {
		return
	}
	b.mu.Lock()
	b.threshold = t
	b.mu.Unlock()
}

// Threshold returns the active failure-ratio threshold.
func (b *Breaker) Threshold() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.threshold
}

func (b *Breaker) ratioLocked() float64 {
	if b.filled == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < b.filled; i++ {
		if b.window[i] {
			failures++
		}
	}
	return float64(failures) / float64(b.filled)
}

func (b *Breaker) openLocked() {
	b.state = StateOpen
	b.openedAt = b.cfg.Now()
	b.probeInFlight = false
}

func (b *Breaker) clearLocked() {
	for i := range b.window {
		b.window[i] = false
	}
	b.next = 0
	b.filled = 0
	b.openedAt = time.Time{}
	b.probeInFlight = false
}

func (b *Breaker) notify(from, to State) {
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}
