package metrics

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/common/model"
)

// Sentinel errors for well-defined error conditions.
var (
	// ErrLabelMismatch indicates a series was addressed with a label key set
	// that differs from the one the metric name was first created with.
	ErrLabelMismatch = errors.New("metrics: label key set does not match existing metric")

	// ErrInvalidName indicates the metric name is not a valid exposition name.
	ErrInvalidName = errors.New("metrics: invalid metric name")

	// ErrInvalidLabel indicates a label key is not a valid label name.
	ErrInvalidLabel = errors.New("metrics: invalid label name")

	// ErrKindMismatch indicates a metric name was first created as a
	// different kind (counter vs gauge vs histogram).
	ErrKindMismatch = errors.New("metrics: metric kind does not match existing metric")
)

// Labels is the set of key/value dimensions distinguishing one series from
// another under the same metric name.
type Labels map[string]string

// Kind identifies what a metric family holds.
type Kind int

const (
	KindCounter Kind = iota
	KindGauge
	KindHistogram
)

// String returns the exposition type name for the kind.
func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindGauge:
		return "gauge"
	case KindHistogram:
		return "histogram"
	default:
		return "untyped"
	}
}

// Registry is a thread-safe store of named counter, gauge and histogram
// series. Series are created lazily on first observation and never removed.
// A Registry is safe for concurrent use by multiple goroutines.
type Registry struct {
	mu       sync.RWMutex
	families map[string]*family

	boundsMu sync.RWMutex
	bounds   map[string][]float64
}

// family groups all series sharing one metric name. The label key set and,
// for histograms, the bucket bounds are fixed when the family is created.
type family struct {
	name   string
	kind   Kind
	keys   []string  // sorted
	bounds []float64 // histogram families only

	mu     sync.RWMutex
	series map[model.Fingerprint]*series
}

// series is a single (name, label set) time series.
type series struct {
	labels Labels
	value  atomic.Uint64 // counter count, or gauge float64 bits
	hist   *Histogram    // histogram families only
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		families: make(map[string]*family),
		bounds:   make(map[string][]float64),
	}
}

// DeclareBuckets fixes the bucket upper bounds used when the named histogram
// family is lazily created. It has no effect once the family exists. Bounds
// are sorted; a +Inf bucket is always implied and must not be included.
func (r *Registry) DeclareBuckets(name string, bounds []float64) {
	sorted := make([]float64, len(bounds))
	copy(sorted, bounds)
	sort.Float64s(sorted)

	r.boundsMu.Lock()
	r.bounds[name] = sorted
	r.boundsMu.Unlock()
}

// IncCounter increments the counter series for (name, labels) by 1,
// creating it if absent. Safe under arbitrary concurrent callers.
func (r *Registry) IncCounter(name string, labels Labels) error {
	s, err := r.getOrCreate(name, KindCounter, labels)
	if err != nil {
		return err
	}
	s.value.Add(1)
	return nil
}

// SetGauge sets the gauge series for (name, labels) to value, creating it
// if absent. Last write wins.
func (r *Registry) SetGauge(name string, labels Labels, value float64) error {
	s, err := r.getOrCreate(name, KindGauge, labels)
	if err != nil {
		return err
	}
	s.value.Store(math.Float64bits(value))
	return nil
}

// ObserveHistogram records value into the histogram series for
// (name, labels), creating it if absent. Bucket bounds come from
// DeclareBuckets, or DefaultLatencyBuckets when the name was never declared.
func (r *Registry) ObserveHistogram(name string, labels Labels, value float64) error {
	s, err := r.getOrCreate(name, KindHistogram, labels)
	if err != nil {
		return err
	}
	s.hist.Observe(value)
	return nil
}

// getOrCreate returns the series for (name, labels), creating the family
// and series as needed. Uses a double-checked read lock so the hot path is
// a pair of RLocks.
func (r *Registry) getOrCreate(name string, kind Kind, labels Labels) (*series, error) {
	fam, err := r.getOrCreateFamily(name, kind, labels)
	if err != nil {
		return nil, err
	}

	if err := fam.checkKeys(labels); err != nil {
		return nil, err
	}

	fp := fingerprint(labels)

	fam.mu.RLock()
	s, ok := fam.series[fp]
	fam.mu.RUnlock()
	if ok {
		return s, nil
	}

	fam.mu.Lock()
	defer fam.mu.Unlock()

	// Double-check after acquiring the write lock.
	if s, ok = fam.series[fp]; ok {
		return s, nil
	}

	s = &series{labels: cloneLabels(labels)}
	if kind == KindHistogram {
		s.hist = NewHistogram(fam.bounds)
	}
	fam.series[fp] = s
	return s, nil
}

func (r *Registry) getOrCreateFamily(name string, kind Kind, labels Labels) (*family, error) {
	r.mu.RLock()
	fam, ok := r.families[name]
	r.mu.RUnlock()
	if ok {
		if fam.kind != kind {
			return nil, fmt.Errorf("%w: %s is a %s", ErrKindMismatch, name, fam.kind)
		}
		return fam, nil
	}

	if !model.IsValidMetricName(model.LabelValue(name)) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		if !model.LabelName(k).IsValid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidLabel, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	r.mu.Lock()
	defer r.mu.Unlock()

	if fam, ok = r.families[name]; ok {
		if fam.kind != kind {
			return nil, fmt.Errorf("%w: %s is a %s", ErrKindMismatch, name, fam.kind)
		}
		return fam, nil
	}

	fam = &family{
		name:   name,
		kind:   kind,
		keys:   keys,
		series: make(map[model.Fingerprint]*series),
	}
	if kind == KindHistogram {
		fam.bounds = r.declaredBounds(name)
	}
	r.families[name] = fam
	return fam, nil
}

func (r *Registry) declaredBounds(name string) []float64 {
	r.boundsMu.RLock()
	defer r.boundsMu.RUnlock()
	if b, ok := r.bounds[name]; ok {
		return b
	}
	return DefaultLatencyBuckets
}

// checkKeys verifies labels carries exactly the key set the family was
// created with. A mismatch is a caller contract violation and must fail
// rather than silently corrupt a series.
func (f *family) checkKeys(labels Labels) error {
	if len(labels) != len(f.keys) {
		return fmt.Errorf("%w: %s expects keys %v", ErrLabelMismatch, f.name, f.keys)
	}
	for _, k := range f.keys {
		if _, ok := labels[k]; !ok {
			return fmt.Errorf("%w: %s expects keys %v", ErrLabelMismatch, f.name, f.keys)
		}
	}
	return nil
}

// fingerprint derives the series key from the label set. The fingerprint is
// order-independent, so equal label sets always address the same series.
func fingerprint(labels Labels) model.Fingerprint {
	ls := make(model.LabelSet, len(labels))
	for k, v := range labels {
		ls[model.LabelName(k)] = model.LabelValue(v)
	}
	return ls.Fingerprint()
}

func cloneLabels(labels Labels) Labels {
	out := make(Labels, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
