package metrics

import (
	"math"
	"sort"
)

// Snapshot is a point-in-time read of all series in a registry. Each series
// is individually coherent; cross-series consistency is not guaranteed.
type Snapshot struct {
	Families []FamilySnapshot
}

// FamilySnapshot holds all series sharing one metric name.
type FamilySnapshot struct {
	Name   string
	Kind   Kind
	Series []SeriesSnapshot
}

// SeriesSnapshot is the frozen state of a single series.
type SeriesSnapshot struct {
	Labels Labels

	// Counter / gauge value. For counters this is the whole-number count.
	Value float64

	// Histogram state. Counts are cumulative and parallel to Bounds, with
	// one extra trailing entry for the +Inf bucket.
	Bounds []float64
	Counts []uint64
	Sum    float64
}

// Count returns the total observation count of a histogram series, which by
// the cumulative encoding is the +Inf bucket.
func (s SeriesSnapshot) Count() uint64 {
	if len(s.Counts) == 0 {
		return 0
	}
	return s.Counts[len(s.Counts)-1]
}

// Snapshot returns a consistent read of all series for exposition. It never
// mutates registry state.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	families := make([]*family, 0, len(r.families))
	for _, fam := range r.families {
		families = append(families, fam)
	}
	r.mu.RUnlock()

	sort.Slice(families, func(i, j int) bool { return families[i].name < families[j].name })

	snap := Snapshot{Families: make([]FamilySnapshot, 0, len(families))}
	for _, fam := range families {
		snap.Families = append(snap.Families, fam.snapshot())
	}
	return snap
}

// Family returns the snapshot of a single metric name, or false if the
// name has no series yet.
func (r *Registry) Family(name string) (FamilySnapshot, bool) {
	r.mu.RLock()
	fam, ok := r.families[name]
	r.mu.RUnlock()
	if !ok {
		return FamilySnapshot{}, false
	}
	return fam.snapshot(), true
}

func (f *family) snapshot() FamilySnapshot {
	f.mu.RLock()
	all := make([]*series, 0, len(f.series))
	for _, s := range f.series {
		all = append(all, s)
	}
	f.mu.RUnlock()

	fs := FamilySnapshot{
		Name:   f.name,
		Kind:   f.kind,
		Series: make([]SeriesSnapshot, 0, len(all)),
	}
	for _, s := range all {
		ss := SeriesSnapshot{Labels: cloneLabels(s.labels)}
		switch f.kind {
		case KindCounter:
			ss.Value = float64(s.value.Load())
		case KindGauge:
			ss.Value = math.Float64frombits(s.value.Load())
		case KindHistogram:
			ss.Bounds = s.hist.Bounds()
			ss.Counts, ss.Sum = s.hist.state()
		}
		fs.Series = append(fs.Series, ss)
	}

	sort.Slice(fs.Series, func(i, j int) bool {
		return labelsKey(fs.Series[i].Labels) < labelsKey(fs.Series[j].Labels)
	})
	return fs
}

// labelsKey serializes a label set into a sorted, order-independent string,
// used only to give snapshots a stable series ordering.
func labelsKey(labels Labels) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := ""
	for _, k := range keys {
		out += k + "=" + labels[k] + ","
	}
	return out
}
