// Package expose serves the registry's state in the Prometheus text
// exposition format.
package expose

import (
	"io"
	"math"
	"net/http"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/phantomapi/gateway/internal/metrics"
)

// Handler renders a registry snapshot on each GET. It never mutates
// registry state.
type Handler struct {
	registry *metrics.Registry
	runtime  prometheus.Gatherer
	logger   *zap.Logger
}

// Compile-time check that Handler implements http.Handler.
var _ http.Handler = (*Handler)(nil)

// NewHandler creates an exposition handler for the registry. The runtime
// gatherer is optional; when non-nil its families (typically Go runtime and
// process metrics) are appended after the gateway's own.
func NewHandler(registry *metrics.Registry, runtime prometheus.Gatherer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		registry: registry,
		runtime:  runtime,
		logger:   logger,
	}
}

// NewRuntimeGatherer returns a private gatherer of Go runtime and process
// metrics, suitable for the runtime argument of NewHandler.
func NewRuntimeGatherer() prometheus.Gatherer {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ServeHTTP renders the current snapshot. GET only.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	families := toMetricFamilies(h.registry.Snapshot())

	if h.runtime != nil {
		extra, err := h.runtime.Gather()
		if err != nil {
			h.logger.Warn("gathering runtime metrics", zap.Error(err))
		} else {
			families = append(families, extra...)
		}
	}

	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	var out io.Writer = w
	if acceptsGzip(r) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		out = gz
	}

	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(out, mf); err != nil {
			h.logger.Warn("encoding metric family", zap.String("family", mf.GetName()), zap.Error(err))
			return
		}
	}
}

func acceptsGzip(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		if strings.TrimSpace(strings.SplitN(enc, ";", 2)[0]) == "gzip" {
			return true
		}
	}
	return false
}

// toMetricFamilies converts a snapshot into the dto families the text
// encoder consumes.
func toMetricFamilies(snap metrics.Snapshot) []*dto.MetricFamily {
	families := make([]*dto.MetricFamily, 0, len(snap.Families))
	for _, fam := range snap.Families {
		mf := &dto.MetricFamily{
			Name: proto.String(fam.Name),
			Type: familyType(fam.Kind).Enum(),
		}
		for _, s := range fam.Series {
			m := &dto.Metric{Label: labelPairs(s.Labels)}
			switch fam.Kind {
			case metrics.KindCounter:
				m.Counter = &dto.Counter{Value: proto.Float64(s.Value)}
			case metrics.KindGauge:
				m.Gauge = &dto.Gauge{Value: proto.Float64(s.Value)}
			case metrics.KindHistogram:
				m.Histogram = histogramProto(s)
			}
			mf.Metric = append(mf.Metric, m)
		}
		families = append(families, mf)
	}
	return families
}

func familyType(kind metrics.Kind) dto.MetricType {
	switch kind {
	case metrics.KindGauge:
		return dto.MetricType_GAUGE
	case metrics.KindHistogram:
		return dto.MetricType_HISTOGRAM
	default:
		return dto.MetricType_COUNTER
	}
}

func labelPairs(labels metrics.Labels) []*dto.LabelPair {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]*dto.LabelPair, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, &dto.LabelPair{
			Name:  proto.String(k),
			Value: proto.String(labels[k]),
		})
	}
	return pairs
}

func histogramProto(s metrics.SeriesSnapshot) *dto.Histogram {
	buckets := make([]*dto.Bucket, 0, len(s.Counts))
	for i, bound := range s.Bounds {
		buckets = append(buckets, &dto.Bucket{
			UpperBound:      proto.Float64(bound),
			CumulativeCount: proto.Uint64(s.Counts[i]),
		})
	}
	buckets = append(buckets, &dto.Bucket{
		UpperBound:      proto.Float64(math.Inf(1)),
		CumulativeCount: proto.Uint64(s.Count()),
	})

	return &dto.Histogram{
		SampleCount: proto.Uint64(s.Count()),
		SampleSum:   proto.Float64(s.Sum),
		Bucket:      buckets,
	}
}
