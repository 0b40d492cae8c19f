// Package histogram records per-RPC-method latency distributions and
// estimates quantiles from them (spec §4.7, §6.2). Bucket boundaries match
// the ones the source this was ported from used: {5, 10, 25, 50, 100, 250,
// 500, 1000, 2500, 5000, 10000} milliseconds, plus an implicit +Inf bucket.
package histogram

import (
	"fmt"
	"sort"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultBoundsMs are the fixed upper bounds (in milliseconds) every
// method's histogram is built with.
var DefaultBoundsMs = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// Recorder tracks one latency histogram per RPC method name.
type Recorder struct {
	vec *prometheus.HistogramVec
}

// NewRecorder builds an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		vec: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spamgen_rpc_latency_ms",
			Help:    "RPC round-trip latency in milliseconds, by method.",
			Buckets: DefaultBoundsMs,
		}, []string{"method"}),
	}
}

// Record adds one observation of elapsedMs for the given method, e.g. an
// RecordLatency message in the Tx Actor's protocol.
func (r *Recorder) Record(method string, elapsedMs float64) {
	r.vec.WithLabelValues(method).Observe(elapsedMs)
}

// Collector exposes the underlying vector for registration against a
// prometheus.Registry.
func (r *Recorder) Collector() prometheus.Collector {
	return r.vec
}

// Bucket is one (upper_bound_seconds, cumulative_count) pair, matching the
// persistence collaborator's expected shape (spec §6.2).
type Bucket struct {
	UpperBoundSeconds float64
	CumulativeCount   uint64
}

// Buckets reads back the current cumulative bucket counts for method, in
// ascending upper-bound order, converting milliseconds to seconds for the
// persistence collaborator.
func (r *Recorder) Buckets(method string) ([]Bucket, error) {
	observer, err := r.vec.GetMetricWithLabelValues(method)
	if err != nil {
		return nil, fmt.Errorf("histogram: getting metric for %q: %w", method, err)
	}
	metric, ok := observer.(prometheus.Metric)
	if !ok {
		return nil, fmt.Errorf("histogram: metric for %q is not collectible", method)
	}

	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		return nil, fmt.Errorf("histogram: writing metric for %q: %w", method, err)
	}

	raw := m.GetHistogram().GetBucket()
	out := make([]Bucket, 0, len(raw))
	for _, b := range raw {
		out = append(out, Bucket{
			UpperBoundSeconds: b.GetUpperBound() / 1000.0,
			CumulativeCount:   b.GetCumulativeCount(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpperBoundSeconds < out[j].UpperBoundSeconds })
	return out, nil
}

// EstimateQuantile linearly interpolates the value at `quantile` (0..1)
// within the bucket that first reaches it, matching BucketsExt::estimate_quantile.
func EstimateQuantile(buckets []Bucket, quantile float64) float64 {
	if len(buckets) == 0 {
		return 0
	}

	total := buckets[len(buckets)-1].CumulativeCount
	target := uint64(quantile * float64(total))
	if float64(target) < quantile*float64(total) {
		target++ // ceil
	}

	for i, b := range buckets {
		if b.CumulativeCount >= target {
			var lowerBound float64
			var lowerCount uint64
			if i > 0 {
				lowerBound = buckets[i-1].UpperBoundSeconds
				lowerCount = buckets[i-1].CumulativeCount
			}
			upperBound := b.UpperBoundSeconds
			upperCount := b.CumulativeCount

			rangeCount := upperCount - lowerCount
			if rangeCount == 0 {
				rangeCount = 1
			}
			position := float64(target-lowerCount) / float64(rangeCount)
			return lowerBound + (upperBound-lowerBound)*position
		}
	}
	return buckets[len(buckets)-1].UpperBoundSeconds
}
