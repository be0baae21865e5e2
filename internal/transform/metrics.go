package transform

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the ambient Prometheus surface for the transform cache,
// registered once and shared across every Engine instance for a
// process (one per build version in practice).
type Metrics struct {
	Hits   prometheus.Counter
	Misses prometheus.Counter
	Size   prometheus.Gauge
}

// NewMetrics constructs and registers the transform cache metrics
// against reg; a nil reg skips registration. cmd/ionify-dev passes its
// own registry, served at /__ionify_metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ionify_transform_cache_hits_total",
			Help: "Number of transform requests served from the LRU or CAS cache.",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ionify_transform_cache_misses_total",
			Help: "Number of transform requests that required running the loader chain.",
		}),
		Size: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ionify_transform_cache_size",
			Help: "Current number of entries in the in-memory transform LRU.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Hits, m.Misses, m.Size)
	}
	return m
}
