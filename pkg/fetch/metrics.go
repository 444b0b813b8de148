package fetch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the orchestrator's Prometheus collectors
type Metrics struct {
	fetches   *prometheus.CounterVec
	retries   prometheus.Counter
	bytes     prometheus.Counter
	cacheHits prometheus.Counter
	shared    prometheus.Counter
	duration  prometheus.Histogram
	inflight  prometheus.Gauge
}

// NewMetrics registers the fetch collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modkit",
			Subsystem: "fetch",
			Name:      "artifacts_total",
			Help:      "Artifact downloads by final result",
		}, []string{"source", "result"}),

		retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "modkit",
			Subsystem: "fetch",
			Name:      "retries_total",
			Help:      "Download attempts retried after a transient failure",
		}),

		bytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "modkit",
			Subsystem: "fetch",
			Name:      "bytes_total",
			Help:      "Verified bytes admitted to the cache",
		}),

		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "modkit",
			Subsystem: "fetch",
			Name:      "cache_hits_total",
			Help:      "Artifacts already present in the cache",
		}),

		shared: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "modkit",
			Subsystem: "fetch",
			Name:      "shared_total",
			Help:      "Requests served by a download already in flight",
		}),

		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "modkit",
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Time to download and verify one artifact",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),

		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "modkit",
			Subsystem: "fetch",
			Name:      "inflight",
			Help:      "Downloads currently running",
		}),
	}
}
