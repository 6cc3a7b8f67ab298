package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	dispatched       *prometheus.CounterVec
	batchDuration    prometheus.Histogram
	batchesScheduled prometheus.Counter
}

// NewMetrics registers the executor's instruments. A nil registerer yields
// working but unregistered instruments.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		dispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowlens_operations_dispatched_total",
			Help: "Operations dispatched to the engine, by outcome.",
		}, []string{"outcome"}),
		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "flowlens_operations_batch_duration_seconds",
			Help:    "Wall time of one executor batch.",
			Buckets: prometheus.DefBuckets,
		}),
		batchesScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowlens_batch_operations_scheduled_total",
			Help: "Batch operations accepted from the write path.",
		}),
	}
}
