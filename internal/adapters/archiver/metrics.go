package archiver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	archivedTotal   *prometheus.CounterVec
	queryDuration   *prometheus.HistogramVec
	reindexDuration *prometheus.HistogramVec
	deleteDuration  *prometheus.HistogramVec
	batchesFailed   *prometheus.CounterVec
}

// NewMetrics registers the archiver's instruments. A nil registerer yields
// working but unregistered instruments.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		archivedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowlens_archiver_archived_total",
			Help: "Entities moved into historical indices.",
		}, []string{"job"}),
		queryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowlens_archiver_query_duration_seconds",
			Help:    "Time to find the next archivable batch.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		reindexDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowlens_archiver_reindex_duration_seconds",
			Help:    "Time to copy a batch into its historical index.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		deleteDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowlens_archiver_delete_duration_seconds",
			Help:    "Time to delete a batch from the live indices.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		batchesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowlens_archiver_batches_failed_total",
			Help: "Archiver batches aborted before their delete step.",
		}, []string{"job"}),
	}
}
