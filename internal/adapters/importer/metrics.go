package importer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	recordsApplied    *prometheus.CounterVec
	duplicatesSkipped *prometheus.CounterVec
	roundsFailed      prometheus.Counter
	batchDuration     prometheus.Histogram
	docRetries        prometheus.Counter
}

// NewMetrics registers the importer's instruments. A nil registerer yields
// working but unregistered instruments, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		recordsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowlens_import_records_applied_total",
			Help: "Exported records applied to the live indices.",
		}, []string{"partition"}),
		duplicatesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowlens_import_duplicates_skipped_total",
			Help: "Records re-delivered at or below the checkpoint and dropped.",
		}, []string{"partition"}),
		roundsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowlens_import_rounds_failed_total",
			Help: "Import rounds aborted by a transient store failure.",
		}),
		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "flowlens_import_batch_duration_seconds",
			Help:    "Wall time of one partition import batch.",
			Buckets: prometheus.DefBuckets,
		}),
		docRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowlens_import_document_retries_total",
			Help: "Documents retried individually after a partial bulk failure.",
		}),
	}
}
