// Package archiver moves finished entities out of the live indices into
// date-bucketed historical indices. Every job follows the same shape: find
// the oldest eligible batch, reindex it (parent plus dependents) into the
// destination bucket, and only then delete the originals. An aborted batch
// leaves at worst a transient duplicate, never a loss.
package archiver

import (
	"context"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"

	"github.com/flowlens/flowlens/internal/domain"
	"github.com/flowlens/flowlens/internal/ports"
)

const processInstanceJob = "process-instances"

type Archiver struct {
	store   ports.DocumentStorePort
	cfg     domain.ArchiverConfig
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

func New(store ports.DocumentStorePort, cfg domain.ArchiverConfig, logger *slog.Logger, metrics *Metrics) (*Archiver, error) {
	if store == nil {
		return nil, domain.NewValidationError("archiver requires a document store", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &Archiver{
		store:   store,
		cfg:     cfg,
		logger:  logger.With("component", "archiver", "job", processInstanceJob),
		metrics: metrics,
		now:     time.Now,
	}, nil
}

// ArchiveNextBatch moves one page of finished process instances, together
// with their dependent documents, into the bucket named by the earliest end
// date of the page. Restricted to the given partitions so concurrent nodes
// never race on the same instances. Returns 0 when nothing is eligible; that
// call is side-effect-free.
func (a *Archiver) ArchiveNextBatch(ctx context.Context, partitions []int32) (int, error) {
	cutoff := a.now().Add(-a.cfg.GracePeriod)

	queryStart := time.Now()
	result, err := a.store.Search(ctx, domain.IndexProcessInstances, ports.Query{
		AnyOf: map[string][]interface{}{
			"state":       {string(domain.ProcessInstanceStateCompleted), string(domain.ProcessInstanceStateCanceled)},
			"partitionId": partitionValues(partitions),
		},
		Range: map[string]ports.RangeCondition{
			"endDate": {LTE: cutoff},
		},
	}, ports.SearchOptions{
		SortField: "endDate",
		SortAsc:   true,
		Size:      a.cfg.BatchSize,
	})
	a.metrics.queryDuration.WithLabelValues(processInstanceJob).Observe(time.Since(queryStart).Seconds())
	if err != nil {
		a.metrics.batchesFailed.WithLabelValues(processInstanceJob).Inc()
		return 0, err
	}
	if len(result.Docs) == 0 {
		return 0, nil
	}

	keys, earliest, err := instanceKeysAndEarliestEnd(result.Docs)
	if err != nil {
		a.metrics.batchesFailed.WithLabelValues(processInstanceJob).Inc()
		return 0, err
	}

	// One destination per pass: the batch shares the bucket of its earliest
	// end date, trading bucket precision for batch efficiency.
	suffix := earliest.Format(a.cfg.DateFormat)

	reindexStart := time.Now()
	if err := a.reindexBatch(ctx, suffix, keys); err != nil {
		a.metrics.batchesFailed.WithLabelValues(processInstanceJob).Inc()
		return 0, err
	}
	a.metrics.reindexDuration.WithLabelValues(processInstanceJob).Observe(time.Since(reindexStart).Seconds())

	deleteStart := time.Now()
	if err := a.deleteBatch(ctx, keys); err != nil {
		a.metrics.batchesFailed.WithLabelValues(processInstanceJob).Inc()
		return 0, err
	}
	a.metrics.deleteDuration.WithLabelValues(processInstanceJob).Observe(time.Since(deleteStart).Seconds())

	moved := len(keys)
	a.metrics.archivedTotal.WithLabelValues(processInstanceJob).Add(float64(moved))
	a.logger.Info("archived process instance batch",
		"count", moved,
		"destination_suffix", suffix,
	)

	return moved, nil
}

// reindexBatch copies the parent instances and every configured dependent
// type into the destination bucket. Nothing is deleted until all copies
// succeeded.
func (a *Archiver) reindexBatch(ctx context.Context, suffix string, keys []interface{}) error {
	dest := domain.DestinationIndexName(domain.IndexProcessInstances, suffix)
	if _, err := a.store.Reindex(ctx, domain.IndexProcessInstances, dest, "key", keys); err != nil {
		return domain.NewStorageError("reindex "+domain.IndexProcessInstances, err)
	}

	for _, index := range a.cfg.DependentIndices {
		dest := domain.DestinationIndexName(index, suffix)
		if _, err := a.store.Reindex(ctx, index, dest, "processInstanceKey", keys); err != nil {
			return domain.NewStorageError("reindex "+index, err)
		}
	}

	return nil
}

// deleteBatch removes the live originals, dependents before parents: a batch
// interrupted mid-delete is still found by the next pass through its parent
// instances and retried to completion.
func (a *Archiver) deleteBatch(ctx context.Context, keys []interface{}) error {
	for _, index := range a.cfg.DependentIndices {
		if _, err := a.store.DeleteByKeys(ctx, index, "processInstanceKey", keys); err != nil {
			return domain.NewStorageError("delete from "+index, err)
		}
	}

	if _, err := a.store.DeleteByKeys(ctx, domain.IndexProcessInstances, "key", keys); err != nil {
		return domain.NewStorageError("delete from "+domain.IndexProcessInstances, err)
	}

	return nil
}

func instanceKeysAndEarliestEnd(docs []ports.Document) ([]interface{}, time.Time, error) {
	var earliest time.Time
	keys := make([]interface{}, 0, len(docs))

	for _, doc := range docs {
		var instance domain.ProcessInstance
		if err := json.Unmarshal(doc.Source, &instance); err != nil {
			return nil, time.Time{}, domain.NewInternalError("decode process instance "+doc.ID, err)
		}
		if instance.EndDate == nil {
			return nil, time.Time{}, domain.NewInternalError("finished instance without end date: "+doc.ID, nil)
		}

		keys = append(keys, instance.Key)
		if earliest.IsZero() || instance.EndDate.Before(earliest) {
			earliest = *instance.EndDate
		}
	}

	return keys, earliest, nil
}

func partitionValues(partitions []int32) []interface{} {
	values := make([]interface{}, 0, len(partitions))
	for _, p := range partitions {
		values = append(values, p)
	}
	return values
}
