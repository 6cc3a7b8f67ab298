package archiver

import (
	"context"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"

	"github.com/flowlens/flowlens/internal/domain"
	"github.com/flowlens/flowlens/internal/ports"
)

const batchOperationJob = "batch-operations"

// BatchOperationArchiver moves ended batch operations into historical
// buckets, grouped by their own end date. It shares the grace window and
// batch size with the process instance job but runs on its own tick.
type BatchOperationArchiver struct {
	store   ports.DocumentStorePort
	cfg     domain.ArchiverConfig
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

func NewBatchOperationArchiver(store ports.DocumentStorePort, cfg domain.ArchiverConfig, logger *slog.Logger, metrics *Metrics) (*BatchOperationArchiver, error) {
	if store == nil {
		return nil, domain.NewValidationError("archiver requires a document store", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &BatchOperationArchiver{
		store:   store,
		cfg:     cfg,
		logger:  logger.With("component", "archiver", "job", batchOperationJob),
		metrics: metrics,
		now:     time.Now,
	}, nil
}

func (a *BatchOperationArchiver) ArchiveNextBatch(ctx context.Context) (int, error) {
	cutoff := a.now().Add(-a.cfg.GracePeriod)

	queryStart := time.Now()
	result, err := a.store.Search(ctx, domain.IndexBatchOperations, ports.Query{
		Range: map[string]ports.RangeCondition{
			"endDate": {LTE: cutoff},
		},
	}, ports.SearchOptions{
		SortField: "endDate",
		SortAsc:   true,
		Size:      a.cfg.BatchSize,
	})
	a.metrics.queryDuration.WithLabelValues(batchOperationJob).Observe(time.Since(queryStart).Seconds())
	if err != nil {
		a.metrics.batchesFailed.WithLabelValues(batchOperationJob).Inc()
		return 0, err
	}
	if len(result.Docs) == 0 {
		return 0, nil
	}

	ids := make([]interface{}, 0, len(result.Docs))
	var earliest time.Time
	for _, doc := range result.Docs {
		var batch domain.BatchOperation
		if err := json.Unmarshal(doc.Source, &batch); err != nil {
			a.metrics.batchesFailed.WithLabelValues(batchOperationJob).Inc()
			return 0, domain.NewInternalError("decode batch operation "+doc.ID, err)
		}
		if batch.EndDate == nil {
			continue
		}
		ids = append(ids, batch.ID)
		if earliest.IsZero() || batch.EndDate.Before(earliest) {
			earliest = *batch.EndDate
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	suffix := earliest.Format(a.cfg.DateFormat)
	dest := domain.DestinationIndexName(domain.IndexBatchOperations, suffix)

	reindexStart := time.Now()
	if _, err := a.store.Reindex(ctx, domain.IndexBatchOperations, dest, "id", ids); err != nil {
		a.metrics.batchesFailed.WithLabelValues(batchOperationJob).Inc()
		return 0, domain.NewStorageError("reindex "+domain.IndexBatchOperations, err)
	}

	// Child operations move with their batch so the historical bucket stays
	// self-contained.
	destOps := domain.DestinationIndexName(domain.IndexOperations, suffix)
	if _, err := a.store.Reindex(ctx, domain.IndexOperations, destOps, "batchOperationId", ids); err != nil {
		a.metrics.batchesFailed.WithLabelValues(batchOperationJob).Inc()
		return 0, domain.NewStorageError("reindex "+domain.IndexOperations, err)
	}
	a.metrics.reindexDuration.WithLabelValues(batchOperationJob).Observe(time.Since(reindexStart).Seconds())

	deleteStart := time.Now()
	if _, err := a.store.DeleteByKeys(ctx, domain.IndexOperations, "batchOperationId", ids); err != nil {
		a.metrics.batchesFailed.WithLabelValues(batchOperationJob).Inc()
		return 0, domain.NewStorageError("delete from "+domain.IndexOperations, err)
	}
	if _, err := a.store.DeleteByKeys(ctx, domain.IndexBatchOperations, "id", ids); err != nil {
		a.metrics.batchesFailed.WithLabelValues(batchOperationJob).Inc()
		return 0, domain.NewStorageError("delete from "+domain.IndexBatchOperations, err)
	}
	a.metrics.deleteDuration.WithLabelValues(batchOperationJob).Observe(time.Since(deleteStart).Seconds())

	moved := len(ids)
	a.metrics.archivedTotal.WithLabelValues(batchOperationJob).Add(float64(moved))
	a.logger.Info("archived batch operation batch",
		"count", moved,
		"destination_suffix", suffix,
	)

	return moved, nil
}
