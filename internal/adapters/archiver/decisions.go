package archiver

import (
	"context"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"

	"github.com/flowlens/flowlens/internal/domain"
	"github.com/flowlens/flowlens/internal/ports"
)

const decisionInstanceJob = "decision-instances"

// DecisionInstanceArchiver moves standalone decision evaluations, grouped by
// evaluation date. Decisions tied to a process instance travel with their
// parent through the process instance job; this job only picks up the ones
// without a parent, so the two never move the same document.
type DecisionInstanceArchiver struct {
	store   ports.DocumentStorePort
	cfg     domain.ArchiverConfig
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

func NewDecisionInstanceArchiver(store ports.DocumentStorePort, cfg domain.ArchiverConfig, logger *slog.Logger, metrics *Metrics) (*DecisionInstanceArchiver, error) {
	if store == nil {
		return nil, domain.NewValidationError("archiver requires a document store", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &DecisionInstanceArchiver{
		store:   store,
		cfg:     cfg,
		logger:  logger.With("component", "archiver", "job", decisionInstanceJob),
		metrics: metrics,
		now:     time.Now,
	}, nil
}

func (a *DecisionInstanceArchiver) ArchiveNextBatch(ctx context.Context) (int, error) {
	cutoff := a.now().Add(-a.cfg.GracePeriod)

	queryStart := time.Now()
	result, err := a.store.Search(ctx, domain.IndexDecisionInstances, ports.Query{
		Range: map[string]ports.RangeCondition{
			"evaluationDate": {LTE: cutoff},
		},
		Missing: []string{"processInstanceKey"},
	}, ports.SearchOptions{
		SortField: "evaluationDate",
		SortAsc:   true,
		Size:      a.cfg.BatchSize,
	})
	a.metrics.queryDuration.WithLabelValues(decisionInstanceJob).Observe(time.Since(queryStart).Seconds())
	if err != nil {
		a.metrics.batchesFailed.WithLabelValues(decisionInstanceJob).Inc()
		return 0, err
	}
	if len(result.Docs) == 0 {
		return 0, nil
	}

	keys := make([]interface{}, 0, len(result.Docs))
	var earliest time.Time
	for _, doc := range result.Docs {
		var decision domain.DecisionInstance
		if err := json.Unmarshal(doc.Source, &decision); err != nil {
			a.metrics.batchesFailed.WithLabelValues(decisionInstanceJob).Inc()
			return 0, domain.NewInternalError("decode decision instance "+doc.ID, err)
		}
		if decision.EvaluationDate == nil {
			continue
		}
		keys = append(keys, decision.Key)
		if earliest.IsZero() || decision.EvaluationDate.Before(earliest) {
			earliest = *decision.EvaluationDate
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}

	suffix := earliest.Format(a.cfg.DateFormat)
	dest := domain.DestinationIndexName(domain.IndexDecisionInstances, suffix)

	reindexStart := time.Now()
	if _, err := a.store.Reindex(ctx, domain.IndexDecisionInstances, dest, "key", keys); err != nil {
		a.metrics.batchesFailed.WithLabelValues(decisionInstanceJob).Inc()
		return 0, domain.NewStorageError("reindex "+domain.IndexDecisionInstances, err)
	}
	a.metrics.reindexDuration.WithLabelValues(decisionInstanceJob).Observe(time.Since(reindexStart).Seconds())

	deleteStart := time.Now()
	if _, err := a.store.DeleteByKeys(ctx, domain.IndexDecisionInstances, "key", keys); err != nil {
		a.metrics.batchesFailed.WithLabelValues(decisionInstanceJob).Inc()
		return 0, domain.NewStorageError("delete from "+domain.IndexDecisionInstances, err)
	}
	a.metrics.deleteDuration.WithLabelValues(decisionInstanceJob).Observe(time.Since(deleteStart).Seconds())

	moved := len(keys)
	a.metrics.archivedTotal.WithLabelValues(decisionInstanceJob).Add(float64(moved))
	a.logger.Info("archived decision instance batch",
		"count", moved,
		"destination_suffix", suffix,
	)

	return moved, nil
}
