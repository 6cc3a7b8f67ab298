// Package importer consumes the engine's per-partition export stream and
// projects it into the live indices. One partition imports strictly in
// position order behind a checkpoint that only ever advances after the store
// acknowledged the batch.
package importer

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/flowlens/flowlens/internal/domain"
	"github.com/flowlens/flowlens/internal/helpers/docmatch"
	"github.com/flowlens/flowlens/internal/ports"
)

// BatchProgressUpdater recomputes a batch operation's derived progress after
// the importer finalized child operations. Wired to the operation executor.
type BatchProgressUpdater interface {
	RecomputeBatchProgress(ctx context.Context, batchOperationID string) error
}

type Importer struct {
	store    ports.DocumentStorePort
	reader   ports.RecordReaderPort
	progress BatchProgressUpdater
	handlers map[domain.ValueType]recordHandler
	cfg      domain.ImportConfig
	logger   *slog.Logger
	metrics  *Metrics

	mu             sync.Mutex
	partitionLocks map[int32]*sync.Mutex
	positions      map[int32]int64
}

func New(store ports.DocumentStorePort, reader ports.RecordReaderPort, cfg domain.ImportConfig, logger *slog.Logger, metrics *Metrics) (*Importer, error) {
	if store == nil {
		return nil, domain.NewValidationError("importer requires a document store", nil)
	}
	if reader == nil {
		return nil, domain.NewValidationError("importer requires a record reader", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	imp := &Importer{
		store:          store,
		reader:         reader,
		cfg:            cfg,
		logger:         logger.With("component", "importer"),
		metrics:        metrics,
		partitionLocks: make(map[int32]*sync.Mutex),
		positions:      make(map[int32]int64),
	}
	imp.handlers = imp.handlerTable()

	return imp, nil
}

// SetProgressUpdater wires the executor's progress recomputation in after
// both components exist. Must be called before the first import round.
func (i *Importer) SetProgressUpdater(progress BatchProgressUpdater) {
	i.progress = progress
}

// PerformOneRoundOfImport runs one ImportBatch per owned partition
// concurrently and reports the total applied count. Partitions are
// independent; one partition's failure does not stop the others, but the
// first error is reported so the scheduler logs the round as failed.
func (i *Importer) PerformOneRoundOfImport(ctx context.Context, partitions []int32) (int, error) {
	var (
		g     errgroup.Group
		mu    sync.Mutex
		total int
	)

	for _, partition := range partitions {
		partition := partition
		g.Go(func() error {
			applied, err := i.ImportBatch(ctx, partition)
			if err != nil {
				return err
			}
			mu.Lock()
			total += applied
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	return total, err
}

// ImportBatch applies the next slice of a partition's export stream. Records
// at or below the checkpoint are duplicates and dropped. The checkpoint is
// persisted only after the store acknowledged every document of the batch, so
// a failed round re-applies the same records on the next tick; the merge
// upsert makes that idempotent.
func (i *Importer) ImportBatch(ctx context.Context, partitionID int32) (int, error) {
	lock := i.partitionLock(partitionID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	defer func() {
		i.metrics.batchDuration.Observe(time.Since(start).Seconds())
	}()

	position, err := i.loadPosition(ctx, partitionID)
	if err != nil {
		i.metrics.roundsFailed.Inc()
		return 0, err
	}

	records, err := i.reader.ReadBatch(ctx, partitionID, position, i.cfg.BatchSize)
	if err != nil {
		i.metrics.roundsFailed.Inc()
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	partitionLabel := strconv.FormatInt(int64(partitionID), 10)

	buffer := newBulkBuffer()
	applied := 0
	last := position
	var finalized []string

	for _, record := range records {
		if record.Position <= last {
			i.metrics.duplicatesSkipped.WithLabelValues(partitionLabel).Inc()
			i.logger.Debug("skipping re-delivered record",
				"partition", record.PartitionID,
				"position", record.Position,
				"checkpoint", last,
			)
			continue
		}

		if err := i.applyRecord(record, buffer, &finalized); err != nil {
			// A record the handler cannot decode must not wedge the
			// partition; it is logged and skipped like a duplicate.
			i.logger.Error("failed to apply record",
				"partition", record.PartitionID,
				"position", record.Position,
				"value_type", record.ValueType,
				"error", err.Error(),
			)
		}

		last = record.Position
		applied++
	}

	if err := i.flush(ctx, buffer); err != nil {
		i.metrics.roundsFailed.Inc()
		return 0, err
	}

	if err := i.persistPosition(ctx, partitionID, last); err != nil {
		i.metrics.roundsFailed.Inc()
		return 0, err
	}

	i.metrics.recordsApplied.WithLabelValues(partitionLabel).Add(float64(applied))

	if len(finalized) > 0 {
		i.notifyProgress(ctx, finalized)
	}

	i.logger.Debug("import batch applied",
		"partition", partitionID,
		"applied", applied,
		"checkpoint", last,
	)

	return applied, nil
}

func (i *Importer) applyRecord(record domain.Record, buffer *bulkBuffer, finalized *[]string) error {
	if record.OperationID != "" {
		op := operationOutcome(record)
		if err := buffer.add(op.index, op.id, op.doc); err != nil {
			return err
		}
		*finalized = append(*finalized, record.OperationID)
	}

	// A rejected command caused no state change in the engine; only the
	// operation outcome above applies.
	if record.Rejected {
		return nil
	}

	handler, ok := i.handlers[record.ValueType]
	if !ok {
		i.logger.Warn("no handler for value type, skipping record",
			"value_type", record.ValueType,
			"position", record.Position,
		)
		return nil
	}

	ops, err := handler(record)
	if err != nil {
		return err
	}

	for _, op := range ops {
		if err := buffer.add(op.index, op.id, op.doc); err != nil {
			return err
		}
	}

	return nil
}

func (i *Importer) flush(ctx context.Context, buffer *bulkBuffer) error {
	for _, index := range buffer.indices() {
		docs := buffer.docs(index)

		result, err := i.bulkWrite(ctx, index, docs)
		if err != nil {
			return err
		}

		for _, failure := range result.Failures {
			if failure.Conflict {
				// The operation is already terminal; a re-delivered outcome
				// must not touch it.
				i.logger.Debug("skipping superseded operation update", "doc_id", failure.ID)
				continue
			}
			if err := i.retryFailedDoc(ctx, index, docs, failure); err != nil {
				if domain.IsUnavailable(err) {
					return err
				}
				// Isolated document failure: siblings and checkpoint proceed.
				i.logger.Error("dropping document after failed retries",
					"index", index,
					"doc_id", failure.ID,
					"reason", failure.Reason,
					"error", err.Error(),
				)
			}
		}
	}

	return nil
}

// retryFailedDoc retries one rejected document with a backoff, isolated from
// its batch. A too-large variable document is shrunk to its preview before
// the retry; payloads above the store's field limits must survive import.
func (i *Importer) retryFailedDoc(ctx context.Context, index string, docs []ports.Document, failure ports.BulkFailure) error {
	doc, ok := findDoc(docs, failure.ID)
	if !ok {
		return domain.NewInternalError("failed document missing from batch", nil)
	}

	if failure.TooLarge {
		shrunk, err := i.shrinkDoc(doc)
		if err != nil {
			return err
		}
		doc = shrunk
	}

	var lastErr error
	for attempt := 1; attempt <= i.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(i.cfg.RetryDelay * time.Duration(attempt)):
		}

		i.metrics.docRetries.Inc()

		result, err := i.bulkWrite(ctx, index, []ports.Document{doc})
		if err != nil {
			return err
		}
		if len(result.Failures) == 0 {
			return nil
		}
		if result.Failures[0].Conflict {
			return nil
		}

		lastErr = domain.NewStorageError("retry document "+failure.ID, errRejected(result.Failures[0].Reason))
	}

	return lastErr
}

// bulkWrite routes operation documents through the guarded update so a
// finalized operation can never move backwards, whatever order records and
// executor ticks land in. Entity indices take the plain merge.
func (i *Importer) bulkWrite(ctx context.Context, index string, docs []ports.Document) (*ports.BulkResult, error) {
	if index == domain.IndexOperations {
		return i.store.BulkUpdateGuarded(ctx, index, docs, domain.OperationTransitionGuard)
	}
	return i.store.BulkUpsert(ctx, index, docs)
}

// shrinkDoc drops the untruncated payload from an oversized document and
// keeps a preview within the threshold.
func (i *Importer) shrinkDoc(doc ports.Document) (ports.Document, error) {
	fields, err := docmatch.Decode(doc.Source)
	if err != nil {
		return doc, domain.NewInternalError("decode oversized document", err)
	}

	delete(fields, "fullValue")
	if value, ok := fields["value"].(string); ok && i.cfg.VariableSizeThreshold > 0 && len(value) > i.cfg.VariableSizeThreshold {
		fields["value"] = value[:i.cfg.VariableSizeThreshold]
	}
	fields["isPreview"] = true

	source, err := json.Marshal(fields)
	if err != nil {
		return doc, domain.NewInternalError("marshal shrunk document", err)
	}

	return ports.Document{ID: doc.ID, Source: source}, nil
}

func (i *Importer) loadPosition(ctx context.Context, partitionID int32) (int64, error) {
	i.mu.Lock()
	cached, ok := i.positions[partitionID]
	i.mu.Unlock()
	if ok {
		return cached, nil
	}

	result, err := i.store.Search(ctx, domain.IndexImportPositions, ports.Query{
		Terms: map[string]interface{}{"partitionId": partitionID},
	}, ports.SearchOptions{Size: 1})
	if err != nil {
		return 0, err
	}

	var position int64
	if len(result.Docs) > 0 {
		var checkpoint domain.ImportPosition
		if err := json.Unmarshal(result.Docs[0].Source, &checkpoint); err != nil {
			return 0, domain.NewInternalError("decode import position", err)
		}
		position = checkpoint.Position
	}

	i.mu.Lock()
	i.positions[partitionID] = position
	i.mu.Unlock()

	return position, nil
}

func (i *Importer) persistPosition(ctx context.Context, partitionID int32, position int64) error {
	source, err := json.Marshal(domain.ImportPosition{PartitionID: partitionID, Position: position})
	if err != nil {
		return domain.NewInternalError("marshal import position", err)
	}

	result, err := i.store.BulkUpsert(ctx, domain.IndexImportPositions, []ports.Document{{
		ID:     domain.ImportPositionID(partitionID),
		Source: source,
	}})
	if err != nil {
		return err
	}
	if len(result.Failures) > 0 {
		return domain.NewStorageError("persist import position", errRejected(result.Failures[0].Reason))
	}

	i.mu.Lock()
	i.positions[partitionID] = position
	i.mu.Unlock()

	return nil
}

// notifyProgress resolves the batch operations owning the finalized
// operations and recomputes their derived progress. Failures here are logged
// only: progress is recomputed again on the executor's next tick.
func (i *Importer) notifyProgress(ctx context.Context, operationIDs []string) {
	if i.progress == nil {
		return
	}

	ids := make([]interface{}, 0, len(operationIDs))
	for _, id := range operationIDs {
		ids = append(ids, id)
	}

	result, err := i.store.Search(ctx, domain.IndexOperations, ports.Query{
		AnyOf: map[string][]interface{}{"id": ids},
	}, ports.SearchOptions{Size: len(ids)})
	if err != nil {
		i.logger.Error("failed to load finalized operations", "error", err.Error())
		return
	}

	batchIDs := make(map[string]struct{})
	for _, doc := range result.Docs {
		var op domain.Operation
		if err := json.Unmarshal(doc.Source, &op); err != nil {
			continue
		}
		if op.BatchOperationID != "" {
			batchIDs[op.BatchOperationID] = struct{}{}
		}
	}

	for batchID := range batchIDs {
		if err := i.progress.RecomputeBatchProgress(ctx, batchID); err != nil {
			i.logger.Error("failed to recompute batch progress",
				"batch_operation_id", batchID,
				"error", err.Error(),
			)
		}
	}
}

func (i *Importer) partitionLock(partitionID int32) *sync.Mutex {
	i.mu.Lock()
	defer i.mu.Unlock()

	lock, ok := i.partitionLocks[partitionID]
	if !ok {
		lock = &sync.Mutex{}
		i.partitionLocks[partitionID] = lock
	}
	return lock
}

// bulkBuffer accumulates partial documents per index, merging multiple
// updates to the same document before the flush so one bulk request carries
// one document per id.
type bulkBuffer struct {
	byIndex map[string]map[string]json.RawMessage
}

func newBulkBuffer() *bulkBuffer {
	return &bulkBuffer{byIndex: make(map[string]map[string]json.RawMessage)}
}

func (b *bulkBuffer) add(index, id string, doc map[string]interface{}) error {
	source, err := json.Marshal(doc)
	if err != nil {
		return domain.NewInternalError("marshal document", err)
	}

	idx := b.byIndex[index]
	if idx == nil {
		idx = make(map[string]json.RawMessage)
		b.byIndex[index] = idx
	}

	merged, err := domain.MergeDocuments(idx[id], source)
	if err != nil {
		return err
	}
	idx[id] = merged

	return nil
}

func (b *bulkBuffer) indices() []string {
	names := make([]string, 0, len(b.byIndex))
	for name := range b.byIndex {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *bulkBuffer) docs(index string) []ports.Document {
	idx := b.byIndex[index]
	docs := make([]ports.Document, 0, len(idx))
	for id, source := range idx {
		docs = append(docs, ports.Document{ID: id, Source: source})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs
}

type errRejected string

func (e errRejected) Error() string { return string(e) }

func findDoc(docs []ports.Document, id string) (ports.Document, bool) {
	for _, doc := range docs {
		if doc.ID == id {
			return doc, true
		}
	}
	return ports.Document{}, false
}
