// Package executor drives pending user operations against the engine.
// Dispatch is synchronous; completion is not. An accepted command leaves its
// operation in SENT until the importer observes the engine's exported effect
// and finalizes the state, which is the system's eventual-consistency
// mechanism rather than a gap.
package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/flowlens/flowlens/internal/domain"
	"github.com/flowlens/flowlens/internal/ports"
)

// dispatchParallelism bounds concurrent engine calls within one batch. The
// commands are independent; the bound only protects the gateway.
const dispatchParallelism = 8

type Executor struct {
	store      ports.DocumentStorePort
	dispatcher ports.CommandDispatchPort
	cfg        domain.OperationsConfig
	nodeID     string
	logger     *slog.Logger
	metrics    *Metrics
	now        func() time.Time
}

func New(store ports.DocumentStorePort, dispatcher ports.CommandDispatchPort, cfg domain.OperationsConfig, nodeID string, logger *slog.Logger, metrics *Metrics) (*Executor, error) {
	if store == nil {
		return nil, domain.NewValidationError("executor requires a document store", nil)
	}
	if dispatcher == nil {
		return nil, domain.NewValidationError("executor requires a command dispatcher", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &Executor{
		store:      store,
		dispatcher: dispatcher,
		cfg:        cfg,
		nodeID:     nodeID,
		logger:     logger.With("component", "executor"),
		metrics:    metrics,
		now:        time.Now,
	}, nil
}

// ExecuteOneBatch claims up to BatchOperationMaxSize pending operations,
// dispatches each, and records the synchronous outcome: SENT on acceptance,
// FAILED with the engine's reason on rejection, back to SCHEDULED when the
// engine was unreachable. Locks from a crashed executor are reclaimed once
// their lease expires.
func (e *Executor) ExecuteOneBatch(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		e.metrics.batchDuration.Observe(time.Since(start).Seconds())
	}()

	candidates, err := e.claimableOperations(ctx)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	locked, err := e.lockOperations(ctx, candidates)
	if err != nil {
		return 0, err
	}

	var (
		g, gctx = errgroup.WithContext(ctx)
		mu      sync.Mutex
		updates []ports.Document
		touched = make(map[string]struct{})
	)
	g.SetLimit(dispatchParallelism)

	for _, op := range locked {
		op := op
		g.Go(func() error {
			update := e.dispatchOne(gctx, op)
			mu.Lock()
			updates = append(updates, update)
			if op.BatchOperationID != "" {
				touched[op.BatchOperationID] = struct{}{}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	result, err := e.store.BulkUpdateGuarded(ctx, domain.IndexOperations, updates, domain.OperationTransitionGuard)
	if err != nil {
		return 0, err
	}
	for _, failure := range result.Failures {
		if failure.Conflict {
			// The importer finalized the operation while its command was in
			// flight; the terminal state wins.
			e.logger.Info("operation transition superseded by import outcome",
				"operation_id", failure.ID,
			)
			continue
		}
		e.logger.Error("failed to persist operation transition",
			"operation_id", failure.ID,
			"reason", failure.Reason,
		)
	}

	for batchID := range touched {
		if err := e.RecomputeBatchProgress(ctx, batchID); err != nil {
			e.logger.Error("failed to recompute batch progress",
				"batch_operation_id", batchID,
				"error", err.Error(),
			)
		}
	}

	return len(locked), nil
}

// claimableOperations returns SCHEDULED operations oldest first, plus LOCKED
// ones whose lease expired, capped at the batch maximum.
func (e *Executor) claimableOperations(ctx context.Context) ([]domain.Operation, error) {
	scheduled, err := e.store.Search(ctx, domain.IndexOperations, ports.Query{
		Terms: map[string]interface{}{"state": string(domain.OperationStateScheduled)},
	}, ports.SearchOptions{
		SortField: "creationDate",
		SortAsc:   true,
		Size:      e.cfg.BatchOperationMaxSize,
	})
	if err != nil {
		return nil, err
	}

	expired, err := e.store.Search(ctx, domain.IndexOperations, ports.Query{
		Terms: map[string]interface{}{"state": string(domain.OperationStateLocked)},
		Range: map[string]ports.RangeCondition{
			"lockExpirationTime": {LTE: e.now()},
		},
	}, ports.SearchOptions{
		SortField: "creationDate",
		SortAsc:   true,
		Size:      e.cfg.BatchOperationMaxSize,
	})
	if err != nil {
		return nil, err
	}

	var candidates []domain.Operation
	for _, doc := range append(scheduled.Docs, expired.Docs...) {
		var op domain.Operation
		if err := json.Unmarshal(doc.Source, &op); err != nil {
			e.logger.Error("failed to decode operation", "doc_id", doc.ID, "error", err.Error())
			continue
		}
		candidates = append(candidates, op)
		if len(candidates) >= e.cfg.BatchOperationMaxSize {
			break
		}
	}

	return candidates, nil
}

func (e *Executor) lockOperations(ctx context.Context, candidates []domain.Operation) ([]domain.Operation, error) {
	expiration := e.now().Add(e.cfg.LockTimeout)

	locks := make([]ports.Document, 0, len(candidates))
	for _, op := range candidates {
		source, err := json.Marshal(map[string]interface{}{
			"id":                 op.ID,
			"state":              string(domain.OperationStateLocked),
			"lockOwner":          e.nodeID,
			"lockExpirationTime": expiration,
		})
		if err != nil {
			return nil, domain.NewInternalError("marshal lock update", err)
		}
		locks = append(locks, ports.Document{ID: op.ID, Source: source})
	}

	// The guard runs under the store's write lock, so an operation finalized
	// between the claim query and this write is skipped instead of regressed
	// to LOCKED and dispatched again.
	result, err := e.store.BulkUpdateGuarded(ctx, domain.IndexOperations, locks, domain.OperationTransitionGuard)
	if err != nil {
		return nil, err
	}

	failed := make(map[string]struct{}, len(result.Failures))
	for _, failure := range result.Failures {
		if failure.Conflict {
			e.logger.Debug("operation no longer claimable, skipping", "operation_id", failure.ID)
		} else {
			e.logger.Warn("failed to lock operation, skipping", "operation_id", failure.ID)
		}
		failed[failure.ID] = struct{}{}
	}

	locked := make([]domain.Operation, 0, len(candidates))
	for _, op := range candidates {
		if _, ok := failed[op.ID]; ok {
			continue
		}
		op.State = domain.OperationStateLocked
		locked = append(locked, op)
	}

	return locked, nil
}

// dispatchOne submits one command and renders the resulting state transition
// as a partial document. Rejections record the engine's reason verbatim.
func (e *Executor) dispatchOne(ctx context.Context, op domain.Operation) ports.Document {
	err := e.dispatcher.Dispatch(ctx, buildCommand(op))

	doc := map[string]interface{}{"id": op.ID}
	switch {
	case err == nil:
		doc["state"] = string(domain.OperationStateSent)
		e.metrics.dispatched.WithLabelValues("sent").Inc()
		e.logger.Debug("operation dispatched", "operation_id", op.ID, "type", op.Type)

	case domain.IsRejection(err):
		now := e.now()
		doc["state"] = string(domain.OperationStateFailed)
		doc["errorMessage"] = domain.RejectionReason(err)
		doc["completedDate"] = now
		e.metrics.dispatched.WithLabelValues("rejected").Inc()
		e.logger.Info("operation rejected by engine",
			"operation_id", op.ID,
			"type", op.Type,
			"reason", domain.RejectionReason(err),
		)

	default:
		// Transient: release the claim so the next tick retries.
		doc["state"] = string(domain.OperationStateScheduled)
		doc["lockOwner"] = nil
		doc["lockExpirationTime"] = nil
		e.metrics.dispatched.WithLabelValues("retried").Inc()
		e.logger.Warn("engine unreachable, operation rescheduled",
			"operation_id", op.ID,
			"type", op.Type,
			"error", err.Error(),
		)
	}

	source, err := json.Marshal(doc)
	if err != nil {
		e.logger.Error("failed to marshal operation update", "operation_id", op.ID, "error", err.Error())
		source = []byte(`{}`)
	}

	return ports.Document{ID: op.ID, Source: source}
}

func buildCommand(op domain.Operation) ports.Command {
	cmd := ports.Command{
		Type:        op.Type,
		TargetKey:   op.ProcessInstanceKey,
		OperationID: op.ID,
	}

	switch op.Type {
	case domain.OperationTypeResolveIncident:
		cmd.Payload = map[string]interface{}{"incidentKey": op.IncidentKey}
	case domain.OperationTypeUpdateVariable, domain.OperationTypeAddVariable:
		cmd.Payload = map[string]interface{}{
			"scopeKey": op.ScopeKey,
			"name":     op.VariableName,
			"value":    op.VariableValue,
		}
	case domain.OperationTypeMigrateProcessInstance:
		cmd.Payload = map[string]interface{}{"migrationPlan": op.MigrationPlan}
	case domain.OperationTypeModifyProcessInstance:
		cmd.Payload = map[string]interface{}{"instructions": op.ModifyInstructions}
	case domain.OperationTypeDeleteProcessDefinition, domain.OperationTypeDeleteDecisionDefinition:
		cmd.TargetKey = op.DefinitionKey
	}

	return cmd
}

// ScheduleBatchOperation is the write-path entry: it creates the batch, its
// child operations, and tags the affected process instances. A request above
// the batch maximum is rejected before anything is created.
func (e *Executor) ScheduleBatchOperation(ctx context.Context, name string, opType domain.OperationType, targetKeys []int64) (*domain.BatchOperation, error) {
	if len(targetKeys) == 0 {
		return nil, domain.NewValidationError("batch operation requires at least one target", nil)
	}
	if len(targetKeys) > e.cfg.BatchOperationMaxSize {
		return nil, domain.NewValidationError("batch operation exceeds maximum size", map[string]interface{}{
			"selected": len(targetKeys),
			"maximum":  e.cfg.BatchOperationMaxSize,
		})
	}

	now := e.now()
	batch := &domain.BatchOperation{
		ID:              uuid.NewString(),
		Name:            name,
		Type:            opType,
		StartDate:       &now,
		InstancesCount:  len(targetKeys),
		OperationsTotal: len(targetKeys),
	}

	batchSource, err := json.Marshal(batch)
	if err != nil {
		return nil, domain.NewInternalError("marshal batch operation", err)
	}

	opDocs := make([]ports.Document, 0, len(targetKeys))
	instanceDocs := make([]ports.Document, 0, len(targetKeys))
	definitionScoped := opType == domain.OperationTypeDeleteProcessDefinition ||
		opType == domain.OperationTypeDeleteDecisionDefinition

	for _, key := range targetKeys {
		op := domain.Operation{
			ID:               uuid.NewString(),
			BatchOperationID: batch.ID,
			Type:             opType,
			State:            domain.OperationStateScheduled,
			CreationDate:     &now,
		}
		if definitionScoped {
			op.DefinitionKey = key
		} else {
			op.ProcessInstanceKey = key
		}

		source, err := json.Marshal(op)
		if err != nil {
			return nil, domain.NewInternalError("marshal operation", err)
		}
		opDocs = append(opDocs, ports.Document{ID: op.ID, Source: source})

		if !definitionScoped {
			tag, err := json.Marshal(map[string]interface{}{
				"key":               key,
				"batchOperationIds": []string{batch.ID},
			})
			if err != nil {
				return nil, domain.NewInternalError("marshal instance tag", err)
			}
			instanceDocs = append(instanceDocs, ports.Document{ID: domain.EntityDocID(key), Source: tag})
		}
	}

	if _, err := e.store.BulkUpsert(ctx, domain.IndexBatchOperations, []ports.Document{{ID: batch.ID, Source: batchSource}}); err != nil {
		return nil, err
	}
	if _, err := e.store.BulkUpsert(ctx, domain.IndexOperations, opDocs); err != nil {
		return nil, err
	}
	if len(instanceDocs) > 0 {
		if _, err := e.store.BulkUpsert(ctx, domain.IndexProcessInstances, instanceDocs); err != nil {
			return nil, err
		}
	}

	e.metrics.batchesScheduled.Inc()
	e.logger.Info("batch operation scheduled",
		"batch_operation_id", batch.ID,
		"type", opType,
		"operations", len(targetKeys),
	)

	return batch, nil
}

// RecomputeBatchProgress derives a batch operation's finished count from its
// terminal children and stamps the end date exactly when the last child
// finishes. Derived, never incremented, so retries and races cannot drift it.
func (e *Executor) RecomputeBatchProgress(ctx context.Context, batchOperationID string) error {
	children, err := e.store.Search(ctx, domain.IndexOperations, ports.Query{
		Terms: map[string]interface{}{"batchOperationId": batchOperationID},
	}, ports.SearchOptions{Size: e.cfg.BatchOperationMaxSize})
	if err != nil {
		return err
	}

	finished := 0
	for _, doc := range children.Docs {
		var op domain.Operation
		if err := json.Unmarshal(doc.Source, &op); err != nil {
			continue
		}
		if op.State.IsTerminal() {
			finished++
		}
	}

	batchResult, err := e.store.Search(ctx, domain.IndexBatchOperations, ports.Query{
		Terms: map[string]interface{}{"id": batchOperationID},
	}, ports.SearchOptions{Size: 1})
	if err != nil {
		return err
	}
	if len(batchResult.Docs) == 0 {
		return domain.NewNotFoundError("batch operation", batchOperationID)
	}

	var batch domain.BatchOperation
	if err := json.Unmarshal(batchResult.Docs[0].Source, &batch); err != nil {
		return domain.NewInternalError("decode batch operation", err)
	}

	update := map[string]interface{}{
		"id":                      batchOperationID,
		"operationsFinishedCount": finished,
	}
	if finished == batch.OperationsTotal && batch.EndDate == nil {
		update["endDate"] = e.now()
	}

	source, err := json.Marshal(update)
	if err != nil {
		return domain.NewInternalError("marshal batch progress", err)
	}

	result, err := e.store.BulkUpsert(ctx, domain.IndexBatchOperations, []ports.Document{{
		ID:     batchOperationID,
		Source: source,
	}})
	if err != nil {
		return err
	}
	if len(result.Failures) > 0 {
		return domain.NewStorageError("persist batch progress", domain.NewRejectionError(result.Failures[0].Reason))
	}

	return nil
}
