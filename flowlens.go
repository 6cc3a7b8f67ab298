// Package flowlens provides a visibility data pipeline for workflow engines.
//
// Flowlens tails a workflow engine's exported record stream and maintains a
// queryable document store of process instances, flow node instances,
// variables, incidents, decision evaluations and jobs. It provides:
//   - Per-partition ordered ingest with idempotent partial-document merges
//   - Checkpointed import positions that survive restarts
//   - Archival of finished instances into date-bucketed historical indices
//   - Batch operations against running instances (cancel, resolve incident,
//     update variables, migrate, modify) with a durable state machine
//
// Basic usage:
//
//	cfg := flowlens.DefaultConfig()
//	cfg.NodeID = "node-1"
//	manager, err := flowlens.New(cfg)
//	if err != nil {
//	    return err
//	}
//	manager.Start(context.Background())
//	defer manager.Stop()
//
//	manager.RecordLog().Append(records...)
package flowlens

import (
	"github.com/flowlens/flowlens/internal/core"
	"github.com/flowlens/flowlens/internal/domain"
)

// Manager owns the pipeline: the importer, the archival jobs and the
// operation executor, all driven by one scheduler.
type Manager = core.Manager

// New builds a Manager from config. A nil config uses defaults.
func New(config *Config) (*Manager, error) {
	return core.New(config)
}

// Record is one exported engine record: the unit of ingest.
type Record = domain.Record

// ValueType discriminates what entity a record describes.
type ValueType = domain.ValueType

// Intent is the lifecycle event a record carries for its entity.
type Intent = domain.Intent

// ProcessInstance is the materialized view of one workflow execution.
type ProcessInstance = domain.ProcessInstance

// Operation is one user command against the engine, tracked through the
// SCHEDULED, LOCKED, SENT and terminal states.
type Operation = domain.Operation

// OperationType names the commands the executor can dispatch.
type OperationType = domain.OperationType

// OperationState is a point in the operation lifecycle.
type OperationState = domain.OperationState

// BatchOperation groups the operations created from one user request and
// carries their derived progress.
type BatchOperation = domain.BatchOperation

// ImportPosition is the per-partition checkpoint the importer persists.
type ImportPosition = domain.ImportPosition

// Error is the structured error type every component returns.
type Error = domain.Error
