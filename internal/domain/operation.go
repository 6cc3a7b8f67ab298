package domain

import (
	"time"
)

type OperationType string

const (
	OperationTypeCancelProcessInstance    OperationType = "CANCEL_PROCESS_INSTANCE"
	OperationTypeResolveIncident          OperationType = "RESOLVE_INCIDENT"
	OperationTypeUpdateVariable           OperationType = "UPDATE_VARIABLE"
	OperationTypeAddVariable              OperationType = "ADD_VARIABLE"
	OperationTypeMigrateProcessInstance   OperationType = "MIGRATE_PROCESS_INSTANCE"
	OperationTypeModifyProcessInstance    OperationType = "MODIFY_PROCESS_INSTANCE"
	OperationTypeDeleteProcessInstance    OperationType = "DELETE_PROCESS_INSTANCE"
	OperationTypeDeleteProcessDefinition  OperationType = "DELETE_PROCESS_DEFINITION"
	OperationTypeDeleteDecisionDefinition OperationType = "DELETE_DECISION_DEFINITION"
)

type OperationState string

const (
	OperationStateScheduled OperationState = "SCHEDULED"
	OperationStateLocked    OperationState = "LOCKED"
	OperationStateSent      OperationState = "SENT"
	OperationStateCompleted OperationState = "COMPLETED"
	OperationStateFailed    OperationState = "FAILED"
)

// IsTerminal reports whether the state may never change again.
func (s OperationState) IsTerminal() bool {
	return s == OperationStateCompleted || s == OperationStateFailed
}

// CanTransitionTo enforces the operation state machine:
//
//	SCHEDULED -> LOCKED -> SENT -> {COMPLETED | FAILED}
//
// with LOCKED -> SCHEDULED allowed for transient dispatch failures and
// LOCKED -> FAILED for synchronous rejections. LOCKED -> COMPLETED is legal
// because the engine's exported outcome can be imported before the dispatcher
// persisted its SENT acknowledgment. Terminal states are frozen.
func (s OperationState) CanTransitionTo(next OperationState) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case OperationStateScheduled:
		return next == OperationStateLocked
	case OperationStateLocked:
		return next == OperationStateScheduled || next == OperationStateSent ||
			next == OperationStateCompleted || next == OperationStateFailed
	case OperationStateSent:
		return next == OperationStateCompleted || next == OperationStateFailed
	}
	return false
}

// OperationTransitionGuard approves a partial operation update only when the
// stored state may move to the update's state. Same-state writes pass, which
// keeps lease reclaims and re-applied import batches idempotent. Writes that
// do not touch the state field pass unconditionally.
func OperationTransitionGuard(current, update map[string]interface{}) bool {
	next, ok := update["state"].(string)
	if !ok {
		return true
	}
	if current == nil {
		return true
	}
	cur, ok := current["state"].(string)
	if !ok {
		return true
	}
	if cur == next {
		return true
	}
	return OperationState(cur).CanTransitionTo(OperationState(next))
}

// Operation is one user command against the engine. The executor walks it to
// SENT or FAILED synchronously; the importer finalizes it to COMPLETED or
// FAILED when the engine's exported outcome arrives.
type Operation struct {
	ID                 string         `json:"id"`
	BatchOperationID   string         `json:"batchOperationId,omitempty"`
	ProcessInstanceKey int64          `json:"processInstanceKey,omitempty"`
	IncidentKey        int64          `json:"incidentKey,omitempty"`
	ScopeKey           int64          `json:"scopeKey,omitempty"`
	DefinitionKey      int64          `json:"definitionKey,omitempty"`
	VariableName       string         `json:"variableName,omitempty"`
	VariableValue      string         `json:"variableValue,omitempty"`
	Type               OperationType  `json:"type,omitempty"`
	State              OperationState `json:"state,omitempty"`
	ErrorMessage       string         `json:"errorMessage,omitempty"`
	LockOwner          string         `json:"lockOwner,omitempty"`
	LockExpirationTime *time.Time     `json:"lockExpirationTime,omitempty"`
	MigrationPlan      *MigrationPlan `json:"migrationPlan,omitempty"`
	ModifyInstructions string         `json:"modifyInstructions,omitempty"`
	CreationDate       *time.Time     `json:"creationDate,omitempty"`
	CompletedDate      *time.Time     `json:"completedDate,omitempty"`
}

type MigrationPlan struct {
	TargetProcessDefinitionKey int64                `json:"targetProcessDefinitionKey"`
	MappingInstructions        []MappingInstruction `json:"mappingInstructions,omitempty"`
}

type MappingInstruction struct {
	SourceElementID string `json:"sourceElementId"`
	TargetElementID string `json:"targetElementId"`
}

// BatchOperation groups the operations created from one user request.
// FinishedCount and EndDate are derived from the terminal children, never
// mutated independently.
type BatchOperation struct {
	ID                 string        `json:"id"`
	Name               string        `json:"name,omitempty"`
	Type               OperationType `json:"type,omitempty"`
	StartDate          *time.Time    `json:"startDate,omitempty"`
	EndDate            *time.Time    `json:"endDate,omitempty"`
	InstancesCount     int           `json:"instancesCount"`
	OperationsTotal    int           `json:"operationsTotalCount"`
	OperationsFinished int           `json:"operationsFinishedCount"`
}
