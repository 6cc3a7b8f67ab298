package domain

import (
	"time"

	json "github.com/goccy/go-json"
)

// ValueType tags an exported record with the entity family it describes.
type ValueType string

const (
	ValueTypeProcessInstance  ValueType = "PROCESS_INSTANCE"
	ValueTypeFlowNodeInstance ValueType = "FLOW_NODE_INSTANCE"
	ValueTypeVariable         ValueType = "VARIABLE"
	ValueTypeIncident         ValueType = "INCIDENT"
	ValueTypeDecision         ValueType = "DECISION_EVALUATION"
	ValueTypeSequenceFlow     ValueType = "SEQUENCE_FLOW"
	ValueTypeJob              ValueType = "JOB"
)

// Intent names the lifecycle change a record describes.
type Intent string

const (
	IntentCreated   Intent = "CREATED"
	IntentUpdated   Intent = "UPDATED"
	IntentCompleted Intent = "COMPLETED"
	IntentCanceled  Intent = "CANCELED"
	IntentResolved  Intent = "RESOLVED"
	IntentEvaluated Intent = "EVALUATED"
	IntentTaken     Intent = "TAKEN"
	IntentMigrated  Intent = "MIGRATED"
	IntentModified  Intent = "MODIFIED"
	IntentDeleted   Intent = "DELETED"
)

// Record is one entry of a partition's append-only export stream. Positions
// are strictly increasing within a partition; nothing is guaranteed across
// partitions.
//
// OperationID links a record to the user operation whose dispatched command
// produced it. Rejected records carry the engine's rejection reason and move
// the linked operation to FAILED instead of COMPLETED.
type Record struct {
	PartitionID     int32           `json:"partitionId"`
	Position        int64           `json:"position"`
	Key             int64           `json:"key"`
	ValueType       ValueType       `json:"valueType"`
	Intent          Intent          `json:"intent"`
	Timestamp       time.Time       `json:"timestamp"`
	OperationID     string          `json:"operationId,omitempty"`
	Rejected        bool            `json:"rejected,omitempty"`
	RejectionReason string          `json:"rejectionReason,omitempty"`
	Value           json.RawMessage `json:"value"`
}
