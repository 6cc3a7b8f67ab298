package domain

import (
	"time"
)

type ProcessInstanceState string

const (
	ProcessInstanceStateActive    ProcessInstanceState = "ACTIVE"
	ProcessInstanceStateIncident  ProcessInstanceState = "INCIDENT"
	ProcessInstanceStateCompleted ProcessInstanceState = "COMPLETED"
	ProcessInstanceStateCanceled  ProcessInstanceState = "CANCELED"
)

// IsTerminal reports whether the instance has finished and carries an end date.
func (s ProcessInstanceState) IsTerminal() bool {
	return s == ProcessInstanceStateCompleted || s == ProcessInstanceStateCanceled
}

// ProcessInstance is the root entity of the live index. Dependent entities
// reference it through ProcessInstanceKey; the archiver keeps that
// relationship consistent by always moving dependents with their parent.
type ProcessInstance struct {
	Key                  int64                `json:"key"`
	ProcessDefinitionKey int64                `json:"processDefinitionKey,omitempty"`
	BpmnProcessID        string               `json:"bpmnProcessId,omitempty"`
	Version              int32                `json:"processVersion,omitempty"`
	State                ProcessInstanceState `json:"state,omitempty"`
	StartDate            *time.Time           `json:"startDate,omitempty"`
	EndDate              *time.Time           `json:"endDate,omitempty"`
	PartitionID          int32                `json:"partitionId,omitempty"`
	TreePath             string               `json:"treePath,omitempty"`
	ParentKey            int64                `json:"parentProcessInstanceKey,omitempty"`
	BatchOperationIDs    []string             `json:"batchOperationIds,omitempty"`
}

type FlowNodeState string

const (
	FlowNodeStateActive     FlowNodeState = "ACTIVE"
	FlowNodeStateCompleted  FlowNodeState = "COMPLETED"
	FlowNodeStateTerminated FlowNodeState = "TERMINATED"
)

type FlowNodeInstance struct {
	Key                int64         `json:"key"`
	ProcessInstanceKey int64         `json:"processInstanceKey,omitempty"`
	FlowNodeID         string        `json:"flowNodeId,omitempty"`
	Type               string        `json:"type,omitempty"`
	State              FlowNodeState `json:"state,omitempty"`
	StartDate          *time.Time    `json:"startDate,omitempty"`
	EndDate            *time.Time    `json:"endDate,omitempty"`
	PartitionID        int32         `json:"partitionId,omitempty"`
	TreePath           string        `json:"treePath,omitempty"`
}

// Variable carries a preview of the value inline. Values above the configured
// size threshold keep a truncated Value with the untruncated payload in
// FullValue, so oversized payloads never fail the enclosing bulk request.
type Variable struct {
	Key                int64      `json:"key"`
	ProcessInstanceKey int64      `json:"processInstanceKey,omitempty"`
	ScopeKey           int64      `json:"scopeKey,omitempty"`
	Name               string     `json:"name,omitempty"`
	Value              string     `json:"value,omitempty"`
	FullValue          string     `json:"fullValue,omitempty"`
	IsPreview          bool       `json:"isPreview,omitempty"`
	PartitionID        int32      `json:"partitionId,omitempty"`
	UpdatedDate        *time.Time `json:"updatedDate,omitempty"`
}

type IncidentState string

const (
	IncidentStateActive   IncidentState = "ACTIVE"
	IncidentStateResolved IncidentState = "RESOLVED"
)

type Incident struct {
	Key                 int64         `json:"key"`
	ProcessInstanceKey  int64         `json:"processInstanceKey,omitempty"`
	FlowNodeInstanceKey int64         `json:"flowNodeInstanceKey,omitempty"`
	ErrorType           string        `json:"errorType,omitempty"`
	ErrorMessage        string        `json:"errorMessage,omitempty"`
	State               IncidentState `json:"state,omitempty"`
	CreationTime        *time.Time    `json:"creationTime,omitempty"`
	PartitionID         int32         `json:"partitionId,omitempty"`
}

type DecisionInstance struct {
	Key                int64      `json:"key"`
	ProcessInstanceKey int64      `json:"processInstanceKey,omitempty"`
	DecisionID         string     `json:"decisionId,omitempty"`
	DecisionName       string     `json:"decisionName,omitempty"`
	EvaluationDate     *time.Time `json:"evaluationDate,omitempty"`
	Result             string     `json:"result,omitempty"`
	EvaluationFailure  string     `json:"evaluationFailure,omitempty"`
	PartitionID        int32      `json:"partitionId,omitempty"`
}

type SequenceFlow struct {
	ID                 string `json:"id"`
	ProcessInstanceKey int64  `json:"processInstanceKey,omitempty"`
	ActivityID         string `json:"activityId,omitempty"`
	PartitionID        int32  `json:"partitionId,omitempty"`
}

type Job struct {
	Key                int64      `json:"key"`
	ProcessInstanceKey int64      `json:"processInstanceKey,omitempty"`
	FlowNodeID         string     `json:"flowNodeId,omitempty"`
	Type               string     `json:"type,omitempty"`
	Worker             string     `json:"worker,omitempty"`
	State              string     `json:"state,omitempty"`
	Retries            int32      `json:"retries,omitempty"`
	Deadline           *time.Time `json:"deadline,omitempty"`
	PartitionID        int32      `json:"partitionId,omitempty"`
}

// ImportPosition is the per-partition checkpoint: the highest record position
// that has been applied and acknowledged by the document store. It only ever
// moves forward.
type ImportPosition struct {
	PartitionID int32 `json:"partitionId"`
	Position    int64 `json:"position"`
}
