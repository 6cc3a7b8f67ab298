package importer

import (
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/flowlens/flowlens/internal/domain"
)

// docOp is one pending partial upsert produced from a record.
type docOp struct {
	index string
	id    string
	doc   map[string]interface{}
}

type recordHandler func(record domain.Record) ([]docOp, error)

// handlerTable maps each value type to its handler. Built once at
// construction; an unknown value type is skipped with a warning rather than
// failing the batch, so a newer engine version cannot wedge the importer.
func (i *Importer) handlerTable() map[domain.ValueType]recordHandler {
	return map[domain.ValueType]recordHandler{
		domain.ValueTypeProcessInstance:  i.handleProcessInstance,
		domain.ValueTypeFlowNodeInstance: i.handleFlowNodeInstance,
		domain.ValueTypeVariable:         i.handleVariable,
		domain.ValueTypeIncident:         i.handleIncident,
		domain.ValueTypeDecision:         i.handleDecision,
		domain.ValueTypeSequenceFlow:     i.handleSequenceFlow,
		domain.ValueTypeJob:              i.handleJob,
	}
}

func decodeValue(record domain.Record) (map[string]interface{}, error) {
	fields := make(map[string]interface{})
	if len(record.Value) > 0 {
		if err := json.Unmarshal(record.Value, &fields); err != nil {
			return nil, domain.NewInternalError("decode record value", err)
		}
	}
	fields["key"] = record.Key
	fields["partitionId"] = record.PartitionID
	return fields, nil
}

func (i *Importer) handleProcessInstance(record domain.Record) ([]docOp, error) {
	fields, err := decodeValue(record)
	if err != nil {
		return nil, err
	}

	switch record.Intent {
	case domain.IntentCreated:
		fields["state"] = string(domain.ProcessInstanceStateActive)
		fields["startDate"] = record.Timestamp
	case domain.IntentCompleted:
		fields["state"] = string(domain.ProcessInstanceStateCompleted)
		fields["endDate"] = record.Timestamp
	case domain.IntentCanceled:
		fields["state"] = string(domain.ProcessInstanceStateCanceled)
		fields["endDate"] = record.Timestamp
	}

	return []docOp{{
		index: domain.IndexProcessInstances,
		id:    domain.EntityDocID(record.Key),
		doc:   fields,
	}}, nil
}

func (i *Importer) handleFlowNodeInstance(record domain.Record) ([]docOp, error) {
	fields, err := decodeValue(record)
	if err != nil {
		return nil, err
	}

	switch record.Intent {
	case domain.IntentCreated:
		fields["state"] = string(domain.FlowNodeStateActive)
		fields["startDate"] = record.Timestamp
	case domain.IntentCompleted:
		fields["state"] = string(domain.FlowNodeStateCompleted)
		fields["endDate"] = record.Timestamp
	case domain.IntentCanceled:
		fields["state"] = string(domain.FlowNodeStateTerminated)
		fields["endDate"] = record.Timestamp
	}

	return []docOp{{
		index: domain.IndexFlowNodeInstances,
		id:    domain.EntityDocID(record.Key),
		doc:   fields,
	}}, nil
}

// handleVariable keeps oversized values importable: anything above the
// configured threshold is stored as a truncated preview plus the full
// payload in a separate field, instead of one oversized inline value.
func (i *Importer) handleVariable(record domain.Record) ([]docOp, error) {
	fields, err := decodeValue(record)
	if err != nil {
		return nil, err
	}

	fields["updatedDate"] = record.Timestamp

	threshold := i.cfg.VariableSizeThreshold
	if value, ok := fields["value"].(string); ok && threshold > 0 && len(value) > threshold {
		fields["value"] = value[:threshold]
		fields["fullValue"] = value
		fields["isPreview"] = true
	}

	return []docOp{{
		index: domain.IndexVariables,
		id:    domain.EntityDocID(record.Key),
		doc:   fields,
	}}, nil
}

// handleIncident also reflects incident presence on the parent process
// instance: an open incident flips the instance to INCIDENT, resolving the
// incident returns it to ACTIVE.
func (i *Importer) handleIncident(record domain.Record) ([]docOp, error) {
	fields, err := decodeValue(record)
	if err != nil {
		return nil, err
	}

	ops := []docOp{{
		index: domain.IndexIncidents,
		id:    domain.EntityDocID(record.Key),
		doc:   fields,
	}}

	parentState := ""
	switch record.Intent {
	case domain.IntentCreated:
		fields["state"] = string(domain.IncidentStateActive)
		fields["creationTime"] = record.Timestamp
		parentState = string(domain.ProcessInstanceStateIncident)
	case domain.IntentResolved:
		fields["state"] = string(domain.IncidentStateResolved)
		parentState = string(domain.ProcessInstanceStateActive)
	}

	if key, ok := processInstanceKey(fields); ok && parentState != "" {
		ops = append(ops, docOp{
			index: domain.IndexProcessInstances,
			id:    domain.EntityDocID(key),
			doc:   map[string]interface{}{"key": key, "state": parentState},
		})
	}

	return ops, nil
}

func (i *Importer) handleDecision(record domain.Record) ([]docOp, error) {
	fields, err := decodeValue(record)
	if err != nil {
		return nil, err
	}

	fields["evaluationDate"] = record.Timestamp

	return []docOp{{
		index: domain.IndexDecisionInstances,
		id:    domain.EntityDocID(record.Key),
		doc:   fields,
	}}, nil
}

func (i *Importer) handleSequenceFlow(record domain.Record) ([]docOp, error) {
	fields, err := decodeValue(record)
	if err != nil {
		return nil, err
	}

	id := domain.EntityDocID(record.Key)
	if activityID, ok := fields["activityId"].(string); ok {
		if key, keyOK := processInstanceKey(fields); keyOK {
			id = strconv.FormatInt(key, 10) + "-" + activityID
		}
	}
	fields["id"] = id

	return []docOp{{
		index: domain.IndexSequenceFlows,
		id:    id,
		doc:   fields,
	}}, nil
}

func (i *Importer) handleJob(record domain.Record) ([]docOp, error) {
	fields, err := decodeValue(record)
	if err != nil {
		return nil, err
	}

	return []docOp{{
		index: domain.IndexJobs,
		id:    domain.EntityDocID(record.Key),
		doc:   fields,
	}}, nil
}

// operationOutcome turns a record that references a dispatched command into
// the terminal update for its operation. The engine's effect and the
// operation's completion ride the same record: this is the join point of the
// import stream and the operation state machine.
func operationOutcome(record domain.Record) docOp {
	doc := map[string]interface{}{
		"id":            record.OperationID,
		"completedDate": record.Timestamp,
	}

	if record.Rejected {
		doc["state"] = string(domain.OperationStateFailed)
		doc["errorMessage"] = record.RejectionReason
	} else {
		doc["state"] = string(domain.OperationStateCompleted)
	}

	return docOp{
		index: domain.IndexOperations,
		id:    record.OperationID,
		doc:   doc,
	}
}

func processInstanceKey(fields map[string]interface{}) (int64, bool) {
	switch v := fields["processInstanceKey"].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		key, err := v.Int64()
		return key, err == nil
	default:
		return 0, false
	}
}
