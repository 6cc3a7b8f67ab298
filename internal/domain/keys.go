package domain

import (
	"strconv"
)

// Live index base names. Historical buckets derive from these through
// DestinationIndexName.
const (
	IndexProcessInstances  = "process-instances"
	IndexFlowNodeInstances = "flow-node-instances"
	IndexVariables         = "variables"
	IndexIncidents         = "incidents"
	IndexDecisionInstances = "decision-instances"
	IndexSequenceFlows     = "sequence-flows"
	IndexJobs              = "jobs"
	IndexOperations        = "operations"
	IndexBatchOperations   = "batch-operations"
	IndexImportPositions   = "import-positions"
)

const destinationSeparator = "_"

// DestinationIndexName derives the historical index for a date bucket. An
// empty suffix names the live pool itself.
func DestinationIndexName(base, suffix string) string {
	if suffix == "" {
		return base
	}
	return base + destinationSeparator + suffix
}

// ImportPositionID is the document id of a partition's checkpoint.
func ImportPositionID(partitionID int32) string {
	return "partition-" + strconv.FormatInt(int64(partitionID), 10)
}

// EntityDocID renders an entity key as a document id.
func EntityDocID(key int64) string {
	return strconv.FormatInt(key, 10)
}
