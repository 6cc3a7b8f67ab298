package domain

import (
	"dario.cat/mergo"
	json "github.com/goccy/go-json"
)

// MergeDocuments applies a partial document on top of the current one.
// Fields present in update win, fields absent are preserved, and list fields
// are appended rather than replaced (batchOperationIds accumulates across
// scheduled operations). An explicit null in update removes the field; the
// executor clears lock fields this way when it reschedules an operation.
// This is the importer's partial-update primitive: a completion record
// carrying only endDate and state must not erase the rest of the entity.
func MergeDocuments(current, update json.RawMessage) (json.RawMessage, error) {
	if len(current) == 0 {
		return update, nil
	}

	if len(update) == 0 {
		return current, nil
	}

	var currentMap, updateMap map[string]interface{}

	if err := json.Unmarshal(current, &currentMap); err != nil {
		return nil, NewInternalError("unmarshal current document", err)
	}

	if err := json.Unmarshal(update, &updateMap); err != nil {
		return nil, NewInternalError("unmarshal update document", err)
	}

	if err := mergo.Merge(&currentMap, updateMap,
		mergo.WithOverride,
		mergo.WithAppendSlice); err != nil {
		return nil, NewInternalError("merge documents", err)
	}

	// mergo skips nil source values, so nulls are handled here.
	for key, value := range updateMap {
		if value == nil {
			delete(currentMap, key)
		}
	}

	merged, err := json.Marshal(currentMap)
	if err != nil {
		return nil, NewInternalError("marshal merged document", err)
	}
	return merged, nil
}
