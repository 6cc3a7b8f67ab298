package domain

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mergeToMap(t *testing.T, current, update string) map[string]interface{} {
	t.Helper()

	merged, err := MergeDocuments(json.RawMessage(current), json.RawMessage(update))
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(merged, &fields))
	return fields
}

func TestMergeDocuments_PreservesAbsentFields(t *testing.T) {
	fields := mergeToMap(t,
		`{"key":1,"bpmnProcessId":"order","state":"ACTIVE","startDate":"2026-01-01T10:00:00Z"}`,
		`{"state":"COMPLETED","endDate":"2026-01-01T11:00:00Z"}`,
	)

	assert.Equal(t, "COMPLETED", fields["state"])
	assert.Equal(t, "2026-01-01T11:00:00Z", fields["endDate"])
	assert.Equal(t, "order", fields["bpmnProcessId"])
	assert.Equal(t, "2026-01-01T10:00:00Z", fields["startDate"])
}

func TestMergeDocuments_UpdateWins(t *testing.T) {
	fields := mergeToMap(t,
		`{"key":1,"state":"ACTIVE"}`,
		`{"state":"INCIDENT"}`,
	)

	assert.Equal(t, "INCIDENT", fields["state"])
}

func TestMergeDocuments_AppendsSlices(t *testing.T) {
	fields := mergeToMap(t,
		`{"key":1,"batchOperationIds":["batch-a"]}`,
		`{"batchOperationIds":["batch-b"]}`,
	)

	assert.Equal(t, []interface{}{"batch-a", "batch-b"}, fields["batchOperationIds"])
}

func TestMergeDocuments_NullRemovesField(t *testing.T) {
	fields := mergeToMap(t,
		`{"id":"op-1","state":"LOCKED","lockOwner":"node-1","lockExpirationTime":"2026-01-01T10:01:00Z"}`,
		`{"state":"SCHEDULED","lockOwner":null,"lockExpirationTime":null}`,
	)

	assert.Equal(t, "SCHEDULED", fields["state"])
	assert.NotContains(t, fields, "lockOwner")
	assert.NotContains(t, fields, "lockExpirationTime")
}

func TestMergeDocuments_EmptySides(t *testing.T) {
	update := json.RawMessage(`{"key":1}`)

	merged, err := MergeDocuments(nil, update)
	require.NoError(t, err)
	assert.Equal(t, update, merged)

	merged, err = MergeDocuments(update, nil)
	require.NoError(t, err)
	assert.Equal(t, update, merged)
}

func TestMergeDocuments_InvalidJSON(t *testing.T) {
	_, err := MergeDocuments(json.RawMessage(`{"key":1}`), json.RawMessage(`{not json`))
	require.Error(t, err)

	var domainErr Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, ErrorTypeInternal, domainErr.Type)
}

func TestMergeDocuments_Idempotent(t *testing.T) {
	current := json.RawMessage(`{"key":1,"state":"ACTIVE","startDate":"2026-01-01T10:00:00Z"}`)
	update := json.RawMessage(`{"state":"COMPLETED","endDate":"2026-01-01T11:00:00Z"}`)

	once, err := MergeDocuments(current, update)
	require.NoError(t, err)
	twice, err := MergeDocuments(once, update)
	require.NoError(t, err)

	var first, second map[string]interface{}
	require.NoError(t, json.Unmarshal(once, &first))
	require.NoError(t, json.Unmarshal(twice, &second))
	assert.Equal(t, first, second)
}
