package badgerstore

import (
	"context"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlens/flowlens/internal/domain"
	"github.com/flowlens/flowlens/internal/ports"
)

func newTestStore(t *testing.T, maxDocBytes int) *Store {
	t.Helper()

	store, err := New(Config{InMemory: true, MaxDocBytes: maxDocBytes}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func upsertOne(t *testing.T, store *Store, index, id string, fields map[string]interface{}) {
	t.Helper()

	source, err := json.Marshal(fields)
	require.NoError(t, err)
	result, err := store.BulkUpsert(context.Background(), index, []ports.Document{{ID: id, Source: source}})
	require.NoError(t, err)
	require.Empty(t, result.Failures)
}

func TestBulkUpsert_MergesPartialUpdates(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()

	upsertOne(t, store, "orders", "1", map[string]interface{}{
		"key":   int64(1),
		"state": "ACTIVE",
		"name":  "order-process",
	})
	upsertOne(t, store, "orders", "1", map[string]interface{}{
		"key":   int64(1),
		"state": "COMPLETED",
	})

	result, err := store.Search(ctx, "orders", ports.Query{}, ports.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, result.Docs, 1)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(result.Docs[0].Source, &fields))
	assert.Equal(t, "COMPLETED", fields["state"])
	// Fields absent from the update survive the merge.
	assert.Equal(t, "order-process", fields["name"])
}

func TestBulkUpsert_FailuresDoNotPoisonTheBatch(t *testing.T) {
	store := newTestStore(t, 64)

	big, err := json.Marshal(map[string]interface{}{"value": strings.Repeat("x", 128)})
	require.NoError(t, err)
	small, err := json.Marshal(map[string]interface{}{"key": int64(2)})
	require.NoError(t, err)

	result, err := store.BulkUpsert(context.Background(), "orders", []ports.Document{
		{ID: "big", Source: big},
		{ID: "", Source: small},
		{ID: "ok", Source: small},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Succeeded)
	require.Len(t, result.Failures, 2)
	assert.True(t, result.Failures[0].TooLarge)
	assert.False(t, result.Failures[1].TooLarge)
}

func TestBulkUpdateGuarded_RejectsStaleTransitions(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()

	upsertOne(t, store, "operations", "op-1", map[string]interface{}{"id": "op-1", "state": "COMPLETED"})
	upsertOne(t, store, "operations", "op-2", map[string]interface{}{"id": "op-2", "state": "SCHEDULED"})

	lock, err := json.Marshal(map[string]interface{}{"state": "LOCKED", "lockOwner": "node-1"})
	require.NoError(t, err)

	result, err := store.BulkUpdateGuarded(ctx, "operations", []ports.Document{
		{ID: "op-1", Source: lock},
		{ID: "op-2", Source: lock},
	}, domain.OperationTransitionGuard)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Succeeded)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "op-1", result.Failures[0].ID)
	assert.True(t, result.Failures[0].Conflict)

	// The rejected document is untouched, the approved one carries the lock.
	all, err := store.Search(ctx, "operations", ports.Query{}, ports.SearchOptions{SortField: "id", SortAsc: true})
	require.NoError(t, err)
	require.Len(t, all.Docs, 2)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(all.Docs[0].Source, &fields))
	assert.Equal(t, "COMPLETED", fields["state"])
	assert.Nil(t, fields["lockOwner"])

	require.NoError(t, json.Unmarshal(all.Docs[1].Source, &fields))
	assert.Equal(t, "LOCKED", fields["state"])
}

func TestSearch_FilterSortAndPage(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()

	for i, state := range []string{"ACTIVE", "COMPLETED", "COMPLETED", "CANCELED"} {
		upsertOne(t, store, "orders", string(rune('a'+i)), map[string]interface{}{
			"key":   int64(i),
			"state": state,
		})
	}

	result, err := store.Search(ctx, "orders", ports.Query{
		AnyOf: map[string][]interface{}{"state": {"COMPLETED", "CANCELED"}},
	}, ports.SearchOptions{SortField: "key", SortAsc: true})
	require.NoError(t, err)
	require.Len(t, result.Docs, 3)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, []string{"b", "c", "d"}, []string{result.Docs[0].ID, result.Docs[1].ID, result.Docs[2].ID})

	// Size caps the page but Total reports the full match count.
	paged, err := store.Search(ctx, "orders", ports.Query{
		AnyOf: map[string][]interface{}{"state": {"COMPLETED", "CANCELED"}},
	}, ports.SearchOptions{SortField: "key", SortAsc: true, Size: 2})
	require.NoError(t, err)
	assert.Len(t, paged.Docs, 2)
	assert.Equal(t, 3, paged.Total)

	// searchAfter resumes behind the last seen sort value.
	rest, err := store.Search(ctx, "orders", ports.Query{
		AnyOf: map[string][]interface{}{"state": {"COMPLETED", "CANCELED"}},
	}, ports.SearchOptions{SortField: "key", SortAsc: true, SearchAfter: int64(2)})
	require.NoError(t, err)
	require.Len(t, rest.Docs, 1)
	assert.Equal(t, "d", rest.Docs[0].ID)
}

func TestSearch_IndexesAreIsolated(t *testing.T) {
	store := newTestStore(t, 0)

	upsertOne(t, store, "orders", "1", map[string]interface{}{"key": int64(1)})
	upsertOne(t, store, "orders_2026-01-10", "1", map[string]interface{}{"key": int64(1)})

	result, err := store.Search(context.Background(), "orders", ports.Query{}, ports.SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, result.Docs, 1)
}

func TestReindex_CopiesAndStaysIdempotent(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()

	upsertOne(t, store, "live", "1", map[string]interface{}{"processInstanceKey": int64(100), "name": "a"})
	upsertOne(t, store, "live", "2", map[string]interface{}{"processInstanceKey": int64(100), "name": "b"})
	upsertOne(t, store, "live", "3", map[string]interface{}{"processInstanceKey": int64(200), "name": "c"})

	moved, err := store.Reindex(ctx, "live", "hist", "processInstanceKey", []interface{}{int64(100)})
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	// Source is untouched; deletion is a separate step.
	live, err := store.Search(ctx, "live", ports.Query{}, ports.SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, live.Docs, 3)

	// A retried reindex overwrites by id instead of duplicating.
	moved, err = store.Reindex(ctx, "live", "hist", "processInstanceKey", []interface{}{int64(100)})
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	hist, err := store.Search(ctx, "hist", ports.Query{}, ports.SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, hist.Docs, 2)
}

func TestDeleteByKeys(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()

	upsertOne(t, store, "live", "1", map[string]interface{}{"processInstanceKey": int64(100)})
	upsertOne(t, store, "live", "2", map[string]interface{}{"processInstanceKey": int64(100)})
	upsertOne(t, store, "live", "3", map[string]interface{}{"processInstanceKey": int64(200)})

	deleted, err := store.DeleteByKeys(ctx, "live", "processInstanceKey", []interface{}{int64(100)})
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	remaining, err := store.Search(ctx, "live", ports.Query{}, ports.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, remaining.Docs, 1)
	assert.Equal(t, "3", remaining.Docs[0].ID)
}

func TestStore_ClosedReportsErrClosed(t *testing.T) {
	store, err := New(Config{InMemory: true}, nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = store.Search(context.Background(), "orders", ports.Query{}, ports.SearchOptions{})
	assert.ErrorIs(t, err, domain.ErrClosed)
}
