package archiver

import (
	"context"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlens/flowlens/internal/adapters/memstore"
	"github.com/flowlens/flowlens/internal/domain"
	"github.com/flowlens/flowlens/internal/ports"
)

var testNow = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

func testArchiverConfig() domain.ArchiverConfig {
	return domain.ArchiverConfig{
		PollInterval: time.Second,
		GracePeriod:  time.Hour,
		DateFormat:   "2006-01-02",
		BatchSize:    1000,
		DependentIndices: []string{
			domain.IndexFlowNodeInstances,
			domain.IndexVariables,
			domain.IndexDecisionInstances,
			domain.IndexJobs,
		},
	}
}

func newTestArchiver(t *testing.T, store ports.DocumentStorePort) *Archiver {
	t.Helper()

	arch, err := New(store, testArchiverConfig(), nil, nil)
	require.NoError(t, err)
	arch.now = func() time.Time { return testNow }
	return arch
}

func seedDoc(t *testing.T, store ports.DocumentStorePort, index, id string, doc map[string]interface{}) {
	t.Helper()

	source, err := json.Marshal(doc)
	require.NoError(t, err)
	result, err := store.BulkUpsert(context.Background(), index, []ports.Document{{ID: id, Source: source}})
	require.NoError(t, err)
	require.Empty(t, result.Failures)
}

func seedFinishedInstance(t *testing.T, store ports.DocumentStorePort, key int64, state domain.ProcessInstanceState, endDate time.Time) {
	t.Helper()

	seedDoc(t, store, domain.IndexProcessInstances, domain.EntityDocID(key), map[string]interface{}{
		"key":         key,
		"state":       string(state),
		"partitionId": 1,
		"endDate":     endDate,
	})
}

func countDocs(t *testing.T, store ports.DocumentStorePort, index string) int {
	t.Helper()

	result, err := store.Search(context.Background(), index, ports.Query{}, ports.SearchOptions{})
	require.NoError(t, err)
	return len(result.Docs)
}

func TestArchiveNextBatch_NothingEligibleIsNoop(t *testing.T) {
	store := memstore.New(memstore.Config{}, nil)
	arch := newTestArchiver(t, store)

	// A running instance and a recently finished one: both stay.
	seedDoc(t, store, domain.IndexProcessInstances, "1", map[string]interface{}{
		"key": 1, "state": "ACTIVE", "partitionId": 1,
	})
	seedFinishedInstance(t, store, 2, domain.ProcessInstanceStateCompleted, testNow.Add(-59*time.Minute))

	moved, err := arch.ArchiveNextBatch(context.Background(), []int32{1})
	require.NoError(t, err)
	assert.Equal(t, 0, moved)
	assert.Equal(t, 2, countDocs(t, store, domain.IndexProcessInstances))
}

func TestArchiveNextBatch_MovesInstancesPastGrace(t *testing.T) {
	store := memstore.New(memstore.Config{}, nil)
	arch := newTestArchiver(t, store)

	seedFinishedInstance(t, store, 1, domain.ProcessInstanceStateCompleted, testNow.Add(-61*time.Minute))
	seedFinishedInstance(t, store, 2, domain.ProcessInstanceStateCanceled, testNow.Add(-2*time.Hour))
	// Just inside the grace window: not eligible yet.
	seedFinishedInstance(t, store, 3, domain.ProcessInstanceStateCompleted, testNow.Add(-59*time.Minute))

	moved, err := arch.ArchiveNextBatch(context.Background(), []int32{1})
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	assert.Equal(t, 1, countDocs(t, store, domain.IndexProcessInstances))
	dest := domain.DestinationIndexName(domain.IndexProcessInstances, "2026-01-10")
	assert.Equal(t, 2, countDocs(t, store, dest))

	// The next pass finds nothing: archival drains exactly once.
	moved, err = arch.ArchiveNextBatch(context.Background(), []int32{1})
	require.NoError(t, err)
	assert.Equal(t, 0, moved)
}

func TestArchiveNextBatch_DependentsTravelWithParent(t *testing.T) {
	store := memstore.New(memstore.Config{}, nil)
	arch := newTestArchiver(t, store)
	ctx := context.Background()

	seedFinishedInstance(t, store, 1, domain.ProcessInstanceStateCompleted, testNow.Add(-2*time.Hour))

	seedDoc(t, store, domain.IndexFlowNodeInstances, "10", map[string]interface{}{
		"key": 10, "processInstanceKey": 1, "state": "COMPLETED",
	})
	seedDoc(t, store, domain.IndexVariables, "11", map[string]interface{}{
		"key": 11, "processInstanceKey": 1, "name": "total",
	})
	seedDoc(t, store, domain.IndexDecisionInstances, "12", map[string]interface{}{
		"key": 12, "processInstanceKey": 1, "decisionId": "approve",
	})
	seedDoc(t, store, domain.IndexJobs, "13", map[string]interface{}{
		"key": 13, "processInstanceKey": 1, "type": "send-email",
	})
	// A dependent of another, still running instance stays behind.
	seedDoc(t, store, domain.IndexVariables, "20", map[string]interface{}{
		"key": 20, "processInstanceKey": 2, "name": "other",
	})

	moved, err := arch.ArchiveNextBatch(ctx, []int32{1})
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	suffix := "2026-01-10"
	assert.Equal(t, 1, countDocs(t, store, domain.DestinationIndexName(domain.IndexFlowNodeInstances, suffix)))
	assert.Equal(t, 1, countDocs(t, store, domain.DestinationIndexName(domain.IndexVariables, suffix)))
	assert.Equal(t, 1, countDocs(t, store, domain.DestinationIndexName(domain.IndexDecisionInstances, suffix)))
	assert.Equal(t, 1, countDocs(t, store, domain.DestinationIndexName(domain.IndexJobs, suffix)))

	assert.Equal(t, 0, countDocs(t, store, domain.IndexFlowNodeInstances))
	assert.Equal(t, 1, countDocs(t, store, domain.IndexVariables))
	assert.Equal(t, 0, countDocs(t, store, domain.IndexJobs))
}

func TestArchiveNextBatch_BucketNamedByEarliestEndDate(t *testing.T) {
	store := memstore.New(memstore.Config{}, nil)
	arch := newTestArchiver(t, store)

	seedFinishedInstance(t, store, 1, domain.ProcessInstanceStateCompleted,
		time.Date(2026, 1, 8, 23, 30, 0, 0, time.UTC))
	seedFinishedInstance(t, store, 2, domain.ProcessInstanceStateCompleted,
		time.Date(2026, 1, 9, 8, 0, 0, 0, time.UTC))

	moved, err := arch.ArchiveNextBatch(context.Background(), []int32{1})
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	// Both share the earliest instance's bucket.
	dest := domain.DestinationIndexName(domain.IndexProcessInstances, "2026-01-08")
	assert.Equal(t, 2, countDocs(t, store, dest))
}

func TestArchiveNextBatch_RespectsPartitionOwnership(t *testing.T) {
	store := memstore.New(memstore.Config{}, nil)
	arch := newTestArchiver(t, store)

	seedFinishedInstance(t, store, 1, domain.ProcessInstanceStateCompleted, testNow.Add(-2*time.Hour))
	seedDoc(t, store, domain.IndexProcessInstances, "2", map[string]interface{}{
		"key": 2, "state": "COMPLETED", "partitionId": 2, "endDate": testNow.Add(-2 * time.Hour),
	})

	moved, err := arch.ArchiveNextBatch(context.Background(), []int32{1})
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	// The foreign partition's instance is untouched.
	assert.Equal(t, 1, countDocs(t, store, domain.IndexProcessInstances))
}

func TestArchiveNextBatch_BatchSizePages(t *testing.T) {
	store := memstore.New(memstore.Config{}, nil)

	cfg := testArchiverConfig()
	cfg.BatchSize = 2
	arch, err := New(store, cfg, nil, nil)
	require.NoError(t, err)
	arch.now = func() time.Time { return testNow }

	for i := int64(1); i <= 5; i++ {
		seedFinishedInstance(t, store, i, domain.ProcessInstanceStateCompleted,
			testNow.Add(-2*time.Hour).Add(time.Duration(i)*time.Minute))
	}

	total := 0
	for {
		moved, err := arch.ArchiveNextBatch(context.Background(), []int32{1})
		require.NoError(t, err)
		if moved == 0 {
			break
		}
		assert.LessOrEqual(t, moved, 2)
		total += moved
	}

	assert.Equal(t, 5, total)
	assert.Equal(t, 0, countDocs(t, store, domain.IndexProcessInstances))
}

func TestArchiveNextBatch_UnavailableStoreLeavesLiveIntact(t *testing.T) {
	store := memstore.New(memstore.Config{}, nil)
	arch := newTestArchiver(t, store)

	seedFinishedInstance(t, store, 1, domain.ProcessInstanceStateCompleted, testNow.Add(-2*time.Hour))

	store.SetUnavailable(true)
	_, err := arch.ArchiveNextBatch(context.Background(), []int32{1})
	require.Error(t, err)

	store.SetUnavailable(false)
	assert.Equal(t, 1, countDocs(t, store, domain.IndexProcessInstances))

	// The retry completes the move.
	moved, err := arch.ArchiveNextBatch(context.Background(), []int32{1})
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
}

// Scenario: 100 instances finish before the cutoff, interleaved with running
// and within-grace instances; repeated passes drain exactly the eligible set.
func TestArchiveNextBatch_DrainsEligibleSetExactlyOnce(t *testing.T) {
	store := memstore.New(memstore.Config{}, nil)

	cfg := testArchiverConfig()
	cfg.BatchSize = 30
	arch, err := New(store, cfg, nil, nil)
	require.NoError(t, err)
	arch.now = func() time.Time { return testNow }

	eligible := 0
	for i := int64(1); i <= 150; i++ {
		switch i % 3 {
		case 0:
			seedDoc(t, store, domain.IndexProcessInstances, domain.EntityDocID(i), map[string]interface{}{
				"key": i, "state": "ACTIVE", "partitionId": 1,
			})
		case 1:
			seedFinishedInstance(t, store, i, domain.ProcessInstanceStateCompleted, testNow.Add(-30*time.Minute))
		default:
			seedFinishedInstance(t, store, i, domain.ProcessInstanceStateCompleted,
				testNow.Add(-2*time.Hour).Add(time.Duration(i)*time.Second))
			eligible++
		}
	}

	total := 0
	for rounds := 0; rounds < 20; rounds++ {
		moved, err := arch.ArchiveNextBatch(context.Background(), []int32{1})
		require.NoError(t, err)
		if moved == 0 {
			break
		}
		total += moved
	}

	assert.Equal(t, eligible, total)
	assert.Equal(t, 150-eligible, countDocs(t, store, domain.IndexProcessInstances))
}

func TestInstanceKeysAndEarliestEnd_MissingEndDateFails(t *testing.T) {
	docs := []ports.Document{
		{ID: "1", Source: json.RawMessage(`{"key":1,"state":"COMPLETED"}`)},
	}

	_, _, err := instanceKeysAndEarliestEnd(docs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "finished instance without end date")
}
