package recordlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlens/flowlens/internal/domain"
)

func record(partition int32, position int64) domain.Record {
	return domain.Record{
		PartitionID: partition,
		Position:    position,
		Key:         position,
		ValueType:   domain.ValueTypeProcessInstance,
		Intent:      domain.IntentCreated,
	}
}

func TestReadBatch_PositionOrder(t *testing.T) {
	log := New()
	log.Append(record(1, 3), record(1, 1), record(1, 2))

	batch, err := log.ReadBatch(context.Background(), 1, 0, 10)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	assert.Equal(t, int64(1), batch[0].Position)
	assert.Equal(t, int64(2), batch[1].Position)
	assert.Equal(t, int64(3), batch[2].Position)
}

func TestReadBatch_AfterPosition(t *testing.T) {
	log := New()
	log.Append(record(1, 1), record(1, 2), record(1, 3))

	batch, err := log.ReadBatch(context.Background(), 1, 2, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, int64(3), batch[0].Position)
}

func TestReadBatch_Limit(t *testing.T) {
	log := New()
	log.Append(record(1, 1), record(1, 2), record(1, 3))

	batch, err := log.ReadBatch(context.Background(), 1, 0, 2)
	require.NoError(t, err)
	assert.Len(t, batch, 2)
}

func TestReadBatch_PartitionsAreIsolated(t *testing.T) {
	log := New()
	log.Append(record(1, 1), record(2, 1), record(2, 2))

	batch, err := log.ReadBatch(context.Background(), 2, 0, 10)
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	batch, err = log.ReadBatch(context.Background(), 3, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, batch)
}
