package ports

import (
	"context"

	"github.com/flowlens/flowlens/internal/domain"
)

// RecordReaderPort reads a partition's exported records in position order.
// ReadBatch returns up to limit records with Position > afterPosition,
// strictly ascending. Re-delivery of already-returned positions is allowed;
// the importer's checkpoint rejects them.
type RecordReaderPort interface {
	ReadBatch(ctx context.Context, partitionID int32, afterPosition int64, limit int) ([]domain.Record, error)
}

// PartitionSetProvider yields the partitions this node currently owns. The
// set is fetched once per scheduling tick and passed down as a value, so
// topology changes between ticks never race a batch in progress.
type PartitionSetProvider interface {
	OwnedPartitions(ctx context.Context) ([]int32, error)
}

// StaticPartitions is the single-node binding: a fixed owned set.
type StaticPartitions []int32

func (p StaticPartitions) OwnedPartitions(ctx context.Context) ([]int32, error) {
	out := make([]int32, len(p))
	copy(out, p)
	return out, nil
}
