// Package recordlog is an in-process binding of the record reader port: an
// append-only per-partition log. It backs tests and single-process
// deployments where the exporter writes straight into the importer's process.
package recordlog

import (
	"context"
	"sort"
	"sync"

	"github.com/flowlens/flowlens/internal/domain"
)

type Log struct {
	mu         sync.RWMutex
	partitions map[int32][]domain.Record
}

func New() *Log {
	return &Log{partitions: make(map[int32][]domain.Record)}
}

// Append adds records to their partitions. Out-of-order or duplicate appends
// are accepted; readers always observe position order and the importer's
// checkpoint drops re-deliveries.
func (l *Log) Append(records ...domain.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	touched := make(map[int32]struct{})
	for _, record := range records {
		l.partitions[record.PartitionID] = append(l.partitions[record.PartitionID], record)
		touched[record.PartitionID] = struct{}{}
	}

	for partition := range touched {
		records := l.partitions[partition]
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].Position < records[j].Position
		})
	}
}

func (l *Log) ReadBatch(ctx context.Context, partitionID int32, afterPosition int64, limit int) ([]domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var batch []domain.Record
	for _, record := range l.partitions[partitionID] {
		if record.Position <= afterPosition {
			continue
		}
		batch = append(batch, record)
		if limit > 0 && len(batch) >= limit {
			break
		}
	}

	return batch, nil
}
