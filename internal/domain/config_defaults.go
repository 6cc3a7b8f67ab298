package domain

import (
	"fmt"
	"time"
)

func DefaultConfig() *Config {
	return &Config{
		NodeID:          "node-0",
		PartitionCount:  1,
		OwnedPartitions: []int32{1},
		Import:          DefaultImportConfig(),
		Archiver:        DefaultArchiverConfig(),
		Operations:      DefaultOperationsConfig(),
		Store:           DefaultStoreConfig(),
		Dispatch:        DefaultDispatchConfig(),
		Observability:   ObservabilityConfig{Enabled: false, Port: 9600},
	}
}

func DefaultImportConfig() ImportConfig {
	return ImportConfig{
		PollInterval:          2 * time.Second,
		BatchSize:             200,
		VariableSizeThreshold: 32 * 1024,
		RetryDelay:            100 * time.Millisecond,
		MaxRetries:            3,
	}
}

func DefaultArchiverConfig() ArchiverConfig {
	return ArchiverConfig{
		PollInterval: 30 * time.Second,
		GracePeriod:  time.Hour,
		DateFormat:   "2006-01-02",
		BatchSize:    1000,
		DependentIndices: []string{
			IndexFlowNodeInstances,
			IndexVariables,
			IndexDecisionInstances,
			IndexJobs,
		},
	}
}

func DefaultOperationsConfig() OperationsConfig {
	return OperationsConfig{
		PollInterval:          2 * time.Second,
		BatchOperationMaxSize: 1000,
		LockTimeout:           time.Minute,
	}
}

func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Backend:             StoreBackendMemory,
		DataDir:             "./data",
		MaxInlineFieldBytes: 0,
	}
}

func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		GatewayAddress: "localhost:26500",
		RequestTimeout: 15 * time.Second,
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return NewValidationError("node_id must not be empty", nil)
	}
	if c.PartitionCount < 1 {
		return NewValidationError("partition_count must be at least 1", map[string]interface{}{
			"partition_count": c.PartitionCount,
		})
	}
	for _, p := range c.OwnedPartitions {
		if p < 1 || p > c.PartitionCount {
			return NewValidationError(fmt.Sprintf("owned partition %d outside 1..%d", p, c.PartitionCount), nil)
		}
	}
	if c.Import.BatchSize < 1 {
		return NewValidationError("import batch_size must be at least 1", nil)
	}
	if c.Archiver.BatchSize < 1 {
		return NewValidationError("archiver batch_size must be at least 1", nil)
	}
	if c.Archiver.GracePeriod < 0 {
		return NewValidationError("archiver grace_period must not be negative", nil)
	}
	if c.Archiver.DateFormat == "" {
		return NewValidationError("archiver date_format must not be empty", nil)
	}
	if c.Operations.BatchOperationMaxSize < 1 {
		return NewValidationError("batch_operation_max_size must be at least 1", nil)
	}
	if c.Operations.LockTimeout <= 0 {
		return NewValidationError("operations lock_timeout must be positive", nil)
	}
	switch c.Store.Backend {
	case StoreBackendMemory, StoreBackendBadger:
	default:
		return NewValidationError("unknown store backend", map[string]interface{}{
			"backend": string(c.Store.Backend),
		})
	}
	return nil
}
