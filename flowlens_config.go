package flowlens

import (
	"github.com/flowlens/flowlens/internal/domain"
)

// Config is the full configuration surface of the pipeline.
type Config = domain.Config

// ImportConfig tunes the record ingest loop.
type ImportConfig = domain.ImportConfig

// ArchiverConfig tunes the archival jobs: grace period, bucket layout and
// batch sizing.
type ArchiverConfig = domain.ArchiverConfig

// OperationsConfig tunes the operation executor.
type OperationsConfig = domain.OperationsConfig

// StoreConfig selects and tunes the document store backend.
type StoreConfig = domain.StoreConfig

// DispatchConfig points the executor at the engine gateway.
type DispatchConfig = domain.DispatchConfig

// ObservabilityConfig controls the health and metrics HTTP server.
type ObservabilityConfig = domain.ObservabilityConfig

// DefaultConfig returns a single-node configuration with the memory store
// backend and observability disabled.
func DefaultConfig() *Config {
	return domain.DefaultConfig()
}
