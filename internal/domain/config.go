package domain

import (
	"log/slog"
	"time"
)

type Config struct {
	NodeID          string       `json:"node_id" yaml:"node_id"`
	PartitionCount  int32        `json:"partition_count" yaml:"partition_count"`
	OwnedPartitions []int32      `json:"owned_partitions" yaml:"owned_partitions"`
	Logger          *slog.Logger `json:"-" yaml:"-"`

	Import        ImportConfig        `json:"import" yaml:"import"`
	Archiver      ArchiverConfig      `json:"archiver" yaml:"archiver"`
	Operations    OperationsConfig    `json:"operations" yaml:"operations"`
	Store         StoreConfig         `json:"store" yaml:"store"`
	Dispatch      DispatchConfig      `json:"dispatch" yaml:"dispatch"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

type ImportConfig struct {
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
	BatchSize    int           `json:"batch_size" yaml:"batch_size"`
	// Variable values longer than this are stored as a preview plus a
	// full-value field instead of inline, so they survive store field-size
	// limits.
	VariableSizeThreshold int           `json:"variable_size_threshold" yaml:"variable_size_threshold"`
	RetryDelay            time.Duration `json:"retry_delay" yaml:"retry_delay"`
	MaxRetries            int           `json:"max_retries" yaml:"max_retries"`
}

type ArchiverConfig struct {
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
	GracePeriod  time.Duration `json:"grace_period" yaml:"grace_period"`
	// DateFormat is a Go reference-time layout naming the historical bucket,
	// e.g. "2006-01-02" for daily buckets.
	DateFormat string `json:"date_format" yaml:"date_format"`
	BatchSize  int    `json:"batch_size" yaml:"batch_size"`
	// DependentIndices are the entity indices moved together with their
	// parent process instance. Incidents and sequence flows are not listed by
	// default; archiving them per dependent is an explicit opt-in.
	DependentIndices []string `json:"dependent_indices" yaml:"dependent_indices"`
}

type OperationsConfig struct {
	PollInterval          time.Duration `json:"poll_interval" yaml:"poll_interval"`
	BatchOperationMaxSize int           `json:"batch_operation_max_size" yaml:"batch_operation_max_size"`
	LockTimeout           time.Duration `json:"lock_timeout" yaml:"lock_timeout"`
}

type StoreBackend string

const (
	StoreBackendMemory StoreBackend = "memory"
	StoreBackendBadger StoreBackend = "badger"
)

type StoreConfig struct {
	Backend StoreBackend `json:"backend" yaml:"backend"`
	DataDir string       `json:"data_dir" yaml:"data_dir"`
	// MaxInlineFieldBytes caps a single document's payload in the memory
	// backend; larger documents come back as too-large bulk failures, the
	// same class the reference search engine reports for oversized fields.
	MaxInlineFieldBytes int `json:"max_inline_field_bytes" yaml:"max_inline_field_bytes"`
}

type DispatchConfig struct {
	GatewayAddress string        `json:"gateway_address" yaml:"gateway_address"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`
}

type ObservabilityConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Port    int  `json:"port" yaml:"port"`
}
