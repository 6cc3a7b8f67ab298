// Package core assembles the pipeline from its adapters and owns its
// lifecycle. The Manager is what the public package and the CLI construct.
package core

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/flowlens/flowlens/internal/adapters/archiver"
	"github.com/flowlens/flowlens/internal/adapters/badgerstore"
	"github.com/flowlens/flowlens/internal/adapters/dispatch"
	"github.com/flowlens/flowlens/internal/adapters/executor"
	"github.com/flowlens/flowlens/internal/adapters/importer"
	"github.com/flowlens/flowlens/internal/adapters/memstore"
	"github.com/flowlens/flowlens/internal/adapters/observability"
	"github.com/flowlens/flowlens/internal/adapters/recordlog"
	"github.com/flowlens/flowlens/internal/adapters/scheduler"
	"github.com/flowlens/flowlens/internal/domain"
	"github.com/flowlens/flowlens/internal/ports"
)

type Manager struct {
	config     *domain.Config
	logger     *slog.Logger
	registry   *prometheus.Registry
	partitions ports.PartitionSetProvider

	store      ports.DocumentStorePort
	reader     ports.RecordReaderPort
	dispatcher ports.CommandDispatchPort

	importer          *importer.Importer
	archiver          *archiver.Archiver
	batchOpArchiver   *archiver.BatchOperationArchiver
	decisionArchiver  *archiver.DecisionInstanceArchiver
	executor          *executor.Executor
	scheduler         *scheduler.Scheduler
	observabilityStop context.CancelFunc

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

// New builds the full pipeline from config. Nothing runs until Start.
func New(config *domain.Config) (*Manager, error) {
	if config == nil {
		config = domain.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Manager{
		config:     config,
		logger:     logger.With("node_id", config.NodeID),
		registry:   registry,
		partitions: ports.StaticPartitions(config.OwnedPartitions),
	}

	if err := m.buildStore(); err != nil {
		return nil, err
	}
	if err := m.buildPipeline(); err != nil {
		m.store.Close()
		return nil, err
	}

	return m, nil
}

func (m *Manager) buildStore() error {
	switch m.config.Store.Backend {
	case domain.StoreBackendBadger:
		store, err := badgerstore.New(badgerstore.Config{
			DataDir:     m.config.Store.DataDir,
			MaxDocBytes: m.config.Store.MaxInlineFieldBytes,
		}, m.logger)
		if err != nil {
			return err
		}
		m.store = store

	default:
		m.store = memstore.New(memstore.Config{
			MaxDocBytes: m.config.Store.MaxInlineFieldBytes,
		}, m.logger)
	}

	return nil
}

func (m *Manager) buildPipeline() error {
	log := recordlog.New()
	m.reader = log

	imp, err := importer.New(m.store, m.reader, m.config.Import, m.logger, importer.NewMetrics(m.registry))
	if err != nil {
		return err
	}
	m.importer = imp

	// The archival jobs share one metrics family, split by the job label.
	archMetrics := archiver.NewMetrics(m.registry)

	arch, err := archiver.New(m.store, m.config.Archiver, m.logger, archMetrics)
	if err != nil {
		return err
	}
	m.archiver = arch

	batchArch, err := archiver.NewBatchOperationArchiver(m.store, m.config.Archiver, m.logger, archMetrics)
	if err != nil {
		return err
	}
	m.batchOpArchiver = batchArch

	decisionArch, err := archiver.NewDecisionInstanceArchiver(m.store, m.config.Archiver, m.logger, archMetrics)
	if err != nil {
		return err
	}
	m.decisionArchiver = decisionArch

	dispatcher, err := dispatch.New(m.config.Dispatch, m.logger)
	if err != nil {
		return err
	}
	m.dispatcher = dispatcher

	exec, err := executor.New(m.store, m.dispatcher, m.config.Operations, m.config.NodeID, m.logger, executor.NewMetrics(m.registry))
	if err != nil {
		return err
	}
	m.executor = exec

	// Operation completions flow in through the import stream, so the
	// importer drives batch progress recomputation.
	m.importer.SetProgressUpdater(m.executor)

	return nil
}

// RecordLog exposes the in-process record log when the memory reader is in
// use. Embedding applications append exported records here.
func (m *Manager) RecordLog() *recordlog.Log {
	if log, ok := m.reader.(*recordlog.Log); ok {
		return log
	}
	return nil
}

// Store exposes the document store for read paths built on top of the
// pipeline.
func (m *Manager) Store() ports.DocumentStorePort {
	return m.store
}

// ScheduleBatchOperation creates a batch of operations over the given
// process instance or definition keys.
func (m *Manager) ScheduleBatchOperation(ctx context.Context, name string, opType domain.OperationType, targetKeys []int64) (*domain.BatchOperation, error) {
	return m.executor.ScheduleBatchOperation(ctx, name, opType, targetKeys)
}

// PerformOneRoundOfImport runs one import round over the owned partitions,
// outside the scheduler's cadence. Useful for tests and catch-up tooling.
func (m *Manager) PerformOneRoundOfImport(ctx context.Context) (int, error) {
	owned, err := m.partitions.OwnedPartitions(ctx)
	if err != nil {
		return 0, err
	}
	return m.importer.PerformOneRoundOfImport(ctx, owned)
}

// ArchiveNextBatch runs one process instance archival sweep.
func (m *Manager) ArchiveNextBatch(ctx context.Context) (int, error) {
	owned, err := m.partitions.OwnedPartitions(ctx)
	if err != nil {
		return 0, err
	}
	return m.archiver.ArchiveNextBatch(ctx, owned)
}

// ExecuteOneBatch runs one operation executor tick.
func (m *Manager) ExecuteOneBatch(ctx context.Context) (int, error) {
	return m.executor.ExecuteOneBatch(ctx)
}

func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return domain.ErrAlreadyStarted
	}

	owned, err := m.partitions.OwnedPartitions(ctx)
	if err != nil {
		return err
	}

	m.scheduler = scheduler.New(m.logger)

	if err := m.scheduler.Register("import", m.config.Import.PollInterval, func(ctx context.Context) (int, error) {
		return m.importer.PerformOneRoundOfImport(ctx, owned)
	}); err != nil {
		return err
	}
	if err := m.scheduler.Register("archive-process-instances", m.config.Archiver.PollInterval, func(ctx context.Context) (int, error) {
		return m.archiver.ArchiveNextBatch(ctx, owned)
	}); err != nil {
		return err
	}
	if err := m.scheduler.Register("archive-batch-operations", m.config.Archiver.PollInterval, func(ctx context.Context) (int, error) {
		return m.batchOpArchiver.ArchiveNextBatch(ctx)
	}); err != nil {
		return err
	}
	if err := m.scheduler.Register("archive-decision-instances", m.config.Archiver.PollInterval, func(ctx context.Context) (int, error) {
		return m.decisionArchiver.ArchiveNextBatch(ctx)
	}); err != nil {
		return err
	}
	if err := m.scheduler.Register("execute-operations", m.config.Operations.PollInterval, func(ctx context.Context) (int, error) {
		return m.executor.ExecuteOneBatch(ctx)
	}); err != nil {
		return err
	}

	if err := m.scheduler.Start(); err != nil {
		return err
	}

	if m.config.Observability.Enabled {
		obsCtx, cancel := context.WithCancel(context.Background())
		m.observabilityStop = cancel
		server := observability.NewServer(m.config.Observability.Port, m.registry, m.componentHealth, m.logger)

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := server.Start(obsCtx); err != nil {
				m.logger.Error("observability server stopped with error", "error", err.Error())
			}
		}()
	}

	m.started = true
	m.logger.Info("pipeline started",
		"partitions", owned,
		"store_backend", string(m.config.Store.Backend),
	)

	return nil
}

func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return domain.ErrNotStarted
	}

	if err := m.scheduler.Stop(); err != nil {
		m.logger.Error("scheduler stop failed", "error", err.Error())
	}

	if m.observabilityStop != nil {
		m.observabilityStop()
	}
	m.wg.Wait()

	if err := m.dispatcher.Close(); err != nil {
		m.logger.Error("dispatcher close failed", "error", err.Error())
	}
	if err := m.store.Close(); err != nil {
		m.logger.Error("store close failed", "error", err.Error())
	}

	m.started = false
	m.logger.Info("pipeline stopped")
	return nil
}

func (m *Manager) componentHealth() map[string]error {
	health := make(map[string]error)
	health["store"] = m.store.Refresh(context.Background(), "*")
	return health
}
