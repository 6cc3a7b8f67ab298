// Package scheduler runs the pipeline's periodic jobs: import rounds,
// archiver sweeps, executor ticks. One goroutine per task, jittered ticks so
// co-scheduled tasks do not hammer the store in lockstep.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/flowlens/flowlens/internal/domain"
)

// TaskFunc is one tick of a periodic job. It reports how many items it
// handled so the scheduler can shorten the pause while there is backlog.
type TaskFunc func(ctx context.Context) (int, error)

type task struct {
	name     string
	interval time.Duration
	fn       TaskFunc
}

type Scheduler struct {
	tasks   []task
	logger  *slog.Logger
	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		logger: logger.With("component", "scheduler"),
	}
}

// Register adds a periodic task. Must be called before Start.
func (s *Scheduler) Register(name string, interval time.Duration, fn TaskFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return domain.ErrAlreadyStarted
	}
	if name == "" || fn == nil {
		return domain.NewValidationError("task requires a name and a function", nil)
	}
	if interval <= 0 {
		return domain.NewValidationError("task interval must be positive", map[string]interface{}{
			"task": name,
		})
	}

	s.tasks = append(s.tasks, task{name: name, interval: interval, fn: fn})
	return nil
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return domain.ErrAlreadyStarted
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.logger.Info("starting scheduler", "tasks", len(s.tasks))

	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.run(t)
	}

	return nil
}

// Stop cancels all tasks and waits for in-flight ticks to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return domain.ErrNotStarted
	}
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) run(t task) {
	defer s.wg.Done()

	logger := s.logger.With("task", t.name)
	logger.Debug("task started", "interval", t.interval)

	timer := time.NewTimer(jitter(t.interval))
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			logger.Debug("task stopping")
			return
		case <-timer.C:
		}

		handled := s.tick(logger, t)

		// A productive tick means backlog; come back almost immediately
		// instead of waiting a full interval.
		if handled > 0 {
			timer.Reset(jitter(t.interval / 10))
		} else {
			timer.Reset(jitter(t.interval))
		}
	}
}

func (s *Scheduler) tick(logger *slog.Logger, t task) (handled int) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task panicked", "panic", r)
			handled = 0
		}
	}()

	n, err := t.fn(s.ctx)
	if err != nil {
		if s.ctx.Err() != nil {
			return 0
		}
		logger.Error("task tick failed", "error", err.Error())
		return 0
	}

	if n > 0 {
		logger.Debug("task tick handled items", "count", n)
	}
	return n
}

// jitter spreads ticks over [d/2, d) so tasks sharing an interval drift apart.
func jitter(d time.Duration) time.Duration {
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + time.Duration(rand.Int63n(int64(half)))
}
