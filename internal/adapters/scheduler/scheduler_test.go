package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlens/flowlens/internal/domain"
)

func TestScheduler_RunsRegisteredTask(t *testing.T) {
	s := New(nil)

	var ticks atomic.Int64
	require.NoError(t, s.Register("counter", 5*time.Millisecond, func(ctx context.Context) (int, error) {
		ticks.Add(1)
		return 0, nil
	}))

	require.NoError(t, s.Start())

	assert.Eventually(t, func() bool {
		return ticks.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
}

func TestScheduler_FastRequeueOnBacklog(t *testing.T) {
	s := New(nil)

	// The task claims backlog on every tick; with a long nominal interval the
	// only way to tick repeatedly within the deadline is the fast requeue.
	var ticks atomic.Int64
	require.NoError(t, s.Register("drain", 500*time.Millisecond, func(ctx context.Context) (int, error) {
		ticks.Add(1)
		return 10, nil
	}))

	require.NoError(t, s.Start())

	assert.Eventually(t, func() bool {
		return ticks.Load() >= 4
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop())
}

func TestScheduler_RegisterValidation(t *testing.T) {
	s := New(nil)

	assert.Error(t, s.Register("", time.Second, func(ctx context.Context) (int, error) { return 0, nil }))
	assert.Error(t, s.Register("no-fn", time.Second, nil))
	assert.Error(t, s.Register("bad-interval", 0, func(ctx context.Context) (int, error) { return 0, nil }))
}

func TestScheduler_Lifecycle(t *testing.T) {
	s := New(nil)

	assert.ErrorIs(t, s.Stop(), domain.ErrNotStarted)

	require.NoError(t, s.Start())
	assert.ErrorIs(t, s.Start(), domain.ErrAlreadyStarted)
	assert.ErrorIs(t, s.Register("late", time.Second, func(ctx context.Context) (int, error) { return 0, nil }), domain.ErrAlreadyStarted)

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), domain.ErrNotStarted)
}

func TestScheduler_StopCancelsTaskContext(t *testing.T) {
	s := New(nil)

	canceled := make(chan struct{})
	require.NoError(t, s.Register("watcher", time.Millisecond, func(ctx context.Context) (int, error) {
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
			t.Error("task context was never canceled")
		}
		close(canceled)
		return 0, nil
	}))

	require.NoError(t, s.Start())

	// Give the task a moment to enter its tick, then stop.
	time.Sleep(20 * time.Millisecond)
	done := make(chan error)
	go func() { done <- s.Stop() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("task never observed cancellation")
	}
}

func TestScheduler_SurvivesPanickingTask(t *testing.T) {
	s := New(nil)

	var ticks atomic.Int64
	require.NoError(t, s.Register("flaky", 5*time.Millisecond, func(ctx context.Context) (int, error) {
		if ticks.Add(1) == 1 {
			panic("first tick blows up")
		}
		return 0, nil
	}))

	require.NoError(t, s.Start())

	// The task keeps ticking after the panic.
	assert.Eventually(t, func() bool {
		return ticks.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
}

func TestScheduler_TaskErrorDoesNotStopTicks(t *testing.T) {
	s := New(nil)

	var ticks atomic.Int64
	require.NoError(t, s.Register("failing", 5*time.Millisecond, func(ctx context.Context) (int, error) {
		ticks.Add(1)
		return 0, domain.NewUnavailableError("store", context.DeadlineExceeded)
	}))

	require.NoError(t, s.Start())

	assert.Eventually(t, func() bool {
		return ticks.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
}

func TestJitter(t *testing.T) {
	d := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		j := jitter(d)
		assert.GreaterOrEqual(t, j, d/2)
		assert.Less(t, j, d)
	}

	// Degenerate intervals pass through untouched.
	assert.Equal(t, time.Duration(1), jitter(1))
}
