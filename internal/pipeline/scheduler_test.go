package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_StatusInRegistrationOrder(t *testing.T) {
	s := NewScheduler(time.Minute)
	noop := func(context.Context) error { return nil }
	s.Register(StageParse, time.Hour, nil, noop)
	s.Register(StageEnrich, time.Hour, nil, noop)
	s.Register(StageUrgentScan, time.Hour, nil, noop)

	infos := s.Status()
	require.Len(t, infos, 3)
	assert.Equal(t, StageParse, infos[0].Name)
	assert.Equal(t, StageEnrich, infos[1].Name)
	assert.Equal(t, StageUrgentScan, infos[2].Name)
	for _, info := range infos {
		assert.Equal(t, StateActive, info.State)
		assert.Equal(t, "1h0m0s", info.Interval)
	}
}

func TestScheduler_SuspendResume(t *testing.T) {
	s := NewScheduler(time.Minute)
	s.Register(StageParse, time.Hour, nil, func(context.Context) error { return nil })

	require.NoError(t, s.Suspend(StageParse))
	assert.Equal(t, StateSuspended, s.Status()[0].State)

	// Suspend is idempotent.
	require.NoError(t, s.Suspend(StageParse))
	assert.Equal(t, StateSuspended, s.Status()[0].State)

	require.NoError(t, s.Resume(StageParse))
	assert.Equal(t, StateActive, s.Status()[0].State)
}

func TestScheduler_UnknownStage(t *testing.T) {
	s := NewScheduler(time.Minute)
	assert.Error(t, s.Suspend("bogus"))
	assert.Error(t, s.Resume("bogus"))
}

func TestScheduler_RunsRegisteredStage(t *testing.T) {
	s := NewScheduler(time.Minute)
	var runs atomic.Int32
	s.Register(StageParse, 10*time.Millisecond, nil, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	s.Stop()
}

func TestScheduler_SuspendedStageDoesNotRun(t *testing.T) {
	s := NewScheduler(time.Minute)
	var runs atomic.Int32
	s.Register(StageParse, 10*time.Millisecond, nil, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	require.NoError(t, s.Suspend(StageParse))

	s.Start(context.Background())
	time.Sleep(80 * time.Millisecond)
	s.Stop()

	assert.Zero(t, runs.Load())
}

func TestScheduler_GateSkipsEmptyCycles(t *testing.T) {
	s := NewScheduler(time.Minute)
	var gated atomic.Bool
	var runs atomic.Int32

	gate := func(context.Context) (bool, error) { return gated.Load(), nil }
	s.Register(StageEnrich, 10*time.Millisecond, gate, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, runs.Load())

	gated.Store(true)
	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, time.Second, 5*time.Millisecond)
}

// Suspending during a batch lets the batch finish; no new batch starts.
func TestScheduler_SuspendMidBatch(t *testing.T) {
	s := NewScheduler(time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Int32

	s.Register(StageParse, 10*time.Millisecond, nil, func(context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		finished.Add(1)
		return nil
	})

	s.Start(context.Background())

	<-started
	assert.Equal(t, StateRunning, s.Status()[0].State)
	require.NoError(t, s.Suspend(StageParse))

	close(release)
	assert.Eventually(t, func() bool { return finished.Load() == 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	s.Stop()
	assert.Equal(t, int32(1), finished.Load())
	assert.Equal(t, StateSuspended, s.Status()[0].State)
}

func TestScheduler_BatchTimeoutPropagates(t *testing.T) {
	s := NewScheduler(20 * time.Millisecond)

	var once sync.Once
	deadline := make(chan struct{})
	s.Register(StageParse, 10*time.Millisecond, nil, func(ctx context.Context) error {
		<-ctx.Done()
		once.Do(func() { close(deadline) })
		return ctx.Err()
	})

	s.Start(context.Background())
	defer s.Stop()

	select {
	case <-deadline:
	case <-time.After(time.Second):
		t.Fatal("batch context never timed out")
	}
}
