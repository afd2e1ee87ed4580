package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctiharvest/internal/clock/system"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSchedulerRunsDueTasks(t *testing.T) {
	s := New(10*time.Millisecond, system.New(), nil)

	var runs atomic.Int32
	s.Add("counter", 20*time.Millisecond, func(context.Context) {
		runs.Add(1)
	})

	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool { return runs.Load() >= 2 })
}

func TestSchedulerSkipsSlotWhileTaskRunning(t *testing.T) {
	s := New(10*time.Millisecond, system.New(), nil)

	var started atomic.Int32
	release := make(chan struct{})
	s.Add("slow", 10*time.Millisecond, func(context.Context) {
		started.Add(1)
		<-release
	})

	s.Start(context.Background())

	waitFor(t, 2*time.Second, func() bool { return started.Load() == 1 })

	// Several poll ticks pass while the task is in flight; none may start a
	// second invocation.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), started.Load())

	close(release)
	s.Stop()
}

func TestSchedulerNextRunFromCompletionTime(t *testing.T) {
	s := New(10*time.Millisecond, system.New(), nil)

	interval := 50 * time.Millisecond
	taskDuration := 80 * time.Millisecond
	var finishedAt time.Time
	done := make(chan struct{})
	s.Add("slow", interval, func(context.Context) {
		time.Sleep(taskDuration)
		finishedAt = time.Now().UTC()
		close(done)
	})

	s.Start(context.Background())
	defer s.Stop()

	<-done
	waitFor(t, time.Second, func() bool {
		st := s.Status()
		return len(st) == 1 && !st[0].Running
	})

	st := s.Status()[0]
	assert.False(t, st.NextRun.Before(finishedAt.Add(interval)),
		"next slot counts from completion, not start")
}

func TestSchedulerStopWaitsForInflightTask(t *testing.T) {
	s := New(10*time.Millisecond, system.New(), nil)

	var finished atomic.Bool
	started := make(chan struct{})
	s.Add("slow", time.Minute, func(context.Context) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	})

	s.Start(context.Background())
	<-started
	s.Stop()

	assert.True(t, finished.Load(), "Stop returns only after in-flight work drains")
}

func TestSchedulerStopReturnsWithinDrainTimeout(t *testing.T) {
	s := New(10*time.Millisecond, system.New(), nil)
	s.drain = 50 * time.Millisecond

	started := make(chan struct{})
	release := make(chan struct{})
	s.Add("stuck", time.Minute, func(context.Context) {
		close(started)
		<-release
	})

	s.Start(context.Background())
	<-started

	begin := time.Now()
	s.Stop()
	assert.Less(t, time.Since(begin), time.Second,
		"a stuck task must not hang shutdown past the drain window")
	close(release)
}

func TestSchedulerStopDoesNotCancelInflightTask(t *testing.T) {
	s := New(10*time.Millisecond, system.New(), nil)
	s.drain = 50 * time.Millisecond

	started := make(chan struct{})
	release := make(chan struct{})
	ctxErr := make(chan error, 1)
	s.Add("fetching", time.Minute, func(ctx context.Context) {
		close(started)
		<-release
		ctxErr <- ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	<-started

	cancel()
	s.Stop()
	close(release)

	assert.NoError(t, <-ctxErr, "shutdown must not abort a run already in flight")
}

func TestSchedulerStatusSnapshot(t *testing.T) {
	s := New(time.Hour, system.New(), nil)
	s.Add("feed_a", 30*time.Minute, func(context.Context) {})
	s.Add("feed_b", time.Hour, func(context.Context) {})

	st := s.Status()
	require.Len(t, st, 2)
	assert.Equal(t, "feed_a", st[0].Name)
	assert.Equal(t, 30*time.Minute, st[0].Interval)
	assert.False(t, st[0].Running)
	assert.False(t, st[0].NextRun.IsZero(), "first run is due immediately")
	assert.True(t, st[0].LastRun.IsZero())
}
