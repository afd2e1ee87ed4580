// Package scheduler runs registered tasks on fixed intervals with overlap
// protection: a task that is still running when its next slot arrives is
// skipped, and the next slot is computed from completion time, not start
// time, so slow tasks cannot pile up.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"ctiharvest/internal/intel"
)

// DefaultPollInterval is how often the loop checks for due tasks. Fine
// enough for hour-scale feed intervals without busy-waiting.
const DefaultPollInterval = 10 * time.Second

// DefaultDrainTimeout bounds how long Stop waits for in-flight tasks.
const DefaultDrainTimeout = 15 * time.Second

// TaskFunc is one schedulable unit of work.
type TaskFunc func(ctx context.Context)

type task struct {
	name     string
	interval time.Duration
	run      TaskFunc

	mu      sync.Mutex
	running bool
	nextRun time.Time
	lastRun time.Time
}

// TaskStatus is a point-in-time snapshot of one task for the status surface.
type TaskStatus struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	Running  bool          `json:"running"`
	NextRun  time.Time     `json:"next_run"`
	LastRun  time.Time     `json:"last_run,omitempty"`
}

// Scheduler owns the poll loop and the task table.
type Scheduler struct {
	poll   time.Duration
	drain  time.Duration
	clock  intel.Clock
	logger *zap.Logger

	mu    sync.Mutex
	tasks []*task

	wg     sync.WaitGroup
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Scheduler. pollInterval <= 0 uses the default.
func New(pollInterval time.Duration, clock intel.Clock, logger *zap.Logger) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		poll:   pollInterval,
		drain:  DefaultDrainTimeout,
		clock:  clock,
		logger: logger,
	}
}

// Add registers a task. The first run is due immediately.
func (s *Scheduler) Add(name string, interval time.Duration, fn TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &task{
		name:     name,
		interval: interval,
		run:      fn,
		nextRun:  s.clock.Now(),
	})
	s.logger.Info("scheduled task",
		zap.String("task", name),
		zap.Duration("interval", interval),
	)
}

// Start launches the poll loop. It returns immediately; use Stop or cancel
// the context to shut down.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.poll)
		defer ticker.Stop()
		s.logger.Info("scheduler started", zap.Duration("poll_interval", s.poll))
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("scheduler loop exiting")
				return
			case <-ticker.C:
				s.dispatchDue(ctx)
			}
		}
	}()
}

// Stop halts the loop so no new tasks start, then waits for in-flight tasks
// up to the drain timeout. Tasks are never interrupted mid-run; a task that
// outlives the drain window keeps running and is logged, not killed.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		s.logger.Info("scheduler stopped")
	case <-time.After(s.drain):
		s.logger.Warn("scheduler stopped with tasks still in flight",
			zap.Duration("drain_timeout", s.drain))
	}
}

// Status reports a snapshot of every task.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	statuses := make([]TaskStatus, 0, len(s.tasks))
	for _, t := range s.tasks {
		t.mu.Lock()
		statuses = append(statuses, TaskStatus{
			Name:     t.name,
			Interval: t.interval,
			Running:  t.running,
			NextRun:  t.nextRun,
			LastRun:  t.lastRun,
		})
		t.mu.Unlock()
	}
	return statuses
}

// dispatchDue starts a goroutine for every due, not-running task.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := s.clock.Now()

	s.mu.Lock()
	due := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		due = append(due, t)
	}
	s.mu.Unlock()

	for _, t := range due {
		t.mu.Lock()
		if now.Before(t.nextRun) {
			t.mu.Unlock()
			continue
		}
		if t.running {
			// Previous invocation still in flight. Skip this slot rather
			// than stacking a second run of the same feed.
			s.logger.Warn("task still running, skipping slot", zap.String("task", t.name))
			t.mu.Unlock()
			continue
		}
		t.running = true
		t.lastRun = now
		t.mu.Unlock()

		// Tasks run detached from the poll-loop context: stopping the
		// scheduler must not abort a fetch already in flight.
		runCtx := context.WithoutCancel(ctx)

		s.wg.Add(1)
		go func(t *task) {
			defer s.wg.Done()
			start := s.clock.Now()
			s.logger.Info("task starting", zap.String("task", t.name))
			t.run(runCtx)
			finished := s.clock.Now()
			s.logger.Info("task finished",
				zap.String("task", t.name),
				zap.Duration("elapsed", finished.Sub(start)),
			)

			t.mu.Lock()
			t.running = false
			t.nextRun = finished.Add(t.interval)
			t.mu.Unlock()
		}(t)
	}
}
