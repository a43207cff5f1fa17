// Package work runs tasks in per group FIFO order. Tasks sharing a group id
// never overlap and run in submission order; tasks of different groups run
// concurrently on their own goroutines.
package work

import (
	"errors"
	"fmt"
	"sync"
	"time"

	loggingpkg "github.com/drblury/resflow/internal/runtime/logging"
)

var (
	// ErrStopped is returned by Submit after Shutdown was called.
	ErrStopped = errors.New("work: scheduler stopped")
	// ErrShutdownTimeout is returned by Shutdown when runners did not drain
	// in time.
	ErrShutdownTimeout = errors.New("work: shutdown timed out")
)

// work is the pending task queue of one group. It exists only while a
// runner is draining it.
type work struct {
	group string
	queue []func()
}

// Stats is a point in time view of the scheduler.
type Stats struct {
	ActiveGroups int `json:"active_groups"`
	QueuedTasks  int `json:"queued_tasks"`
}

// Scheduler serializes tasks per group.
type Scheduler struct {
	logger loggingpkg.ServiceLogger

	mu      sync.Mutex
	works   map[string]*work
	queued  int
	stopped bool

	wg sync.WaitGroup
}

// New returns a Scheduler that logs task panics to logger.
func New(logger loggingpkg.ServiceLogger) *Scheduler {
	return &Scheduler{
		logger: logger,
		works:  make(map[string]*work),
	}
}

// Submit queues task on group. If the group is idle a runner is started.
func (s *Scheduler) Submit(group string, task func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	s.queued++
	if w, ok := s.works[group]; ok {
		w.queue = append(w.queue, task)
		return nil
	}
	w := &work{group: group, queue: []func(){task}}
	s.works[group] = w
	s.wg.Add(1)
	go s.run(w)
	return nil
}

// run drains w until its queue is empty. Retirement happens under the same
// lock Submit appends under, so no task is left behind.
func (s *Scheduler) run(w *work) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(w.queue) == 0 {
			delete(s.works, w.group)
			s.mu.Unlock()
			return
		}
		task := w.queue[0]
		w.queue[0] = nil
		w.queue = w.queue[1:]
		s.queued--
		s.mu.Unlock()

		s.execute(w.group, task)
	}
}

func (s *Scheduler) execute(group string, task func()) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			if s.logger != nil {
				s.logger.Error("Task panicked", err, loggingpkg.LogFields{"group": group})
			}
		}
	}()
	task()
}

// Stats returns the current number of active groups and queued tasks.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{ActiveGroups: len(s.works), QueuedTasks: s.queued}
}

// Shutdown stops accepting new tasks and waits for the queued ones to finish.
// On timeout it logs and returns ErrShutdownTimeout; runners keep draining in
// the background.
func (s *Scheduler) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		stats := s.Stats()
		if s.logger != nil {
			s.logger.Error("Timed out waiting for group runners", ErrShutdownTimeout, loggingpkg.LogFields{
				"timeout":       timeout.String(),
				"active_groups": stats.ActiveGroups,
				"queued_tasks":  stats.QueuedTasks,
			})
		}
		return ErrShutdownTimeout
	}
}
