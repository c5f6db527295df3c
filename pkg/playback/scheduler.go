package playback

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Scheduler runs delayed tasks keyed by resource id. Scheduling a key
// replaces its pending task; cancelled tasks never run.
type Scheduler struct {
	clock clockwork.Clock

	mu      sync.Mutex
	tasks   map[string]*scheduledTask
	stopped bool
	wg      sync.WaitGroup
}

type scheduledTask struct {
	cancel chan struct{}
}

// NewScheduler creates a scheduler driven by clock.
func NewScheduler(clock clockwork.Clock) *Scheduler {
	return &Scheduler{
		clock: clock,
		tasks: make(map[string]*scheduledTask),
	}
}

// Schedule runs fn after d unless key is cancelled or rescheduled first.
func (s *Scheduler) Schedule(key string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if prev, ok := s.tasks[key]; ok {
		close(prev.cancel)
	}
	t := &scheduledTask{cancel: make(chan struct{})}
	s.tasks[key] = t

	after := s.clock.After(d)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-after:
		case <-t.cancel:
			return
		}

		s.mu.Lock()
		if s.tasks[key] != t {
			s.mu.Unlock()
			return
		}
		delete(s.tasks, key)
		s.mu.Unlock()

		fn()
	}()
}

// Cancel drops the pending task for key. It reports whether one existed.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key]
	if !ok {
		return false
	}
	delete(s.tasks, key)
	close(t.cancel)
	return true
}

// Pending reports whether a task is waiting for key.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

// Stop cancels every pending task and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for key, t := range s.tasks {
		close(t.cancel)
		delete(s.tasks, key)
	}
	s.mu.Unlock()

	s.wg.Wait()
}
