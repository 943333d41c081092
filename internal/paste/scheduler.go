package paste

import (
	"sync"
	"time"
)

// FireFunc is called when a deadline passes. at is the deadline the timer was
// armed with, letting the receiver discard fires that a later re-arm superseded.
type FireFunc func(id string, at time.Time)

type timerEntry struct {
	timer *time.Timer
}

// Scheduler keeps at most one pending one-shot timer per id.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[string]*timerEntry
	fire    FireFunc
	now     func() time.Time
	stopped bool
}

// NewScheduler returns a Scheduler calling fire on each deadline. now supplies
// the clock deadlines are measured against; nil means time.Now.
func NewScheduler(fire FireFunc, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{timers: make(map[string]*timerEntry), fire: fire, now: now}
}

// Arm schedules a fire for id at the given time, replacing any pending timer.
// Past deadlines fire immediately.
func (s *Scheduler) Arm(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if prev, ok := s.timers[id]; ok {
		prev.timer.Stop()
	}
	entry := &timerEntry{}
	entry.timer = time.AfterFunc(at.Sub(s.now()), func() {
		s.mu.Lock()
		current := s.timers[id] == entry
		if current {
			delete(s.timers, id)
		}
		stopped := s.stopped
		s.mu.Unlock()
		if current && !stopped {
			s.fire(id, at)
		}
	})
	s.timers[id] = entry
}

// Cancel stops the pending timer for id. It reports false when there was none
// or when it had already fired.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.timers[id]
	if !ok {
		return false
	}
	delete(s.timers, id)
	return entry.timer.Stop()
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every timer; later Arm calls are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, entry := range s.timers {
		entry.timer.Stop()
		delete(s.timers, id)
	}
}
