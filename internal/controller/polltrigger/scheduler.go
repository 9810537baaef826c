package polltrigger

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// DefaultMinInterval is the floor for poll intervals.
const DefaultMinInterval = 10 * time.Second

// jitterFraction spreads each wait over interval ± 10%.
const jitterFraction = 0.1

var errSchedulerStopped = errors.New("scheduler is stopped")

// PollHandler is called when a trigger is due.
type PollHandler func(ctx context.Context, triggerID string) error

// Scheduler runs one loop per registered trigger. A loop calls the handler
// and only then waits for the next tick, so polls of the same trigger never
// overlap.
type Scheduler struct {
	handler     PollHandler
	minInterval time.Duration

	mu      sync.RWMutex
	entries map[string]*schedule
	stopped bool
}

type schedule struct {
	interval time.Duration
	cancel   context.CancelFunc
}

// NewScheduler creates a scheduler. A minInterval of zero uses
// DefaultMinInterval.
func NewScheduler(handler PollHandler, minInterval time.Duration) *Scheduler {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &Scheduler{
		handler:     handler,
		minInterval: minInterval,
		entries:     make(map[string]*schedule),
	}
}

// MinInterval returns the enforced interval floor.
func (s *Scheduler) MinInterval() time.Duration { return s.minInterval }

// Register schedules triggerID every interval, raised to the minimum.
// Re-registering with a new interval restarts the loop; the same interval
// is a no-op.
func (s *Scheduler) Register(ctx context.Context, triggerID string, interval time.Duration) error {
	interval = max(interval, s.minInterval)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return errSchedulerStopped
	}
	if cur, ok := s.entries[triggerID]; ok {
		if cur.interval == interval {
			return nil
		}
		cur.cancel()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.entries[triggerID] = &schedule{interval: interval, cancel: cancel}
	go s.loop(loopCtx, triggerID, interval)
	return nil
}

// Unregister stops the trigger's loop. A poll already running finishes.
func (s *Scheduler) Unregister(triggerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.entries[triggerID]; ok {
		cur.cancel()
		delete(s.entries, triggerID)
	}
}

// Stop cancels every loop. Later Register calls fail.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for id, cur := range s.entries {
		cur.cancel()
		delete(s.entries, id)
	}
}

func (s *Scheduler) loop(ctx context.Context, triggerID string, interval time.Duration) {
	timer := time.NewTimer(addJitter(interval))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if s.handler != nil {
			// The handler records its own failures.
			_ = s.handler(ctx, triggerID)
		}
		if ctx.Err() != nil {
			return
		}
		timer.Reset(addJitter(interval))
	}
}

// GetInterval returns the effective interval, or 0 if triggerID is not
// scheduled.
func (s *Scheduler) GetInterval(triggerID string) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if cur, ok := s.entries[triggerID]; ok {
		return cur.interval
	}
	return 0
}

// IsScheduled reports whether triggerID has a live loop.
func (s *Scheduler) IsScheduled(triggerID string) bool {
	return s.GetInterval(triggerID) > 0
}

// ListTriggers returns the scheduled trigger IDs, sorted.
func (s *Scheduler) ListTriggers() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

func addJitter(d time.Duration) time.Duration {
	spread := float64(d) * jitterFraction
	return d + time.Duration((rand.Float64()*2-1)*spread)
}
