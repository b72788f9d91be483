package admission

import (
	"context"
	"sync"
	"time"
)

// semaphore is a counted concurrency gate whose capacity can be resized
// while tokens are held. generation is bumped on every Resize purely as an
// observability aid (snapshot() reports it so tests/metrics can confirm a resize took
// effect); correctness does not depend on it, since capacity and inUse are
// both read and mutated under the same mutex — a resize is simply a new
// value of capacity that the next Acquire/Release sees immediately. A
// contraction never evicts slots already held: it only raises the bar for
// future admission until enough in-flight validations complete to bring
// inUse back under the new capacity.
//
// reservedCap slots are held back from non-critical callers at all times,
// not only when the resource gate trips: a non-critical acquire is capped at
// capacity-reservedCap, while a critical acquire may use the full capacity.
// Without this, filling every slot with non-critical work starves a later
// critical request even though resource usage never crossed a threshold.
type semaphore struct {
	mu          sync.Mutex
	capacity    int
	reservedCap int
	inUse       int
	generation  int64
	waiters     []chan struct{}
}

func newSemaphore(capacity, reservedCap int) *semaphore {
	return &semaphore{capacity: capacity, reservedCap: reservedCap}
}

// acquire blocks until a slot is available, ctx is done, or timeout elapses.
// critical callers may use the full capacity; non-critical callers are
// capped at capacity-reservedCap.
func (s *semaphore) acquire(ctx context.Context, timeout time.Duration, critical bool) bool {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	for {
		s.mu.Lock()
		limit := s.capacity
		if !critical {
			limit -= s.reservedCap
		}
		if s.inUse < limit {
			s.inUse++
			s.mu.Unlock()
			return true
		}
		wake := make(chan struct{})
		s.waiters = append(s.waiters, wake)
		s.mu.Unlock()

		select {
		case <-wake:
			continue
		case <-ctx.Done():
			return false
		case <-deadline:
			return false
		}
	}
}

// release returns a held slot and wakes one waiter, if any.
func (s *semaphore) release() {
	s.mu.Lock()
	if s.inUse > 0 {
		s.inUse--
	}
	var wake chan struct{}
	if len(s.waiters) > 0 {
		wake, s.waiters = s.waiters[0], s.waiters[1:]
	}
	s.mu.Unlock()
	if wake != nil {
		close(wake)
	}
}

// resize sets a new capacity, waking all waiters so they can recheck against
// it (an expansion may immediately admit some of them).
func (s *semaphore) resize(newCapacity int) {
	if newCapacity < 1 {
		newCapacity = 1
	}
	s.mu.Lock()
	s.capacity = newCapacity
	s.generation++
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

func (s *semaphore) snapshot() (capacity, inUse int, generation int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity, s.inUse, s.generation
}
