package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/arborvale/valicore/pkg/valcore"
)

type fakeResources struct {
	mu      sync.Mutex
	latest  valcore.ResourceSnapshot
	history []valcore.ResourceSnapshot
	has     bool
}

func (f *fakeResources) set(cpu float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latest = valcore.ResourceSnapshot{At: time.Now(), CPUPercent: cpu}
	f.has = true
	f.history = append(f.history, f.latest)
}

func (f *fakeResources) Latest() (valcore.ResourceSnapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, f.has
}

func (f *fakeResources) Window(d time.Duration) []valcore.ResourceSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]valcore.ResourceSnapshot, len(f.history))
	copy(out, f.history)
	return out
}

// TestQueueFullRejectsBeyondCapacity exercises spec scenario S4: queue size
// 2, concurrency 1; four back-to-back requests against a slow validator —
// first runs, second and third queue, fourth is rejected queue_full.
func TestQueueFullRejectsBeyondCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxQueueSize = 2
	cfg.MaxConcurrentValidations = 1
	cfg.AcquireTimeout = time.Second
	c := New(cfg, nil, nil, nil)
	defer c.Close()

	release, err := c.Admit(context.Background(), false)
	if err != nil {
		t.Fatalf("expected first request admitted: %v", err)
	}
	defer release()

	var wg sync.WaitGroup
	results := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			_, err := c.Admit(ctx, false)
			results[idx] = err
		}(i)
	}
	wg.Wait()

	queueFullCount := 0
	for _, err := range results {
		if err == nil {
			t.Fatalf("expected all three additional requests to fail while the slot is held")
		}
		if kind, ok := valcore.KindOf(err); ok && kind == valcore.ErrKindQueueFull {
			queueFullCount++
		}
	}
	if queueFullCount == 0 {
		t.Fatalf("expected at least one queue_full rejection, got %v", results)
	}
}

// TestCriticalReservationBypassesThrottle exercises spec scenario S5:
// critical reservation honored while non-critical is throttled.
func TestCriticalReservationBypassesThrottle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentValidations = 10
	cfg.MaxQueueSize = 10
	cfg.MaxCPUPercent = 50
	cfg.CriticalReservationPercent = 20
	cfg.AcquireTimeout = time.Second

	res := &fakeResources{}
	res.set(95) // over threshold

	c := New(cfg, res, nil, nil)
	defer c.Close()

	release, err := c.Admit(context.Background(), true)
	if err != nil {
		t.Fatalf("expected critical request admitted despite high CPU: %v", err)
	}
	defer release()

	_, err = c.Admit(context.Background(), false)
	if err == nil {
		t.Fatalf("expected non-critical request to be throttled")
	}
	if kind, ok := valcore.KindOf(err); !ok || kind != valcore.ErrKindThrottled {
		t.Fatalf("expected throttled error, got %v", err)
	}
}

// TestCriticalReservationBypassesConcurrencySaturation exercises spec
// scenario S5 the way it is actually phrased: reservation held back purely
// by filling the concurrency semaphore with non-critical work, with CPU/mem
// staying under every configured threshold the whole time. This is the gap
// TestCriticalReservationBypassesThrottle doesn't cover, since that test
// forces the resource gate to trip instead.
func TestCriticalReservationBypassesConcurrencySaturation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentValidations = 10
	cfg.MaxQueueSize = 20
	cfg.CriticalReservationPercent = 20 // reservedCap = 2
	cfg.AcquireTimeout = 200 * time.Millisecond

	res := &fakeResources{}
	res.set(1) // nowhere near any threshold

	c := New(cfg, res, nil, nil)
	defer c.Close()

	var releases []Release
	for i := 0; i < 8; i++ { // fill every non-critical-eligible slot (10 - reservedCap)
		release, err := c.Admit(context.Background(), false)
		if err != nil {
			t.Fatalf("expected non-critical request %d to be admitted into the unreserved pool: %v", i, err)
		}
		releases = append(releases, release)
	}
	defer func() {
		for _, release := range releases {
			release()
		}
	}()

	releaseCritical, err := c.Admit(context.Background(), true)
	if err != nil {
		t.Fatalf("expected critical request to be admitted via the reserved share: %v", err)
	}
	defer releaseCritical()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := c.Admit(ctx, false); err == nil {
		t.Fatalf("expected a further non-critical request to be blocked once the unreserved pool is full")
	}
}

// TestAdaptiveThrottleContractsAndExpands exercises spec scenario S6.
func TestAdaptiveThrottleContractsAndExpands(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentValidations = 8
	cfg.ThrottlingAdjustmentFactor = 2
	cfg.ThrottleUpSlope = 0.1
	cfg.ThrottleDownSlope = -0.1
	cfg.ThrottleInterval = time.Hour // disable the automatic ticker for this test

	res := &fakeResources{}
	now := time.Now()
	for i := 0; i < 10; i++ {
		res.history = append(res.history, valcore.ResourceSnapshot{
			At:         now.Add(time.Duration(i) * time.Second),
			CPUPercent: float64(i) * 5, // rising trend
		})
	}

	c := New(cfg, res, nil, nil)
	defer c.Close()

	c.evaluateThrottle()
	capAfterContract, _, _ := c.sem.snapshot()
	if capAfterContract >= cfg.MaxConcurrentValidations {
		t.Fatalf("expected capacity to contract on rising CPU trend, got %d", capAfterContract)
	}

	res.history = nil
	for i := 0; i < 10; i++ {
		res.history = append(res.history, valcore.ResourceSnapshot{
			At:         now.Add(time.Duration(i) * time.Second),
			CPUPercent: float64(100 - i*5), // falling trend
		})
	}
	c.evaluateThrottle()
	capAfterExpand, _, _ := c.sem.snapshot()
	if capAfterExpand <= capAfterContract {
		t.Fatalf("expected capacity to expand back on falling CPU trend, got %d (was %d)", capAfterExpand, capAfterContract)
	}
}

func TestAdmitReleaseFreesSlot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentValidations = 1
	cfg.AcquireTimeout = 50 * time.Millisecond
	c := New(cfg, nil, nil, nil)
	defer c.Close()

	release, err := c.Admit(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	release()

	release2, err := c.Admit(context.Background(), false)
	if err != nil {
		t.Fatalf("expected slot to be free after release: %v", err)
	}
	release2()
}
