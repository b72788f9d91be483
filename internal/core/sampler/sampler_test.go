package sampler

import (
	"testing"
	"time"

	"github.com/arborvale/valicore/pkg/valcore"
)

func newTestSampler(t *testing.T, retainFor time.Duration) *Sampler {
	t.Helper()
	s, err := New(time.Second, retainFor, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error constructing sampler: %v", err)
	}
	return s
}

func TestLatestReflectsLastGoodTick(t *testing.T) {
	s := newTestSampler(t, time.Minute)
	if _, ok := s.Latest(); ok {
		t.Fatalf("expected no snapshot before the first tick")
	}

	s.tick()

	snap, ok := s.Latest()
	if !ok {
		t.Fatalf("expected a snapshot after tick")
	}
	if snap.At.IsZero() {
		t.Fatalf("expected snapshot timestamp to be set")
	}
}

func TestTickFallsBackOnMissingDiskAndNetRates(t *testing.T) {
	// DiskRateBps/NetRateBps are not sampled per spec's "best-effort" carve
	// out for per-process I/O; confirm the fallback-to-last-value path holds
	// across ticks rather than resetting to zero.
	s := newTestSampler(t, time.Minute)
	s.mu.Lock()
	s.last = valcore.ResourceSnapshot{DiskRateBps: 4096, NetRateBps: 2048}
	s.hasLast = true
	s.mu.Unlock()

	s.tick()

	snap, _ := s.Latest()
	if snap.DiskRateBps != 4096 || snap.NetRateBps != 2048 {
		t.Fatalf("expected disk/net rates to carry forward, got disk=%d net=%d", snap.DiskRateBps, snap.NetRateBps)
	}
}

func TestWindowTrimsOutsideRetention(t *testing.T) {
	s := newTestSampler(t, 50*time.Millisecond)

	s.mu.Lock()
	now := time.Now()
	s.window = []valcore.ResourceSnapshot{
		{At: now.Add(-time.Hour)},
		{At: now.Add(-time.Minute)},
		{At: now},
	}
	s.trimWindowLocked()
	remaining := len(s.window)
	s.mu.Unlock()

	if remaining != 1 {
		t.Fatalf("expected retention to trim stale snapshots, kept %d entries", remaining)
	}
}

func TestWindowReturnsOnlyEntriesWithinDuration(t *testing.T) {
	s := newTestSampler(t, time.Hour)

	now := time.Now()
	s.mu.Lock()
	s.window = []valcore.ResourceSnapshot{
		{At: now.Add(-10 * time.Second)},
		{At: now.Add(-2 * time.Second)},
		{At: now},
	}
	s.mu.Unlock()

	got := s.Window(5 * time.Second)
	if len(got) != 2 {
		t.Fatalf("expected 2 snapshots within the last 5s, got %d", len(got))
	}
}

func TestGCRatePerMinuteIsZeroOnFirstSample(t *testing.T) {
	s := newTestSampler(t, time.Minute)
	if rate := s.gcRatePerMinute(); rate != 0 {
		t.Fatalf("expected 0 on the first sample (no prior baseline), got %v", rate)
	}
}

func TestThreadPoolUtilizationNeverExceeds100(t *testing.T) {
	if pct := threadPoolUtilization(); pct < 0 || pct > 100 {
		t.Fatalf("expected utilization in [0,100], got %v", pct)
	}
}

func TestSubscriberReceivesEachTick(t *testing.T) {
	var received int
	s, err := New(time.Second, time.Minute, nil, func(valcore.ResourceSnapshot) {
		received++
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.tick()
	s.tick()

	if received != 2 {
		t.Fatalf("expected subscriber to be invoked once per tick, got %d", received)
	}
}

func TestStartStopDoesNotBlock(t *testing.T) {
	s := newTestSampler(t, time.Minute)
	s.Start()
	s.Stop()
}
