// Package telemetry implements the Metrics Aggregator (C2) and, co-located
// since it is a pure consumer of C2's state with no storage of its own, the
// Alert Manager hook (C10).
//
// Grounded on pkg/metrics/retry.go's promauto-singleton pattern and
// pkg/history/cache.Metrics's per-operation Counter/HistogramVec layout;
// the per-middleware lazy map uses the lazy-create-under-lock idiom from
// internal/infrastructure/publishing/queue.go's getCircuitBreaker.
package telemetry

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arborvale/valicore/pkg/valcore"
)

// middlewareState is the per-name bookkeeping the aggregator maintains:
// atomic success/failure/retry counters, the latest circuit state, and a
// bounded ring of recent executions.
type middlewareState struct {
	success     atomic.Int64
	failure     atomic.Int64
	retries     atomic.Int64
	breakerOpen atomic.Bool
	executions  *executionRing
}

// MiddlewareSummary is one middleware's entry in a Summary.
type MiddlewareSummary struct {
	Name        string
	Success     int64
	Failure     int64
	Retries     int64
	BreakerOpen bool
	P50         time.Duration
	P95         time.Duration
	P99         time.Duration
}

// Summary is the aggregator's current-state snapshot, per spec §4.2's
// currentSummary().
type Summary struct {
	Middleware map[string]MiddlewareSummary
	Resource   valcore.ResourceSnapshot
	HasResource bool
}

// Aggregator is the C2 Metrics Aggregator plus the C10 Alert Manager hook.
type Aggregator struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics

	mu         sync.RWMutex
	middleware map[string]*middlewareState

	resources *resourceRing

	alertMu       sync.Mutex
	handlers      []valcore.AlertHandler
	lastAlertedAt map[string]time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs an Aggregator. Call Start to begin the hourly resource-ring
// pruning loop.
func New(cfg Config, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		cfg:           cfg,
		logger:        logger,
		metrics:       NewMetrics(),
		middleware:    make(map[string]*middlewareState),
		resources:     newResourceRing(cfg.ResourceRingCapacity, cfg.ResourceRetention),
		lastAlertedAt: make(map[string]time.Time),
		stopCh:        make(chan struct{}),
	}
}

// Start begins the hourly resource-ring pruning loop in the background.
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		interval := a.cfg.ResourcePruneInterval
		if interval <= 0 {
			interval = time.Hour
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-a.stopCh:
				return
			case <-ticker.C:
				a.resources.prune()
			}
		}
	}()
}

// Stop halts the pruning loop.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	a.wg.Wait()
}

func (a *Aggregator) stateFor(name string) *middlewareState {
	a.mu.RLock()
	st, ok := a.middleware[name]
	a.mu.RUnlock()
	if ok {
		return st
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.middleware[name]; ok {
		return st
	}
	st = &middlewareState{executions: newExecutionRing(a.cfg.DurationSampleCapacity)}
	a.middleware[name] = st
	return st
}

// RecordExecution records one middleware execution outcome. Satisfies
// chain.MetricsRecorder.
func (a *Aggregator) RecordExecution(name string, success bool, duration time.Duration) {
	st := a.stateFor(name)
	if success {
		st.success.Add(1)
		a.metrics.executionTotal.WithLabelValues(name, "success").Inc()
	} else {
		st.failure.Add(1)
		a.metrics.executionTotal.WithLabelValues(name, "failure").Inc()
	}
	st.executions.add(executionSample{at: time.Now(), duration: duration, success: success})
	a.metrics.durationSeconds.WithLabelValues(name).Observe(duration.Seconds())

	a.evaluateErrorRate(name, st)
}

// RecordRetry records a retry attempt for name. Satisfies chain.MetricsRecorder.
func (a *Aggregator) RecordRetry(name string) {
	st := a.stateFor(name)
	st.retries.Add(1)
	a.metrics.retryTotal.WithLabelValues(name).Inc()
}

// RecordCircuitState records the latest open/closed state for name.
// Satisfies chain.MetricsRecorder.
func (a *Aggregator) RecordCircuitState(name string, open bool) {
	st := a.stateFor(name)
	st.breakerOpen.Store(open)
	if open {
		a.metrics.breakerOpen.WithLabelValues(name).Set(1)
		a.emitAlert(valcore.Alert{
			Resource:          "circuit:" + name,
			Severity:          valcore.AlertHigh,
			Message:           "circuit breaker opened for " + name,
			RecommendedAction: "investigate recent failures for " + name + "; traffic is being shed",
			Trend:             valcore.TrendRising,
			At:                time.Now(),
		})
	} else {
		a.metrics.breakerOpen.WithLabelValues(name).Set(0)
	}
}

// RecordResource records one resource snapshot and runs its threshold checks.
func (a *Aggregator) RecordResource(snap valcore.ResourceSnapshot) {
	a.resources.add(snap)
	a.metrics.resourceCPU.Set(snap.CPUPercent)
	a.metrics.resourceMemRSS.Set(float64(snap.RSSBytes))
	a.evaluateResource(snap)
}

// CurrentSummary returns the aggregator's current-state snapshot.
func (a *Aggregator) CurrentSummary() Summary {
	a.mu.RLock()
	names := make([]string, 0, len(a.middleware))
	states := make(map[string]*middlewareState, len(a.middleware))
	for name, st := range a.middleware {
		names = append(names, name)
		states[name] = st
	}
	a.mu.RUnlock()

	out := Summary{Middleware: make(map[string]MiddlewareSummary, len(names))}
	for _, name := range names {
		st := states[name]
		samples := st.executions.snapshot()
		out.Middleware[name] = MiddlewareSummary{
			Name:        name,
			Success:     st.success.Load(),
			Failure:     st.failure.Load(),
			Retries:     st.retries.Load(),
			BreakerOpen: st.breakerOpen.Load(),
			P50:         percentileDuration(samples, 50),
			P95:         percentileDuration(samples, 95),
			P99:         percentileDuration(samples, 99),
		}
	}
	if snap, ok := a.resources.latest(); ok {
		out.Resource = snap
		out.HasResource = true
	}
	return out
}

// Historical returns resource snapshots within the last window.
func (a *Aggregator) Historical(window time.Duration) []valcore.ResourceSnapshot {
	return a.resources.window(window)
}

// Percentile returns the p-th percentile execution duration across all
// middleware, limited to samples within window (window<=0 means all
// retained samples), per spec §4.2's percentile(p, window).
func (a *Aggregator) Percentile(p float64, window time.Duration) time.Duration {
	a.mu.RLock()
	states := make([]*middlewareState, 0, len(a.middleware))
	for _, st := range a.middleware {
		states = append(states, st)
	}
	a.mu.RUnlock()

	var all []executionSample
	for _, st := range states {
		all = append(all, withinWindow(st.executions.snapshot(), window)...)
	}
	return percentileDuration(all, p)
}
