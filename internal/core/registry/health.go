package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/arborvale/valicore/pkg/valcore"
)

// CheckFunc instantiates/exercises a validator and reports its current
// health. Concrete validators define what "instantiate" means (e.g. a
// trivial syntax check on a canned snippet); the registry only records the
// outcome.
type CheckFunc func(ctx context.Context, v valcore.Validator) valcore.Health

// HealthChecker runs CheckFunc against every registered validator on a
// fixed interval, per spec §4.8's "a periodic healthCheck instantiates each
// entry and records outcomes."
type HealthChecker struct {
	registry *Registry
	check    CheckFunc
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewHealthChecker constructs (but does not start) a checker.
func NewHealthChecker(r *Registry, check CheckFunc, interval, timeout time.Duration, logger *slog.Logger) *HealthChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthChecker{
		registry: r,
		check:    check,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the periodic check loop in a background goroutine.
func (h *HealthChecker) Start() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-h.stopCh:
				return
			case <-ticker.C:
				h.runOnce()
			}
		}
	}()
}

// Stop halts the checker and waits for the current round, if any, to finish.
func (h *HealthChecker) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	h.wg.Wait()
}

// RunOnce executes a single check round synchronously, for tests and
// on-demand operator endpoints.
func (h *HealthChecker) RunOnce() {
	h.runOnce()
}

func (h *HealthChecker) runOnce() {
	for languageID, v := range h.registry.snapshotValidators() {
		ctx := context.Background()
		var cancel context.CancelFunc
		if h.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, h.timeout)
		}
		health := h.check(ctx, v)
		health.LastChecked = time.Now()
		if cancel != nil {
			cancel()
		}
		h.registry.updateHealth(languageID, health)
		if !health.Healthy {
			h.logger.Warn("validator health check failed", "language", languageID, "error", health.LastError)
		}
	}
}
