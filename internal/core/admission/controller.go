// Package admission implements the Admission Controller (C6): three gates
// in order (bounded queue, counted concurrency semaphore, adaptive resource
// gate) plus a background loop that contracts/expands the concurrency
// semaphore's capacity in response to a linear-regression CPU trend.
//
// Grounded on internal/infrastructure/publishing/queue.go's config-struct
// and lazy-map shape and queue_metrics.go's per-stage metrics, but
// restructured: the teacher's channel-based 3-tier priority dispatch becomes
// a synchronous Admit(ctx, critical) gate, since C6 has no worker pool of
// its own — admitted requests run the middleware chain on the caller's
// goroutine.
package admission

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arborvale/valicore/pkg/valcore"
)

// ResourceProvider is the narrow seam into C1 the controller needs: the
// latest resource snapshot plus a recent window for the adaptive-throttle
// regression. internal/core/sampler.Sampler satisfies this.
type ResourceProvider interface {
	Latest() (valcore.ResourceSnapshot, bool)
	Window(d time.Duration) []valcore.ResourceSnapshot
}

// Release is returned by Admit and must be called exactly once to free the
// concurrency slot (and, for critical requests, the reservation share) the
// request occupied.
type Release func()

// Controller is the C6 Admission Controller.
type Controller struct {
	cfg       Config
	sem       *semaphore
	resources ResourceProvider
	logger    *slog.Logger
	metrics   *Metrics

	queued       int32
	reserved     int32
	reservedCap  int32
	throttled    atomic.Bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Controller and starts its adaptive-throttle loop.
// resources may be nil, in which case the resource gate always passes (no
// throttling) — useful for tests and for standalone validator use without a
// sampler attached.
func New(cfg Config, resources ResourceProvider, logger *slog.Logger, metrics *Metrics) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	reservedCap := int(float64(cfg.MaxConcurrentValidations) * cfg.CriticalReservationPercent / 100)
	c := &Controller{
		cfg:         cfg,
		sem:         newSemaphore(cfg.MaxConcurrentValidations, reservedCap),
		resources:   resources,
		logger:      logger,
		metrics:     metrics,
		reservedCap: int32(reservedCap),
		stopCh:      make(chan struct{}),
	}
	c.wg.Add(1)
	go c.throttleLoop()
	return c
}

// Close stops the adaptive-throttle background loop.
func (c *Controller) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Admit runs the three gates in spec order and, on success, returns a
// Release to be deferred by the caller. On rejection it returns a
// *valcore.Error tagged queue_full, overloaded, or throttled.
func (c *Controller) Admit(ctx context.Context, critical bool) (Release, error) {
	// Gate 1: bounded queue.
	for {
		cur := atomic.LoadInt32(&c.queued)
		if int(cur) >= c.cfg.MaxQueueSize {
			c.reject("queue_full")
			return nil, valcore.NewError(valcore.ErrKindQueueFull, "admission queue at capacity")
		}
		if atomic.CompareAndSwapInt32(&c.queued, cur, cur+1) {
			break
		}
	}
	leftQueue := false
	leaveQueue := func() {
		if !leftQueue {
			atomic.AddInt32(&c.queued, -1)
			leftQueue = true
		}
	}
	defer leaveQueue()
	c.publishQueueDepth()

	// Gate 2: concurrency semaphore. Critical callers may draw on the slots
	// reserved for them even when every non-critical-eligible slot is full.
	if !c.sem.acquire(ctx, c.cfg.AcquireTimeout, critical) {
		if ctx.Err() != nil {
			c.reject("cancelled")
			return nil, valcore.WrapError(valcore.ErrKindCancelled, "admission wait cancelled", ctx.Err())
		}
		c.reject("overloaded")
		return nil, valcore.NewError(valcore.ErrKindOverloaded, "timed out waiting for a concurrency slot")
	}
	leaveQueue()

	// Gate 3: adaptive resource gate.
	reservedSlot := false
	if c.overThreshold() {
		if !critical {
			c.sem.release()
			c.reject("throttled")
			return nil, valcore.NewError(valcore.ErrKindThrottled, "resource usage above configured thresholds")
		}
		if atomic.AddInt32(&c.reserved, 1) <= c.reservedCap {
			reservedSlot = true
		} else {
			atomic.AddInt32(&c.reserved, -1)
		}
	}

	c.admitted(critical)

	var once sync.Once
	return func() {
		once.Do(func() {
			if reservedSlot {
				atomic.AddInt32(&c.reserved, -1)
			}
			c.sem.release()
			c.publishGauges()
		})
	}, nil
}

func (c *Controller) overThreshold() bool {
	if c.resources == nil {
		return false
	}
	snap, ok := c.resources.Latest()
	if !ok {
		return false
	}
	if c.cfg.MaxCPUPercent > 0 && snap.CPUPercent > c.cfg.MaxCPUPercent {
		return true
	}
	if c.cfg.MaxMemMB > 0 && float64(snap.RSSBytes)/(1024*1024) > c.cfg.MaxMemMB {
		return true
	}
	if c.cfg.MaxDiskMBps > 0 && snap.DiskRateBps/(1024*1024) > c.cfg.MaxDiskMBps {
		return true
	}
	return false
}

// throttleLoop recomputes the CPU-trend slope every ThrottleInterval and
// resizes the concurrency semaphore accordingly, per spec §4.6.
func (c *Controller) throttleLoop() {
	defer c.wg.Done()
	if c.resources == nil {
		return
	}
	ticker := time.NewTicker(c.cfg.ThrottleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.evaluateThrottle()
		}
	}
}

func (c *Controller) evaluateThrottle() {
	window := c.resources.Window(c.cfg.ThrottleInterval)
	if len(window) < 2 {
		return
	}
	samples := make([]sample, len(window))
	for i, s := range window {
		samples[i] = sample{at: s.At, value: s.CPUPercent}
	}
	m := slope(samples)

	capacity, _, _ := c.sem.snapshot()

	switch {
	case m > c.cfg.ThrottleUpSlope && int(atomic.LoadInt32(&c.reserved)) < int(c.reservedCap):
		newCap := capacity / c.cfg.ThrottlingAdjustmentFactor
		if newCap < 1 {
			newCap = 1
		}
		if newCap != capacity {
			c.sem.resize(newCap)
			c.throttled.Store(true)
			c.logger.Warn("admission: contracting concurrency capacity", "slope", m, "from", capacity, "to", newCap)
		}
	case m < c.cfg.ThrottleDownSlope && c.throttled.Load():
		newCap := capacity * c.cfg.ThrottlingAdjustmentFactor
		if newCap > c.cfg.MaxConcurrentValidations {
			newCap = c.cfg.MaxConcurrentValidations
		}
		if newCap != capacity {
			c.sem.resize(newCap)
			if newCap == c.cfg.MaxConcurrentValidations {
				c.throttled.Store(false)
			}
			c.logger.Info("admission: expanding concurrency capacity", "slope", m, "from", capacity, "to", newCap)
		}
	}
	c.publishGauges()
}

func (c *Controller) reject(reason string) {
	if c.metrics != nil {
		c.metrics.rejected.WithLabelValues(reason).Inc()
	}
	c.publishGauges()
}

func (c *Controller) admitted(critical bool) {
	if c.metrics == nil {
		return
	}
	label := "false"
	if critical {
		label = "true"
	}
	c.metrics.admitted.WithLabelValues(label).Inc()
	c.publishGauges()
}

func (c *Controller) publishQueueDepth() {
	if c.metrics == nil {
		return
	}
	c.metrics.queueDepth.Set(float64(atomic.LoadInt32(&c.queued)))
	c.metrics.queueCapacity.Set(float64(c.cfg.MaxQueueSize))
}

func (c *Controller) publishGauges() {
	if c.metrics == nil {
		return
	}
	capacity, inUse, _ := c.sem.snapshot()
	c.metrics.concurrencyInUse.Set(float64(inUse))
	c.metrics.concurrencyCap.Set(float64(capacity))
	c.metrics.reservedInUse.Set(float64(atomic.LoadInt32(&c.reserved)))
	if c.cfg.MaxConcurrentValidations > 0 {
		c.metrics.throttleFactor.Set(float64(capacity) / float64(c.cfg.MaxConcurrentValidations))
	}
	c.publishQueueDepth()
}

// Stats is a point-in-time snapshot for health/debug endpoints.
type Stats struct {
	Queued              int
	QueueCapacity       int
	ConcurrencyCapacity int
	ConcurrencyInUse    int
	Reserved            int
	Throttled           bool
}

func (c *Controller) Stats() Stats {
	capacity, inUse, _ := c.sem.snapshot()
	return Stats{
		Queued:              int(atomic.LoadInt32(&c.queued)),
		QueueCapacity:       c.cfg.MaxQueueSize,
		ConcurrencyCapacity: capacity,
		ConcurrencyInUse:    inUse,
		Reserved:            int(atomic.LoadInt32(&c.reserved)),
		Throttled:           c.throttled.Load(),
	}
}
