// Package chain implements the middleware chain (C7): an ordered
// composition of cross-cutting stages wrapping the terminal validator call,
// gated by circuit breakers (C3) and retried per category policy (C4).
//
// Grounded on pkg/history/middleware/stack.go's ordered composition and
// recovery.go/timeout.go's per-stage panic-recovery and deadline wrapping,
// retargeted from http.Handler composition to wrapping a validator call.
package chain

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/arborvale/valicore/internal/core/breaker"
	"github.com/arborvale/valicore/internal/core/resilience"
	"github.com/arborvale/valicore/pkg/valcore"
)

// Next invokes the remainder of the chain (the next middleware, or the
// terminal validator call at the innermost position).
type Next func(ctx context.Context) (*valcore.ValidationResult, error)

// Descriptor is a middleware's static declaration, matching spec §4.7:
// {name, order, supportsRetry, requiresCleanup, timeout}.
type Descriptor struct {
	Name              string
	Order             int
	SupportsRetry     bool
	RequiresCleanup   bool
	Timeout           time.Duration
	ContinueOnFailure bool
	RetryCategory     string
}

// Stage pairs a Descriptor with its behavior.
type Stage struct {
	Descriptor Descriptor
	Process    func(ctx context.Context, req *valcore.ValidationRequest, next Next) (*valcore.ValidationResult, error)
	Cleanup    func(ctx context.Context)
}

// MetricsRecorder is the narrow seam into C2 the chain needs; satisfied by
// internal/core/telemetry.Aggregator.
type MetricsRecorder interface {
	RecordExecution(name string, success bool, duration time.Duration)
	RecordRetry(name string)
	RecordCircuitState(name string, open bool)
}

type registeredStage struct {
	stage Stage
	seq   int // registration order, used as the tiebreaker for equal Order
}

// Chain is a thread-safe, ordered middleware registry plus the Execute
// method that runs a request through it.
type Chain struct {
	mu             sync.RWMutex
	stages         []registeredStage
	nextSeq        int
	defaultTimeout time.Duration
	breakers       *breaker.Manager
	retry          *resilience.CategoryPolicy
	metrics        MetricsRecorder
	logger         *slog.Logger
}

// New constructs a Chain. defaultTimeout applies to any stage whose
// Descriptor.Timeout is zero.
func New(defaultTimeout time.Duration, breakers *breaker.Manager, retry *resilience.CategoryPolicy, metrics MetricsRecorder, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		defaultTimeout: defaultTimeout,
		breakers:       breakers,
		retry:          retry,
		metrics:        metrics,
		logger:         logger,
	}
}

// Add registers a stage. Stages are ordered by ascending Descriptor.Order,
// then by registration order as a tiebreaker (spec §5's ordering guarantee).
func (c *Chain) Add(s Stage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stages = append(c.stages, registeredStage{stage: s, seq: c.nextSeq})
	c.nextSeq++
	c.sortLocked()
}

// Remove unregisters the stage with the given name, if present.
func (c *Chain) Remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	filtered := c.stages[:0]
	for _, rs := range c.stages {
		if rs.stage.Descriptor.Name != name {
			filtered = append(filtered, rs)
		}
	}
	c.stages = filtered
}

func (c *Chain) sortLocked() {
	sort.SliceStable(c.stages, func(i, j int) bool {
		a, b := c.stages[i], c.stages[j]
		if a.stage.Descriptor.Order != b.stage.Descriptor.Order {
			return a.stage.Descriptor.Order < b.stage.Descriptor.Order
		}
		return a.seq < b.seq
	})
}

// snapshot returns an immutable ordered copy of the currently registered
// stages, matching spec §4.9 step 4: "Build chain from registered
// middleware snapshot".
func (c *Chain) snapshot() []Stage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Stage, len(c.stages))
	for i, rs := range c.stages {
		out[i] = rs.stage
	}
	return out
}

// Outcome is what Execute tracks per entered stage to populate the result's
// skipped/failed bookkeeping.
type Outcome struct {
	skipped map[string]struct{}
	failed  []valcore.Failure
}

// Execute runs req through every registered stage, outer to inner, and
// finally invokes terminal (the validator call) at the innermost position.
// Cleanup for every entered stage runs exactly once, in reverse order, on
// both the success and failure paths — including panics, which are
// recovered and converted into a middleware_failed error rather than
// propagated as a panic (grounded on pkg/history/middleware/recovery.go's
// defer/recover/debug.Stack idiom).
func (c *Chain) Execute(ctx context.Context, req *valcore.ValidationRequest, terminal Next) (*valcore.ValidationResult, *Outcome, error) {
	stages := c.snapshot()
	out := &Outcome{skipped: make(map[string]struct{})}

	var entered []Stage
	defer func() {
		for i := len(entered) - 1; i >= 0; i-- {
			s := entered[i]
			if s.Descriptor.RequiresCleanup && s.Cleanup != nil {
				func() {
					defer func() {
						if r := recover(); r != nil {
							c.logger.Error("middleware cleanup panicked", "name", s.Descriptor.Name, "panic", r)
						}
					}()
					s.Cleanup(ctx)
				}()
			}
		}
	}()

	var build func(idx int) Next
	build = func(idx int) Next {
		return func(ctx context.Context) (*valcore.ValidationResult, error) {
			if idx >= len(stages) {
				return terminal(ctx)
			}
			stage := stages[idx]
			name := stage.Descriptor.Name

			if c.breakers != nil && !c.breakers.Allow(name) {
				out.skipped[name] = struct{}{}
				if c.metrics != nil {
					c.metrics.RecordCircuitState(name, true)
				}
				return build(idx + 1)(ctx)
			}

			entered = append(entered, stage)
			return c.runStage(ctx, stage, req, build(idx+1), out)
		}
	}

	result, err := build(0)(ctx)
	return result, out, err
}

func (c *Chain) runStage(ctx context.Context, stage Stage, req *valcore.ValidationRequest, next Next, out *Outcome) (result *valcore.ValidationResult, err error) {
	name := stage.Descriptor.Name
	timeout := stage.Descriptor.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	attempt := func() (*valcore.ValidationResult, error) {
		stageCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			stageCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return c.invokeRecovered(stageCtx, stage, req, next)
	}

	start := time.Now()
	var r *valcore.ValidationResult
	var attempts int

	if stage.Descriptor.SupportsRetry && c.retry != nil {
		category := stage.Descriptor.RetryCategory
		if category == "" {
			category = name
		}
		r, attempts, err = resilience.Execute(ctx, c.retry, category, attempt)
	} else {
		r, err = attempt()
		attempts = 1
	}

	duration := time.Since(start)
	if c.breakers != nil {
		c.breakers.Get(name).Record(err, duration)
	}
	if c.metrics != nil {
		c.metrics.RecordExecution(name, err == nil, duration)
		if attempts > 1 {
			c.metrics.RecordRetry(name)
		}
	}

	if err != nil {
		breakerState := "closed"
		if c.breakers != nil {
			breakerState = string(c.breakers.Get(name).State())
		}
		out.failed = append(out.failed, valcore.Failure{
			Name:         name,
			LastError:    err.Error(),
			Attempts:     attempts,
			BreakerState: breakerState,
		})
		if stage.Descriptor.ContinueOnFailure {
			return next(ctx)
		}
		return nil, err
	}

	return r, nil
}

// invokeRecovered wraps stage.Process with panic recovery so a single
// misbehaving stage cannot take down the whole pipeline goroutine.
func (c *Chain) invokeRecovered(ctx context.Context, stage Stage, req *valcore.ValidationRequest, next Next) (result *valcore.ValidationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("middleware panicked", "name", stage.Descriptor.Name, "panic", r, "stack", string(debug.Stack()))
			err = valcore.WrapError(valcore.ErrKindMiddlewareFailed, "middleware panicked", nil)
		}
	}()
	return stage.Process(ctx, req, next)
}

// Skipped and Failed expose the bookkeeping Execute accumulated, for callers
// (the pipeline coordinator) that need to populate
// ValidationResult.SkippedMiddleware/FailedMiddleware.
func (o *Outcome) Skipped() map[string]struct{} { return o.skipped }
func (o *Outcome) Failed() []valcore.Failure     { return o.failed }
