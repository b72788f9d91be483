package resilience

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/arborvale/valicore/pkg/metrics"
	"github.com/arborvale/valicore/pkg/valcore"
)

// Strategy is the delay schedule shape for a retry category.
type Strategy string

const (
	StrategyImmediate   Strategy = "immediate"
	StrategyLinear      Strategy = "linear"
	StrategyExponential Strategy = "exponential"
)

// CategoryConfig is the per-category retry configuration from spec §4.4 and
// §6 ("Retry per category: {maxAttempts, strategy, baseDelay, maxDelay,
// maxDuration}").
type CategoryConfig struct {
	MaxAttempts int
	Strategy    Strategy
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxDuration time.Duration
	// Factor is the exponential growth factor; only meaningful when
	// Strategy == StrategyExponential. Defaults to 2.0 when zero.
	Factor float64
}

func (c CategoryConfig) factor() float64 {
	if c.Factor <= 0 {
		return 2.0
	}
	return c.Factor
}

// DefaultCategoryConfig is the fallback for any category with no explicit
// SetCategory override.
func DefaultCategoryConfig() CategoryConfig {
	return CategoryConfig{
		MaxAttempts: 3,
		Strategy:    StrategyExponential,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		MaxDuration: 30 * time.Second,
		Factor:      2.0,
	}
}

// BreakerGate is consulted by CategoryPolicy to honor spec §4.4(d): a
// category circuit breaker that is open makes the category non-retryable
// regardless of attempts remaining. Allow performs the breaker's own
// open->half_open time check (and consumes the single half-open probe),
// so an open breaker past its resetTimeout still reports true here exactly
// once — otherwise a breaker that opened once would never let a retry
// category recover. internal/core/breaker.Manager satisfies this via its
// Allow method.
type BreakerGate interface {
	Allow(name string) bool
}

// CategoryPolicy is the C4 Retry Policy: a category-keyed registry of
// CategoryConfig plus the jitter/schedule/gating logic from spec §4.4.
type CategoryPolicy struct {
	mu         sync.RWMutex
	categories map[string]CategoryConfig
	checker    RetryableErrorChecker
	breakers   BreakerGate
	logger     *slog.Logger
	metrics    *metrics.RetryMetrics
}

// NewCategoryPolicy constructs a policy with no registered categories;
// unregistered categories fall back to DefaultCategoryConfig.
func NewCategoryPolicy(checker RetryableErrorChecker, breakers BreakerGate, logger *slog.Logger, m *metrics.RetryMetrics) *CategoryPolicy {
	if checker == nil {
		checker = &DefaultErrorChecker{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CategoryPolicy{
		categories: make(map[string]CategoryConfig),
		checker:    checker,
		breakers:   breakers,
		logger:     logger,
		metrics:    m,
	}
}

// SetCategory registers or replaces the configuration for a retry category.
func (p *CategoryPolicy) SetCategory(name string, cfg CategoryConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.categories[name] = cfg
}

func (p *CategoryPolicy) configFor(name string) CategoryConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cfg, ok := p.categories[name]; ok {
		return cfg
	}
	return DefaultCategoryConfig()
}

// ShouldRetry implements spec §4.4's shouldRetry(error, context): false if
// (a) category not retryable, (b) attempts exhausted, (c) elapsed since
// first attempt > maxDuration, (d) category circuit breaker open.
func (p *CategoryPolicy) ShouldRetry(category string, err error, attempt int, elapsed time.Duration) bool {
	if err == nil {
		return false
	}
	cfg := p.configFor(category)

	if !shouldRetry(err, p.checker) {
		return false
	}
	if attempt >= cfg.MaxAttempts {
		return false
	}
	if cfg.MaxDuration > 0 && elapsed > cfg.MaxDuration {
		return false
	}
	if p.breakers != nil && !p.breakers.Allow(category) {
		return false
	}
	return true
}

// NextDelay computes the delay before the given (1-based) retry attempt,
// including additive 0-10% jitter, per spec §4.4.
func (p *CategoryPolicy) NextDelay(category string, attempt int) time.Duration {
	cfg := p.configFor(category)

	var base time.Duration
	switch cfg.Strategy {
	case StrategyImmediate:
		base = 0
	case StrategyLinear:
		base = cfg.BaseDelay * time.Duration(attempt)
	case StrategyExponential:
		fallthrough
	default:
		d := float64(cfg.BaseDelay)
		for i := 1; i < attempt; i++ {
			d *= cfg.factor()
		}
		base = time.Duration(d)
	}
	if cfg.MaxDelay > 0 && base > cfg.MaxDelay {
		base = cfg.MaxDelay
	}
	if base <= 0 {
		return 0
	}
	jitter := time.Duration(float64(base) * 0.1 * rand.Float64())
	return base + jitter
}

// Execute runs operation, retrying per the named category's schedule, and
// returns the final result/error along with the number of attempts made.
func Execute[T any](ctx context.Context, p *CategoryPolicy, category string, operation func() (T, error)) (T, int, error) {
	cfg := p.configFor(category)
	start := time.Now()

	var lastResult T
	var lastErr error

	for attempt := 1; ; attempt++ {
		result, err := operation()
		if err == nil {
			if p.metrics != nil {
				p.metrics.RecordFinalAttempt(category, "success", attempt)
			}
			return result, attempt, nil
		}

		lastResult, lastErr = result, err
		elapsed := time.Since(start)

		if !p.ShouldRetry(category, err, attempt, elapsed) {
			if p.metrics != nil {
				p.metrics.RecordFinalAttempt(category, "failure", attempt)
			}
			return lastResult, attempt, lastErr
		}

		delay := p.NextDelay(category, attempt)
		p.logger.Warn("retrying middleware operation",
			"category", category, "attempt", attempt, "delay", delay, "error", err)
		if p.metrics != nil {
			p.metrics.RecordBackoff(category, delay.Seconds())
		}

		if !waitWithContext(ctx, delay) {
			if p.metrics != nil {
				p.metrics.RecordFinalAttempt(category, "cancelled", attempt)
			}
			var zero T
			return zero, attempt, valcore.WrapError(valcore.ErrKindCancelled, "retry wait cancelled", ctx.Err())
		}

		if cfg.MaxDuration > 0 && time.Since(start) > cfg.MaxDuration {
			if p.metrics != nil {
				p.metrics.RecordFinalAttempt(category, "failure", attempt)
			}
			return lastResult, attempt, lastErr
		}
	}
}
