// Package breaker implements the keyed circuit-breaker state machine (C3):
// closed/open/half_open per middleware or retry-category name, with a
// sliding window for failure-rate and slow-call detection alongside the
// spec's consecutive-failure fast path, and a single serialized probe while
// half-open.
package breaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/arborvale/valicore/pkg/valcore"
)

// ErrOpen is returned by Call when the breaker is currently rejecting calls
// (Allow reports the same condition as false).
var ErrOpen = errors.New("circuit breaker is open")

// callResult is one entry in a breaker's sliding window.
type callResult struct {
	at      time.Time
	success bool
	slow    bool
}

// Config is the per-name circuit breaker configuration. FailureThreshold and
// ResetTimeout are spec §6's named fields; FailureRateThreshold, TimeWindow
// and SlowCallDuration are the teacher's sliding-window enrichment, kept
// because they give a more complete failure signal than pure consecutive
// count (e.g. an intermittently-failing middleware that never strings
// together FailureThreshold consecutive failures would otherwise never
// trip).
type Config struct {
	FailureThreshold     int
	ResetTimeout         time.Duration
	FailureRateThreshold float64
	TimeWindow           time.Duration
	SlowCallDuration     time.Duration
}

// DefaultConfig matches spec §6's named defaults (failureThreshold=5,
// resetTimeout=30s).
func DefaultConfig() Config {
	return Config{
		FailureThreshold:     5,
		ResetTimeout:         30 * time.Second,
		FailureRateThreshold: 0.5,
		TimeWindow:           60 * time.Second,
		SlowCallDuration:     3 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.FailureThreshold <= 0 {
		return errors.New("failure_threshold must be positive")
	}
	if c.ResetTimeout <= 0 {
		return errors.New("reset_timeout must be positive")
	}
	if c.FailureRateThreshold < 0 || c.FailureRateThreshold > 1 {
		return errors.New("failure_rate_threshold must be between 0 and 1")
	}
	if c.TimeWindow <= 0 {
		return errors.New("time_window must be positive")
	}
	if c.SlowCallDuration <= 0 {
		return errors.New("slow_call_duration must be positive")
	}
	return nil
}

// Stats is the externally visible snapshot of a breaker's counters.
type Stats struct {
	State                valcore.BreakerState
	FailureCount         int
	SuccessCount         int
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastFailureAt        time.Time
	LastFailureReason    string
	LastSuccessAt        time.Time
	OpenUntil            time.Time
}

// Breaker is one named circuit. Exactly one probe is allowed through while
// half-open; concurrent callers racing Allow() during half-open all see the
// same serialized decision because halfOpenProbeTaken is flipped under the
// same lock that decides the transition.
type Breaker struct {
	name   string
	cfg    Config
	logger *slog.Logger
	mets   *Metrics

	mu                   sync.Mutex
	state                valcore.BreakerState
	failureCount         int
	successCount         int
	consecutiveFailures  int
	consecutiveSuccesses int
	lastFailureAt        time.Time
	lastFailureReason    string
	lastSuccessAt        time.Time
	lastStateChange      time.Time
	openUntil            time.Time
	halfOpenProbeTaken   bool
	window               []callResult
}

func newBreaker(name string, cfg Config, logger *slog.Logger, mets *Metrics) *Breaker {
	return &Breaker{
		name:            name,
		cfg:             cfg,
		logger:          logger,
		mets:            mets,
		state:           valcore.BreakerClosed,
		lastStateChange: time.Now(),
		window:          make([]callResult, 0, 64),
	}
}

// Allow implements spec §4.3's allow(): true if state != open, or if open and
// now >= openUntil (which also performs the open->half_open transition). In
// half_open it returns true only once, for the serialized probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case valcore.BreakerOpen:
		if !time.Now().Before(b.openUntil) {
			b.transitionToHalfOpenLocked()
			return true
		}
		if b.mets != nil {
			b.mets.blocked.WithLabelValues(b.name).Inc()
		}
		return false

	case valcore.BreakerHalfOpen:
		if b.halfOpenProbeTaken {
			if b.mets != nil {
				b.mets.blocked.WithLabelValues(b.name).Inc()
			}
			return false
		}
		b.halfOpenProbeTaken = true
		return true

	default: // closed
		return true
	}
}

// Call runs operation if Allow() permits it, records the outcome, and
// returns ErrOpen without invoking operation when the breaker rejects.
func (b *Breaker) Call(operation func() error) error {
	if !b.Allow() {
		return ErrOpen
	}
	start := time.Now()
	err := operation()
	b.record(err, time.Since(start))
	return err
}

// Record lets a caller that invoked the protected operation itself (e.g. the
// middleware chain, which needs its own deadline/retry wrapping around the
// call) still feed the outcome back into the breaker's state machine.
func (b *Breaker) Record(err error, duration time.Duration) {
	b.record(err, duration)
}

func (b *Breaker) record(err error, duration time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	slow := duration >= b.cfg.SlowCallDuration
	success := err == nil && !slow
	now := time.Now()

	b.window = append(b.window, callResult{at: now, success: success, slow: slow})
	b.trimWindowLocked(now)

	if success {
		b.successCount++
		b.consecutiveSuccesses++
		b.consecutiveFailures = 0
		b.lastSuccessAt = now
		if b.mets != nil {
			b.mets.successes.WithLabelValues(b.name).Inc()
		}
	} else {
		b.failureCount++
		b.consecutiveFailures++
		b.consecutiveSuccesses = 0
		b.lastFailureAt = now
		if err != nil {
			b.lastFailureReason = err.Error()
		} else {
			b.lastFailureReason = "slow call"
		}
		if b.mets != nil {
			b.mets.failures.WithLabelValues(b.name).Inc()
		}
	}

	switch b.state {
	case valcore.BreakerClosed:
		if b.shouldOpenLocked() {
			b.transitionToOpenLocked()
		}
	case valcore.BreakerHalfOpen:
		if success {
			b.transitionToClosedLocked()
		} else {
			b.transitionToOpenLocked()
		}
	}
}

func (b *Breaker) shouldOpenLocked() bool {
	if b.consecutiveFailures >= b.cfg.FailureThreshold {
		return true
	}
	if len(b.window) < b.cfg.FailureThreshold {
		return false
	}
	failures := 0
	for _, r := range b.window {
		if !r.success {
			failures++
		}
	}
	return float64(failures)/float64(len(b.window)) >= b.cfg.FailureRateThreshold
}

func (b *Breaker) trimWindowLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.TimeWindow)
	first := 0
	for i, r := range b.window {
		if r.at.After(cutoff) {
			first = i
			break
		}
		first = i + 1
	}
	if first > 0 {
		b.window = b.window[first:]
	}
}

func (b *Breaker) transitionToOpenLocked() {
	old := b.state
	b.state = valcore.BreakerOpen
	b.lastStateChange = time.Now()
	b.openUntil = b.lastStateChange.Add(b.cfg.ResetTimeout)
	b.halfOpenProbeTaken = false

	if b.logger != nil {
		b.logger.Warn("circuit breaker opened", "name", b.name, "previous_state", old,
			"consecutive_failures", b.consecutiveFailures, "open_until", b.openUntil)
	}
	if b.mets != nil {
		b.mets.stateChanges.WithLabelValues(b.name, string(old), string(valcore.BreakerOpen)).Inc()
		b.mets.state.WithLabelValues(b.name).Set(stateValue(valcore.BreakerOpen))
	}
}

func (b *Breaker) transitionToHalfOpenLocked() {
	old := b.state
	b.state = valcore.BreakerHalfOpen
	b.lastStateChange = time.Now()
	b.halfOpenProbeTaken = true // the caller of Allow() that triggered this becomes the probe

	if b.logger != nil {
		b.logger.Info("circuit breaker entering half-open", "name", b.name, "previous_state", old)
	}
	if b.mets != nil {
		b.mets.stateChanges.WithLabelValues(b.name, string(old), string(valcore.BreakerHalfOpen)).Inc()
		b.mets.state.WithLabelValues(b.name).Set(stateValue(valcore.BreakerHalfOpen))
	}
}

func (b *Breaker) transitionToClosedLocked() {
	old := b.state
	b.state = valcore.BreakerClosed
	b.lastStateChange = time.Now()
	b.failureCount = 0
	b.consecutiveFailures = 0
	b.halfOpenProbeTaken = false
	b.window = b.window[:0]

	if b.logger != nil {
		b.logger.Info("circuit breaker closed", "name", b.name, "previous_state", old)
	}
	if b.mets != nil {
		b.mets.stateChanges.WithLabelValues(b.name, string(old), string(valcore.BreakerClosed)).Inc()
		b.mets.state.WithLabelValues(b.name).Set(stateValue(valcore.BreakerClosed))
	}
}

func stateValue(s valcore.BreakerState) float64 {
	switch s {
	case valcore.BreakerOpen:
		return 1
	case valcore.BreakerHalfOpen:
		return 0.5
	default:
		return 0
	}
}

// State returns the current state (thread-safe).
func (b *Breaker) State() valcore.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the current Stats (thread-safe).
func (b *Breaker) Snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:                b.state,
		FailureCount:         b.failureCount,
		SuccessCount:         b.successCount,
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		LastFailureAt:        b.lastFailureAt,
		LastFailureReason:    b.lastFailureReason,
		LastSuccessAt:        b.lastSuccessAt,
		OpenUntil:            b.openUntil,
	}
}

// Reset forces the breaker back to closed (manual intervention / tests).
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = valcore.BreakerClosed
	b.failureCount = 0
	b.successCount = 0
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.halfOpenProbeTaken = false
	b.window = b.window[:0]
	b.lastStateChange = time.Now()
}
