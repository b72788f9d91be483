package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

type alwaysOpenBreaker struct{ open bool }

func (b alwaysOpenBreaker) Allow(name string) bool { return !b.open }

func TestCategoryPolicyShouldRetry(t *testing.T) {
	p := NewCategoryPolicy(nil, alwaysOpenBreaker{open: false}, nil, nil)
	p.SetCategory("runtime", CategoryConfig{
		MaxAttempts: 3,
		Strategy:    StrategyExponential,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    100 * time.Millisecond,
		MaxDuration: time.Second,
		Factor:      2.0,
	})

	if p.ShouldRetry("runtime", nil, 1, 0) {
		t.Fatalf("nil error should never retry")
	}
	if !p.ShouldRetry("runtime", errors.New("boom"), 1, 0) {
		t.Fatalf("expected retry on attempt 1 of 3")
	}
	if p.ShouldRetry("runtime", errors.New("boom"), 3, 0) {
		t.Fatalf("expected no retry once attempts exhausted")
	}
	if p.ShouldRetry("runtime", errors.New("boom"), 1, 2*time.Second) {
		t.Fatalf("expected no retry once maxDuration exceeded")
	}
}

func TestCategoryPolicyBreakerOpenBlocksRetry(t *testing.T) {
	p := NewCategoryPolicy(nil, alwaysOpenBreaker{open: true}, nil, nil)
	p.SetCategory("runtime", DefaultCategoryConfig())
	if p.ShouldRetry("runtime", errors.New("boom"), 1, 0) {
		t.Fatalf("expected breaker-open category to block retry")
	}
}

func TestCategoryPolicyNextDelayRespectsStrategy(t *testing.T) {
	p := NewCategoryPolicy(nil, nil, nil, nil)
	p.SetCategory("immediate", CategoryConfig{Strategy: StrategyImmediate, BaseDelay: 50 * time.Millisecond})
	if d := p.NextDelay("immediate", 1); d != 0 {
		t.Fatalf("expected zero delay for immediate strategy, got %v", d)
	}

	p.SetCategory("linear", CategoryConfig{Strategy: StrategyLinear, BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second})
	d2 := p.NextDelay("linear", 2)
	if d2 < 20*time.Millisecond || d2 > 22*time.Millisecond {
		t.Fatalf("expected ~20ms+jitter for linear attempt 2, got %v", d2)
	}
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	p := NewCategoryPolicy(nil, nil, nil, nil)
	p.SetCategory("runtime", CategoryConfig{
		MaxAttempts: 3,
		Strategy:    StrategyExponential,
		BaseDelay:   1 * time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		MaxDuration: time.Second,
		Factor:      2.0,
	})

	calls := 0
	result, attempts, err := Execute(context.Background(), p, "runtime", func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if result != "ok" || attempts != 3 {
		t.Fatalf("expected 3 attempts ending in ok, got attempts=%d result=%q", attempts, result)
	}
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	p := NewCategoryPolicy(nil, nil, nil, nil)
	p.SetCategory("runtime", CategoryConfig{
		MaxAttempts: 2,
		Strategy:    StrategyImmediate,
		MaxDuration: time.Second,
	})

	calls := 0
	_, attempts, err := Execute(context.Background(), p, "runtime", func() (string, error) {
		calls++
		return "", errors.New("persistent")
	})
	if err == nil {
		t.Fatalf("expected error after exhausting attempts")
	}
	if attempts != 2 || calls != 2 {
		t.Fatalf("expected exactly maxAttempts calls, got calls=%d attempts=%d", calls, attempts)
	}
}
