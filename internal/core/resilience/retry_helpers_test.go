package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWaitWithContextCompletes(t *testing.T) {
	ctx := context.Background()
	delay := 50 * time.Millisecond

	start := time.Now()
	completed := waitWithContext(ctx, delay)
	elapsed := time.Since(start)

	if !completed {
		t.Error("expected wait to complete successfully")
	}
	if elapsed < delay {
		t.Errorf("expected wait to take at least %v, took %v", delay, elapsed)
	}
}

func TestWaitWithContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	completed := waitWithContext(ctx, time.Second)
	elapsed := time.Since(start)

	if completed {
		t.Error("expected wait to be cancelled")
	}
	if elapsed > 100*time.Millisecond {
		t.Errorf("expected fast cancellation, took %v", elapsed)
	}
}

func TestShouldRetryWithChecker(t *testing.T) {
	checker := &AlwaysRetryChecker{}
	if !shouldRetry(errors.New("any error"), checker) {
		t.Error("expected error to be retryable")
	}
}

func TestShouldRetryNilError(t *testing.T) {
	if shouldRetry(nil, nil) {
		t.Error("expected nil error to not be retryable")
	}
}
