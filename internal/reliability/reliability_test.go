package reliability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCircuitBreakerManagerGetBreakerIsStableByName(t *testing.T) {
	mgr := NewCircuitBreakerManager(DefaultCircuitConfig("default"))

	pics := mgr.GetBreaker("pics")
	again := mgr.GetBreaker("pics")
	if pics != again {
		t.Errorf("expected the same breaker instance for repeated calls with the same name")
	}

	captions := mgr.GetBreaker("captions")
	if pics == captions {
		t.Errorf("expected distinct breaker instances for distinct names")
	}
}

func TestCircuitBreakerManagerHealthChecksReflectsCreatedBreakers(t *testing.T) {
	mgr := NewCircuitBreakerManager(DefaultCircuitConfig("default"))
	mgr.GetBreaker("pics")
	mgr.GetBreaker("tags")

	checks := mgr.HealthChecks()
	if len(checks) != 2 {
		t.Fatalf("expected 2 health checks, got %d", len(checks))
	}
	for _, c := range checks {
		if !c.Healthy || c.State != "closed" {
			t.Errorf("expected a freshly created breaker to report closed/healthy, got %+v", c)
		}
	}
}

func TestCircuitBreakerManagerHealthChecksEmptyBeforeAnyUse(t *testing.T) {
	mgr := NewCircuitBreakerManager(DefaultCircuitConfig("default"))
	if checks := mgr.HealthChecks(); len(checks) != 0 {
		t.Errorf("expected no health checks before any breaker is created, got %v", checks)
	}
}

func TestRetryWithResultReturnsOnFirstSuccess(t *testing.T) {
	var attempts int
	result, err := RetryWithResult(context.Background(), DefaultRetryConfig(), func() (int, error) {
		attempts++
		return 7, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 7 || attempts != 1 {
		t.Errorf("result = %d, attempts = %d, want 7, 1", result, attempts)
	}
}

func TestRetryWithResultStopsOnNonRetryableError(t *testing.T) {
	sentinel := errors.New("terminal")
	cfg := DefaultRetryConfig()
	cfg.RetryableCheck = func(err error) bool { return false }
	cfg.InitialDelay = time.Millisecond

	var attempts int
	_, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		attempts++
		return 0, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("expected the sentinel error to surface unwrapped, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected exactly one attempt for a non-retryable error, got %d", attempts)
	}
}

func TestRetryWithResultExhaustsRetries(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.MaxRetries = 2
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond

	var attempts int
	_, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		attempts++
		return 0, errors.New("still failing")
	})
	if !errors.Is(err, ErrMaxRetries) {
		t.Errorf("expected ErrMaxRetries, got %v", err)
	}
	if attempts != cfg.MaxRetries+1 {
		t.Errorf("attempts = %d, want %d", attempts, cfg.MaxRetries+1)
	}
}
