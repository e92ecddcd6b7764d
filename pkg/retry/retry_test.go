package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SuccessOnFirstAttempt(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastConfig(3), func() error {
		attempts++
		return nil
	})
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestRetry_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastConfig(3), func() error {
		attempts++
		if attempts < 3 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got: %d", attempts)
	}
}

func TestRetry_GivesUp(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastConfig(3), func() error {
		attempts++
		return errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Errorf("Expected wrapped transient error, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got: %d", attempts)
	}
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	attempts := 0
	rejected := errors.New("rejected")
	err := Retry(context.Background(), fastConfig(5), func() error {
		attempts++
		return Permanent(rejected)
	})
	if err != rejected {
		t.Errorf("Expected unwrapped permanent error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestRetry_ContextCancelledDuringWait(t *testing.T) {
	cfg := fastConfig(5)
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := Retry(ctx, cfg, func() error { return errTransient })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline error, got: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("Retry did not stop on cancellation")
	}
}

func TestDo_ReturnsResult(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastConfig(2), func() (string, error) {
		calls++
		if calls == 1 {
			return "", errTransient
		}
		return "token", nil
	})
	if err != nil || got != "token" {
		t.Errorf("Do() = %q, %v", got, err)
	}
}

func TestBackoff(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for attempt, w := range want {
		if got := Backoff(cfg, attempt); got != w {
			t.Errorf("Backoff(%d) = %s, want %s", attempt, got, w)
		}
	}

	cfg.Jitter = true
	for i := 0; i < 50; i++ {
		got := Backoff(cfg, 0)
		if got < 75*time.Millisecond || got >= 125*time.Millisecond {
			t.Fatalf("jittered delay %s out of range", got)
		}
	}
}

func TestIsPermanent(t *testing.T) {
	if !IsPermanent(Permanent(errTransient)) {
		t.Error("expected permanent")
	}
	if IsPermanent(errTransient) {
		t.Error("plain error reported permanent")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}
