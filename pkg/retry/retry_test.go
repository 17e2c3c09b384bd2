package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return nil
	}, PollingConfig(3, time.Millisecond))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, PollingConfig(5, time.Millisecond))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	sentinel := errors.New("always fails")
	calls := 0

	err := Do(context.Background(), func() error {
		calls++
		return sentinel
	}, PollingConfig(3, time.Millisecond))

	if !errors.Is(err, sentinel) {
		t.Errorf("expected sentinel error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_RetryIfStopsEarly(t *testing.T) {
	permanent := errors.New("permanent failure")
	calls := 0

	cfg := PollingConfig(5, time.Millisecond)
	cfg.RetryIf = func(err error) bool { return false }

	err := Do(context.Background(), func() error {
		calls++
		return permanent
	}, cfg)

	if !errors.Is(err, permanent) {
		t.Errorf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", calls)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, func() error {
		return errors.New("should not matter")
	}, PollingConfig(3, time.Millisecond))

	if err == nil {
		t.Fatal("expected error after context cancellation")
	}
}

func TestDo_OnRetryCallback(t *testing.T) {
	var attempts []int

	cfg := PollingConfig(3, time.Millisecond)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}

	Do(context.Background(), func() error {
		return errors.New("fail")
	}, cfg)

	// 3 попытки = 2 retry (перед 2-й и 3-й попытками)
	if len(attempts) != 2 {
		t.Fatalf("OnRetry called %d times, want 2", len(attempts))
	}
	if attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("attempts = %v, want [1 2]", attempts)
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	result, err := DoWithResult(context.Background(), func() (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("transient")
		}
		return "filled", nil
	}, PollingConfig(3, time.Millisecond))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "filled" {
		t.Errorf("result = %q, want %q", result, "filled")
	}
}

func TestPollingConfig_FixedDelay(t *testing.T) {
	cfg := PollingConfig(4, 10*time.Millisecond)
	cfg.validate()

	// Без jitter и с множителем 1.0 все задержки одинаковы
	for attempt := 0; attempt < 3; attempt++ {
		delay := cfg.calculateDelay(attempt)
		if delay != 10*time.Millisecond {
			t.Errorf("calculateDelay(%d) = %v, want 10ms", attempt, delay)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("IsRetryable(nil) = true, want false")
	}

	if IsRetryable(Permanent(errors.New("no"))) {
		t.Error("IsRetryable(Permanent) = true, want false")
	}

	if !IsRetryable(Temporary(errors.New("yes"))) {
		t.Error("IsRetryable(Temporary) = false, want true")
	}

	// Обычная ошибка retry'ится по умолчанию
	if !IsRetryable(errors.New("plain")) {
		t.Error("IsRetryable(plain) = false, want true")
	}

	// Wrapped PermanentError тоже распознаётся
	wrapped := errors.Join(errors.New("ctx"), Permanent(errors.New("inner")))
	if IsRetryable(wrapped) {
		t.Error("IsRetryable(wrapped Permanent) = true, want false")
	}
}

func TestRetryIfNotContext(t *testing.T) {
	if RetryIfNotContext(context.Canceled) {
		t.Error("context.Canceled should not be retried")
	}
	if RetryIfNotContext(context.DeadlineExceeded) {
		t.Error("context.DeadlineExceeded should not be retried")
	}
	if !RetryIfNotContext(errors.New("network")) {
		t.Error("plain error should be retried")
	}
}
