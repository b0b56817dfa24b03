package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), 3, time.Millisecond, 2, nil, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if v != "ok" {
		t.Errorf("expected ok, got %q", v)
	}
	if calls != 3 {
		t.Errorf("expected 3 invocations, got %d", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	final := errors.New("still broken")
	_, err := Do(context.Background(), 4, time.Millisecond, 2, nil, func(ctx context.Context) (int, error) {
		calls++
		return 0, final
	})
	if calls != 4 {
		t.Errorf("expected exactly 4 invocations, got %d", calls)
	}
	if !errors.Is(err, final) {
		t.Errorf("expected the final error to propagate, got %v", err)
	}
}

func TestDoFirstAttemptSucceeds(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), 3, time.Second, 2, nil, func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("expected 42, got %d (%v)", v, err)
	}
	if calls != 1 {
		t.Errorf("expected 1 invocation, got %d", calls)
	}
}

func TestDoNotifiesWithExponentialDelay(t *testing.T) {
	var waits []time.Duration
	var attempts []int
	notify := func(attempt, max int, wait time.Duration, err error) {
		attempts = append(attempts, attempt)
		waits = append(waits, wait)
	}

	_, _ = Do(context.Background(), 3, 10*time.Millisecond, 2, notify, func(ctx context.Context) (int, error) {
		return 0, errors.New("nope")
	})

	// Two retries for three attempts.
	if len(waits) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(waits))
	}
	if waits[0] != 10*time.Millisecond || waits[1] != 20*time.Millisecond {
		t.Errorf("expected delays 10ms, 20ms, got %v", waits)
	}
	if attempts[0] != 2 || attempts[1] != 3 {
		t.Errorf("expected attempt numbers 2, 3, got %v", attempts)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := Do(ctx, 5, time.Minute, 2, nil, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected cancellation during first backoff wait, got %d calls", calls)
	}
}
