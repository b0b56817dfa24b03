package retry

import (
	"context"
	"math"
	"time"
)

// Notify is called before each re-attempt with the upcoming attempt number
// (1-based), the attempt cap, the wait about to be taken, and the error that
// triggered the retry. It is how callers surface a transient "retrying..."
// status to the user.
type Notify func(attempt, maxAttempts int, wait time.Duration, err error)

// Do invokes op up to attempts times, waiting baseDelay * multiplier^n between
// tries. Every failure is retried the same way — there is no error
// classification and no jitter. After the last attempt the final error is
// returned as-is.
func Do[T any](ctx context.Context, attempts int, baseDelay time.Duration, multiplier float64, notify Notify, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if i == attempts-1 {
			break
		}

		wait := time.Duration(float64(baseDelay) * math.Pow(multiplier, float64(i)))
		if notify != nil {
			notify(i+2, attempts, wait, err)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
	}

	return zero, lastErr
}
