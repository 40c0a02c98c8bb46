package collector

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy bounds the attempts made for one node call.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// withRetry calls fn until it succeeds, doubling the delay between attempts.
// It gives up after MaxRetries retries or when ctx is done.
func withRetry[T any](ctx context.Context, policy RetryPolicy, logger *zap.Logger, op string, fn func(context.Context) (T, error)) (T, error) {
	maxRetries := policy.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	delay := policy.Backoff
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	for attempt := 0; ; attempt++ {
		value, err := fn(ctx)
		if err == nil {
			return value, nil
		}
		if ctx.Err() != nil {
			return value, ctx.Err()
		}
		if attempt >= maxRetries {
			return value, err
		}
		logger.Warn(op+" failed, retrying", zap.Error(err), zap.Int("attempt", attempt+1), zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			var zero T
			return zero, ctx.Err()
		case <-timer.C:
		}

		delay *= 2
	}
}
