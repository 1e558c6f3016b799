package limits

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy is the single retry shape used everywhere a call may be
// rate-limited: bounded attempts, exponential delay, and a predicate
// deciding which errors are worth another attempt.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Retryable   func(error) bool
	// OnRetry is invoked before each sleep, for logging. Optional.
	OnRetry func(attempt int, wait time.Duration, err error)
	// sleep is swapped out in tests.
	sleep func(context.Context, time.Duration) error
}

// DefaultRetryPolicy mirrors the upstream throttling schedule: three
// attempts with 15s/30s waits between them.
func DefaultRetryPolicy(retryable func(error) bool) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   15 * time.Second,
		MaxDelay:    2 * time.Minute,
		Retryable:   retryable,
	}
}

// WithRetry runs fn under the policy and surfaces the last error once
// attempts are exhausted or the error is classified non-retryable.
func WithRetry(ctx context.Context, policy RetryPolicy, fn func(context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := policy.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		last = fn(ctx)
		if last == nil {
			return nil
		}
		if policy.Retryable == nil || !policy.Retryable(last) {
			return last
		}
		if attempt == attempts {
			break
		}
		wait := backoff(policy, attempt)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, wait, last)
		}
		if err := sleep(ctx, wait); err != nil {
			return last
		}
	}
	return last
}

// backoff doubles per attempt (15s, 30s, 60s, ...) plus up to 10%
// jitter, capped at MaxDelay.
func backoff(policy RetryPolicy, attempt int) time.Duration {
	base := policy.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	wait := base
	for i := 1; i < attempt; i++ {
		wait *= 2
		if policy.MaxDelay > 0 && wait >= policy.MaxDelay {
			break
		}
	}
	if policy.MaxDelay > 0 && wait > policy.MaxDelay {
		wait = policy.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(wait)/10 + 1))
	return wait + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
