package oracle

import (
	"context"
	"time"
)

// RetryPolicy controls retries of transient failures
type RetryPolicy struct {
	MaxAttempts int           // Total attempts including the first
	BaseDelay   time.Duration // Delay before the second attempt, doubled afterwards
	MaxDelay    time.Duration // Upper bound for a single delay (0 = none)
}

// DefaultRetryPolicy matches the retry behaviour used for link validation: 3 attempts, 1s/2s backoff
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// retrySleepFunc waits between attempts (injectable for tests)
var retrySleepFunc = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff returns the delay before attempt n (n >= 1 is the first retry)
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay << uint(n-1)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	return d
}

// Retry calls fn until it succeeds, fails permanently, or attempts run out.
// Only errors for which IsTransient holds are retried.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if sleepErr := retrySleepFunc(ctx, p.Backoff(attempt)); sleepErr != nil {
				return err
			}
		}
		err = fn(ctx)
		if err == nil || !IsTransient(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}
