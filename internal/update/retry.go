package update

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds how a download is retried after a transfer interruption.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy returns three retries with capped exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   8 * time.Second,
	}
}

// sleepFunc waits between attempts; tests replace it.
var sleepFunc = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FetchWithRetry calls Fetch and retries transfer interruptions with backoff.
// Integrity failures and rejected requests are not retried. The last error is returned once
// retries run out.
func (d *Downloader) FetchWithRetry(ctx context.Context, desc ReleaseDescriptor, policy RetryPolicy, progress func(Progress)) (*DownloadHandle, error) {
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepFunc(ctx, ExponentialBackoff(attempt-1, policy.BaseDelay, policy.MaxDelay)); err != nil {
				return nil, err
			}
		}
		h, err := d.fetch(ctx, desc, attempt+1, progress)
		if err == nil {
			return h, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, ErrTransferInterrupted) || errors.Is(err, ErrArtifactRejected) {
			return nil, err
		}
	}
	return nil, lastErr
}

// backoffCeiling bounds a backoff when no MaxDelay is configured.
const backoffCeiling = time.Hour

// ExponentialBackoff calculates the backoff delay for a retry attempt.
func ExponentialBackoff(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	// baseDelay * 2^attempt, capped before converting so large attempts
	// cannot overflow time.Duration.
	delay := float64(baseDelay) * math.Pow(2, float64(attempt))
	if maxDelay > 0 && delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	if delay > float64(backoffCeiling) {
		delay = float64(backoffCeiling)
	}

	return Jitter(time.Duration(delay), 0.25)
}

// Jitter spreads d by up to ±fraction.
func Jitter(d time.Duration, fraction float64) time.Duration {
	if d <= 0 || fraction <= 0 {
		return d
	}
	spread := float64(d) * fraction
	offset := (rand.Float64()*2 - 1) * spread
	return time.Duration(float64(d) + offset)
}
