// Package backoff provides exponential backoff with jitter for retrying
// flaky upstream calls, primarily LLM provider requests.
package backoff

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrAttemptsExhausted is returned when every retry attempt has failed.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Policy defines the exponential backoff curve.
type Policy struct {
	// Initial is the delay before the second attempt.
	Initial time.Duration
	// Max caps the delay between attempts.
	Max time.Duration
	// Factor is the exponential growth factor per attempt.
	Factor float64
	// Jitter is the randomization fraction (0.0 to 1.0) added to each delay.
	Jitter float64
}

// DefaultPolicy is tuned for LLM API rate limits: 500ms initial, 30s cap.
func DefaultPolicy() Policy {
	return Policy{
		Initial: 500 * time.Millisecond,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.2,
	}
}

// Delay computes the backoff duration before the given attempt retries.
// Attempts are 1-indexed: Delay(1) is the pause after the first failure.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

func (p Policy) delayWithRand(attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	jitter := base * p.Jitter * randomValue
	total := math.Min(float64(p.Max), base+jitter)
	return time.Duration(total)
}

// Sleep pauses for the attempt's backoff delay, returning early with
// ctx.Err() if the context is cancelled.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	d := p.Delay(attempt)
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

// Retry runs fn up to maxAttempts times, sleeping between failures per the
// policy. It returns fn's first success, the context error if cancelled
// mid-wait, or ErrAttemptsExhausted joined with the last failure.
func Retry[T any](ctx context.Context, policy Policy, maxAttempts int, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		value, err := fn(attempt)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if attempt < maxAttempts {
			if err := policy.Sleep(ctx, attempt); err != nil {
				return zero, err
			}
		}
	}
	return zero, errors.Join(ErrAttemptsExhausted, lastErr)
}
