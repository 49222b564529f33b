package backoff

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestDelayGrowsExponentially(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Factor: 2}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := p.delayWithRand(tc.attempt, 0); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestDelayClampsToMax(t *testing.T) {
	p := Policy{Initial: time.Second, Max: 5 * time.Second, Factor: 10}
	if got := p.delayWithRand(4, 0); got != 5*time.Second {
		t.Errorf("Delay(4) = %v, want max 5s", got)
	}
}

func TestDelayJitterBounded(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: time.Minute, Factor: 2, Jitter: 0.5}
	base := 100 * time.Millisecond
	if got := p.delayWithRand(1, 1.0); got != base+base/2 {
		t.Errorf("full jitter delay = %v, want %v", got, base+base/2)
	}
	if got := p.delayWithRand(1, 0); got != base {
		t.Errorf("zero jitter delay = %v, want %v", got, base)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	p := Policy{Initial: time.Millisecond, Max: time.Millisecond, Factor: 1}
	calls := 0
	got, err := Retry(context.Background(), p, 5, func(attempt int) (string, error) {
		calls++
		if attempt < 3 {
			return "", fmt.Errorf("attempt %d failed", attempt)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls", got, calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	p := Policy{Initial: time.Millisecond, Max: time.Millisecond, Factor: 1}
	sentinel := errors.New("upstream down")
	_, err := Retry(context.Background(), p, 3, func(int) (int, error) {
		return 0, sentinel
	})
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("err = %v, want ErrAttemptsExhausted", err)
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want wrapped last failure", err)
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	p := Policy{Initial: time.Hour, Max: time.Hour, Factor: 1}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := Retry(ctx, p, 3, func(int) (int, error) {
		return 0, errors.New("always fails")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
