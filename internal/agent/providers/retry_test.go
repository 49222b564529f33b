package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/aide/internal/agent"
	"github.com/haasonsaas/aide/internal/backoff"
)

type flakyProvider struct {
	failures int
	calls    int
	err      error
}

func (p *flakyProvider) Name() string { return "flaky" }

func (p *flakyProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, p.err
	}
	return &agent.CompletionResponse{Content: "ok"}, nil
}

func fastPolicy() backoff.Policy {
	return backoff.Policy{Initial: time.Millisecond, Max: time.Millisecond, Factor: 1}
}

func TestWithRetryRecoversFromTransientFailure(t *testing.T) {
	inner := &flakyProvider{failures: 2, err: errors.New("overloaded")}
	p := WithRetry(inner, 3, WithRetryPolicy(fastPolicy()))

	resp, err := p.Complete(context.Background(), &agent.CompletionRequest{Model: "m"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Content != "ok" || inner.calls != 3 {
		t.Errorf("content = %q after %d calls", resp.Content, inner.calls)
	}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	inner := &flakyProvider{failures: 10, err: errors.New("overloaded")}
	p := WithRetry(inner, 3, WithRetryPolicy(fastPolicy()))

	if _, err := p.Complete(context.Background(), &agent.CompletionRequest{Model: "m"}); err == nil {
		t.Fatal("Complete() expected error after exhausting attempts")
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
}

func TestWithRetrySkipsNonRetryableErrors(t *testing.T) {
	inner := &flakyProvider{failures: 10, err: context.Canceled}
	p := WithRetry(inner, 3, WithRetryPolicy(fastPolicy()))

	_, err := p.Complete(context.Background(), &agent.CompletionRequest{Model: "m"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries)", inner.calls)
	}
}

func TestWithRetryCustomPredicate(t *testing.T) {
	sentinel := errors.New("invalid request")
	inner := &flakyProvider{failures: 10, err: sentinel}
	p := WithRetry(inner, 3,
		WithRetryPolicy(fastPolicy()),
		WithRetryable(func(err error) bool { return !errors.Is(err, sentinel) }))

	if _, err := p.Complete(context.Background(), &agent.CompletionRequest{Model: "m"}); !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1", inner.calls)
	}
}
