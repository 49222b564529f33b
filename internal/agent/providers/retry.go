package providers

import (
	"context"
	"errors"

	"github.com/haasonsaas/aide/internal/agent"
	"github.com/haasonsaas/aide/internal/backoff"
)

// retryProvider wraps a provider with exponential backoff for transient
// upstream failures such as rate limits and 5xx responses.
type retryProvider struct {
	inner       agent.LLMProvider
	policy      backoff.Policy
	maxAttempts int
	retryable   func(error) bool
}

// RetryOption configures a retrying provider.
type RetryOption func(*retryProvider)

// WithRetryPolicy overrides the default backoff curve.
func WithRetryPolicy(policy backoff.Policy) RetryOption {
	return func(p *retryProvider) { p.policy = policy }
}

// WithRetryable overrides the predicate deciding which errors get retried.
func WithRetryable(fn func(error) bool) RetryOption {
	return func(p *retryProvider) { p.retryable = fn }
}

// WithRetry wraps a provider so Complete retries transient failures up to
// maxAttempts times. Context cancellation always stops retrying.
func WithRetry(inner agent.LLMProvider, maxAttempts int, opts ...RetryOption) agent.LLMProvider {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	p := &retryProvider{
		inner:       inner,
		policy:      backoff.DefaultPolicy(),
		maxAttempts: maxAttempts,
		retryable:   defaultRetryable,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *retryProvider) Name() string { return p.inner.Name() }

func (p *retryProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := p.inner.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !p.retryable(err) || attempt == p.maxAttempts {
			break
		}
		if err := p.policy.Sleep(ctx, attempt); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func defaultRetryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
