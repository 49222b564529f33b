package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/aide/internal/observability"
	"github.com/haasonsaas/aide/pkg/models"
)

// Executor dispatches a batch of tool calls with bounded concurrency.
// Results come back in request order regardless of completion order, and
// a failing tool produces an error-flagged result rather than aborting
// the batch.
type Executor struct {
	tools       *Toolset
	concurrency int
	timeout     time.Duration
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithConcurrency sets the maximum number of tools running at once.
// The default of 1 executes calls sequentially in request order.
func WithConcurrency(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithToolTimeout bounds each individual tool execution.
func WithToolTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithExecutorLogger sets the logger used for per-call diagnostics.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithExecutorMetrics enables per-tool invocation counters.
func WithExecutorMetrics(metrics *observability.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = metrics }
}

// NewExecutor creates an executor over the given toolset.
func NewExecutor(tools *Toolset, opts ...ExecutorOption) *Executor {
	e := &Executor{
		tools:       tools,
		concurrency: 1,
		timeout:     2 * time.Minute,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteAll runs every call and returns one result per call, index-aligned
// with the input slice.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))
	if len(calls) == 0 {
		return results
	}

	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, call models.ToolCall) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = e.executeOne(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

func (e *Executor) executeOne(ctx context.Context, call models.ToolCall) (result models.ToolResult) {
	result.ToolCallID = call.ID

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool panicked", "tool", call.Name, "panic", r)
			result.Content = fmt.Sprintf("tool %s panicked: %v", call.Name, r)
			result.IsError = true
		}
		status := "success"
		if result.IsError {
			status = "error"
		}
		e.metrics.RecordTool(call.Name, status)
	}()

	tool := e.tools.Get(call.Name)
	if tool == nil {
		result.Content = fmt.Sprintf("unknown tool: %s", call.Name)
		result.IsError = true
		return result
	}

	execCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	content, err := tool.Execute(execCtx, call.Arguments)
	elapsed := time.Since(start)
	if err != nil {
		e.logger.Warn("tool failed", "tool", call.Name, "duration", elapsed, "error", err)
		result.Content = fmt.Sprintf("error executing tool %s: %v", call.Name, err)
		result.IsError = true
		return result
	}

	e.logger.Debug("tool executed", "tool", call.Name, "duration", elapsed)
	result.Content = content
	return result
}
