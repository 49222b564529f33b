package assistants

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/aide/internal/agent"
	"github.com/haasonsaas/aide/internal/observability"
	"github.com/haasonsaas/aide/internal/permissions"
	"github.com/haasonsaas/aide/internal/threads"
	"github.com/haasonsaas/aide/pkg/models"
)

// Service is the facade every caller goes through. It resolves assistant
// configurations, checks the permission gate before any mutation or
// sensitive read, and drives the agent graph for message creation.
type Service struct {
	registry *Registry
	store    threads.Store
	provider agent.LLMProvider
	gate     *permissions.Gate
	metrics  *observability.Metrics
	logger   *slog.Logger

	defaultMaxIterations   int
	defaultToolConcurrency int
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithGate replaces the default allow-all permission gate.
func WithGate(gate *permissions.Gate) ServiceOption {
	return func(s *Service) { s.gate = gate }
}

// WithMetrics enables run and token metrics.
func WithMetrics(metrics *observability.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = metrics }
}

// WithAgentDefaults sets fallback iteration and tool concurrency limits
// for assistants that do not specify their own.
func WithAgentDefaults(maxIterations, toolConcurrency int) ServiceOption {
	return func(s *Service) {
		s.defaultMaxIterations = maxIterations
		s.defaultToolConcurrency = toolConcurrency
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService wires the facade. provider is the default LLM backend for
// assistants that do not name their own.
func NewService(registry *Registry, store threads.Store, provider agent.LLMProvider, opts ...ServiceOption) *Service {
	s := &Service{
		registry: registry,
		store:    store,
		provider: provider,
		gate:     permissions.AllowAll(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AssistantSummary is the externally visible shape of a registered
// assistant.
type AssistantSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListAssistants returns the assistants the actor may use, in
// registration order.
func (s *Service) ListAssistants(ctx context.Context, actor *models.Actor) []AssistantSummary {
	var out []AssistantSummary
	for _, cfg := range s.registry.List() {
		if !s.gate.CanRunAssistant(actor, cfg.ID) {
			continue
		}
		out = append(out, AssistantSummary{ID: cfg.ID, Name: cfg.Name})
	}
	return out
}

// GetAssistant returns one assistant summary.
func (s *Service) GetAssistant(ctx context.Context, actor *models.Actor, assistantID string) (*AssistantSummary, error) {
	cfg, err := s.registry.Get(assistantID)
	if err != nil {
		return nil, err
	}
	if !s.gate.CanRunAssistant(actor, cfg.ID) {
		return nil, notAllowed("User is not allowed to use this assistant")
	}
	return &AssistantSummary{ID: cfg.ID, Name: cfg.Name}, nil
}

// CreateThread creates a conversation thread owned by the actor.
func (s *Service) CreateThread(ctx context.Context, actor *models.Actor, name, assistantID string) (*models.Thread, error) {
	if !s.gate.CanCreateThread(actor) {
		return nil, notAllowed("User is not allowed to create threads")
	}
	if assistantID != "" {
		if _, err := s.registry.Get(assistantID); err != nil {
			return nil, err
		}
	}
	thread := &models.Thread{Name: name, AssistantID: assistantID}
	if actor != nil {
		thread.CreatedBy = actor.ID
	}
	if err := s.store.CreateThread(ctx, thread); err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	return thread, nil
}

// GetThread returns one thread the actor may view.
func (s *Service) GetThread(ctx context.Context, actor *models.Actor, threadID string) (*models.Thread, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !s.gate.CanViewThread(actor, thread) {
		return nil, notAllowed("User is not allowed to view this thread")
	}
	return thread, nil
}

// ListThreads returns the actor's own threads, newest first.
func (s *Service) ListThreads(ctx context.Context, actor *models.Actor, opts threads.ListOptions) ([]*models.Thread, error) {
	if actor == nil {
		return nil, nil
	}
	return s.store.ListThreads(ctx, actor.ID, opts)
}

// UpdateThread renames a thread.
func (s *Service) UpdateThread(ctx context.Context, actor *models.Actor, threadID, name string) (*models.Thread, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !s.gate.CanUpdateThread(actor, thread) {
		return nil, notAllowed("User is not allowed to update this thread")
	}
	thread.Name = name
	if err := s.store.UpdateThread(ctx, thread); err != nil {
		return nil, fmt.Errorf("update thread: %w", err)
	}
	return thread, nil
}

// DeleteThread removes a thread and all of its messages.
func (s *Service) DeleteThread(ctx context.Context, actor *models.Actor, threadID string) error {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return err
	}
	if !s.gate.CanDeleteThread(actor, thread) {
		return notAllowed("User is not allowed to delete this thread")
	}
	return s.store.DeleteThread(ctx, threadID)
}

// ListMessages returns a thread's messages in conversation order.
func (s *Service) ListMessages(ctx context.Context, actor *models.Actor, threadID string) ([]*models.Message, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !s.gate.CanViewThread(actor, thread) {
		return nil, notAllowed("User is not allowed to view messages in this thread")
	}
	return s.store.GetMessages(ctx, threadID)
}

// DeleteMessage removes one message from a thread.
func (s *Service) DeleteMessage(ctx context.Context, actor *models.Actor, threadID, messageID string) error {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return err
	}
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if !s.gate.CanDeleteMessage(actor, thread, msg) {
		return notAllowed("User is not allowed to delete this message")
	}
	return s.store.RemoveMessages(ctx, threadID, []string{messageID})
}

// RunOutput is the result of creating a message: the assistant's final
// answer plus the full in-memory trace of the run.
type RunOutput struct {
	Output   string
	Messages []*models.Message
}

// CreateMessage appends a human message to a thread and drives the
// assistant loop to produce and persist the reply. assistantID may be
// empty when the thread is bound to an assistant.
func (s *Service) CreateMessage(ctx context.Context, actor *models.Actor, threadID, assistantID, content string) (*RunOutput, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !s.gate.CanCreateMessage(actor, thread) {
		return nil, notAllowed("User is not allowed to create messages in this thread")
	}

	if assistantID == "" {
		assistantID = thread.AssistantID
	}
	cfg, err := s.registry.Get(assistantID)
	if err != nil {
		return nil, err
	}
	if !s.gate.CanRunAssistant(actor, cfg.ID) {
		return nil, notAllowed("User is not allowed to use this assistant")
	}

	graph, err := s.buildGraph(cfg, &Invocation{Actor: actor, Thread: thread})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := graph.Run(WithActor(ctx, actor), &agent.RunRequest{
		ThreadID: threadID,
		Input:    content,
		History:  s.store,
	})
	elapsed := time.Since(start)
	if err != nil {
		s.metrics.RecordRun(cfg.ID, "error", elapsed.Seconds())
		s.logger.Error("assistant run failed",
			"assistant", cfg.ID, "thread", threadID, "error", err)
		return nil, err
	}
	s.metrics.RecordRun(cfg.ID, "success", elapsed.Seconds())
	s.metrics.RecordTokens(s.providerFor(cfg).Name(), cfg.Model, result.InputTokens, result.OutputTokens)
	s.logger.Info("assistant run completed",
		"assistant", cfg.ID, "thread", threadID,
		"iterations", result.Iterations, "duration", elapsed)

	return &RunOutput{Output: result.Output, Messages: result.Messages}, nil
}

// RunEphemeral executes an assistant without thread persistence. Used
// for assistant-as-tool composition and one-shot invocations.
func (s *Service) RunEphemeral(ctx context.Context, actor *models.Actor, assistantID, input string) (*RunOutput, error) {
	cfg, err := s.registry.Get(assistantID)
	if err != nil {
		return nil, err
	}
	if !s.gate.CanRunAssistant(actor, cfg.ID) {
		return nil, notAllowed("User is not allowed to use this assistant")
	}

	graph, err := s.buildGraph(cfg, &Invocation{Actor: actor})
	if err != nil {
		return nil, err
	}
	result, err := graph.Run(ctx, &agent.RunRequest{Input: input})
	if err != nil {
		return nil, err
	}
	return &RunOutput{Output: result.Output, Messages: result.Messages}, nil
}

func (s *Service) providerFor(cfg *Config) agent.LLMProvider {
	if cfg.Provider != nil {
		return cfg.Provider
	}
	return s.provider
}

// buildGraph assembles a graph for one invocation. The tool factory runs
// fresh each time so concurrent invocations of the same assistant never
// share tool instances.
func (s *Service) buildGraph(cfg *Config, inv *Invocation) (*agent.Graph, error) {
	toolset, err := agent.NewToolset()
	if err != nil {
		return nil, err
	}
	if cfg.Tools != nil {
		tools, err := cfg.Tools(inv)
		if err != nil {
			return nil, fmt.Errorf("build tools for assistant %s: %w", cfg.ID, err)
		}
		for _, tool := range tools {
			if err := toolset.Add(tool); err != nil {
				return nil, fmt.Errorf("assistant %s: %w", cfg.ID, err)
			}
		}
	}

	maxIterations := cfg.MaxIterations
	if maxIterations == 0 {
		maxIterations = s.defaultMaxIterations
	}
	toolConcurrency := cfg.ToolConcurrency
	if toolConcurrency == 0 {
		toolConcurrency = s.defaultToolConcurrency
	}

	return agent.NewGraph(agent.GraphConfig{
		Provider:          s.providerFor(cfg),
		Model:             cfg.Model,
		Temperature:       cfg.Temperature,
		MaxTokens:         cfg.MaxTokens,
		Instructions:      cfg.Instructions,
		Tools:             toolset,
		UseRetrieval:      cfg.UseRetrieval,
		Retriever:         cfg.Retriever,
		RetrievalLimit:    cfg.RetrievalLimit,
		DocumentSeparator: cfg.DocumentSeparator,
		StructuredOutput:  cfg.StructuredOutput,
		ToolConcurrency:   toolConcurrency,
		MaxIterations:     maxIterations,
		Logger:            s.logger,
		Metrics:           s.metrics,
	})
}
