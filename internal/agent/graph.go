package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/aide/internal/observability"
	"github.com/haasonsaas/aide/internal/rag"
	"github.com/haasonsaas/aide/pkg/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ContextPlaceholder is the token in an assistant's instructions that
// retrieved document context replaces.
const ContextPlaceholder = "{context}"

const (
	contextOpen  = "<context>"
	contextClose = "</context>"

	defaultMaxIterations  = 10
	defaultDocumentSep    = "\n\n"
	defaultRetrievalLimit = 4

	condenseInstructions = "Given a chat history and the latest user question " +
		"which might reference context in the chat history, formulate a standalone " +
		"question which can be understood without the chat history. Do NOT answer " +
		"the question, just reformulate it if needed and otherwise return it as is."

	structuredOutputInstructions = "Render a response to the conversation above " +
		"as a single JSON document conforming to the required schema. Output only " +
		"the JSON document."
)

// ErrMaxIterations is returned when the agent loop hits its iteration
// bound without producing a final answer.
var ErrMaxIterations = errors.New("agent loop exceeded maximum iterations")

// ConfigError reports an assistant misconfiguration. It is fatal to the
// run that surfaces it and is never retried.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "assistant misconfigured: " + e.Reason
}

// History is the persistence surface the graph flushes messages through.
// threads.Store satisfies it.
type History interface {
	GetMessages(ctx context.Context, threadID string) ([]*models.Message, error)
	AddMessages(ctx context.Context, threadID string, msgs []*models.Message) error
}

// GraphConfig assembles one runnable agent: a provider, a prompt, a tool
// set, and the optional retrieval and structured-output stages.
type GraphConfig struct {
	Provider     LLMProvider
	Model        string
	Temperature  float32
	MaxTokens    int
	Instructions string
	Tools        *Toolset

	// UseRetrieval enables the retrieve stage. Instructions must then
	// contain ContextPlaceholder, and Retriever must be set.
	UseRetrieval      bool
	Retriever         rag.Retriever
	RetrievalLimit    int
	DocumentSeparator string

	// StructuredOutput, when set, is a JSON schema the final answer
	// must conform to. Tool calling and schema-constrained output are
	// mutually exclusive per call, so the schema is applied in one
	// extra terminal call.
	StructuredOutput json.RawMessage

	ToolConcurrency int
	MaxIterations   int
	Logger          *slog.Logger
	Metrics         *observability.Metrics
}

// Graph drives one assistant invocation through its stages:
// setup, history, optional retrieve, then agent/tools rounds until the
// model stops calling tools, then respond.
type Graph struct {
	cfg      GraphConfig
	executor *Executor
	schema   *jsonschema.Schema
	logger   *slog.Logger
}

// NewGraph validates the configuration and compiles the structured output
// schema if present.
func NewGraph(cfg GraphConfig) (*Graph, error) {
	if cfg.Provider == nil {
		return nil, &ConfigError{Reason: "no LLM provider configured"}
	}
	if cfg.Model == "" {
		return nil, &ConfigError{Reason: "no model configured"}
	}
	if cfg.UseRetrieval && !strings.Contains(cfg.Instructions, ContextPlaceholder) {
		return nil, &ConfigError{Reason: fmt.Sprintf(
			"retrieval is enabled but instructions lack the %s placeholder", ContextPlaceholder)}
	}
	if cfg.Tools == nil {
		cfg.Tools = &Toolset{byKey: map[string]Tool{}}
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.RetrievalLimit <= 0 {
		cfg.RetrievalLimit = defaultRetrievalLimit
	}
	if cfg.DocumentSeparator == "" {
		cfg.DocumentSeparator = defaultDocumentSep
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	g := &Graph{
		cfg: cfg,
		executor: NewExecutor(cfg.Tools,
			WithConcurrency(cfg.ToolConcurrency),
			WithExecutorLogger(cfg.Logger),
			WithExecutorMetrics(cfg.Metrics)),
		logger: cfg.Logger,
	}
	if len(cfg.StructuredOutput) > 0 {
		schema, err := jsonschema.CompileString("output.schema.json", string(cfg.StructuredOutput))
		if err != nil {
			return nil, &ConfigError{Reason: fmt.Sprintf("invalid structured output schema: %v", err)}
		}
		g.schema = schema
	}
	return g, nil
}

// RunRequest is one invocation of the graph. History may be nil for
// ephemeral runs, e.g. when an assistant executes as another assistant's
// tool.
type RunRequest struct {
	ThreadID string
	Input    string
	History  History
}

// RunResult is the outcome of a completed run.
type RunResult struct {
	Output       string
	Messages     []*models.Message
	Iterations   int
	InputTokens  int
	OutputTokens int
}

type phase int

const (
	phaseSetup phase = iota
	phaseHistory
	phaseRetrieve
	phaseAgent
	phaseTools
	phaseRespond
	phaseDone
)

type runState struct {
	msgs       []*models.Message
	pending    []*models.Message
	resolved   map[string]bool
	system     *models.Message
	historyLen int
	lastCalls  []models.ToolCall
	result     RunResult
}

// Run executes the full loop and returns the final output together with
// the in-memory message trace.
func (g *Graph) Run(ctx context.Context, req *RunRequest) (*RunResult, error) {
	if g.cfg.UseRetrieval && g.cfg.Retriever == nil {
		return nil, &ConfigError{Reason: "retrieval is enabled but no retriever is configured"}
	}

	st := &runState{resolved: map[string]bool{}}
	for ph := phaseSetup; ph != phaseDone; {
		var err error
		switch ph {
		case phaseSetup:
			ph, err = g.stepSetup(ctx, req, st)
		case phaseHistory:
			ph, err = g.stepHistory(ctx, req, st)
		case phaseRetrieve:
			ph, err = g.stepRetrieve(ctx, req, st)
		case phaseAgent:
			ph, err = g.stepAgent(ctx, req, st)
		case phaseTools:
			ph, err = g.stepTools(ctx, req, st)
		case phaseRespond:
			ph, err = g.stepRespond(ctx, req, st)
		}
		if err != nil {
			return nil, err
		}
	}

	st.result.Messages = st.msgs
	return &st.result, nil
}

func (g *Graph) stepSetup(ctx context.Context, req *RunRequest, st *runState) (phase, error) {
	st.system = models.NewSystemMessage(g.cfg.Instructions)
	if err := g.appendMessage(ctx, req, st, st.system); err != nil {
		return phaseDone, err
	}
	return phaseHistory, nil
}

func (g *Graph) stepHistory(ctx context.Context, req *RunRequest, st *runState) (phase, error) {
	if req.History != nil && req.ThreadID != "" {
		prior, err := req.History.GetMessages(ctx, req.ThreadID)
		if err != nil {
			return phaseDone, fmt.Errorf("load history: %w", err)
		}
		st.historyLen = len(prior)
		st.msgs = append(st.msgs, prior...)
	}
	if err := g.appendMessage(ctx, req, st, models.NewHumanMessage(req.Input)); err != nil {
		return phaseDone, err
	}
	if g.cfg.UseRetrieval {
		return phaseRetrieve, nil
	}
	return phaseAgent, nil
}

func (g *Graph) stepRetrieve(ctx context.Context, req *RunRequest, st *runState) (phase, error) {
	query := req.Input
	if st.historyLen > 0 {
		condensed, err := g.condenseQuestion(ctx, st)
		if err != nil {
			return phaseDone, fmt.Errorf("condense question: %w", err)
		}
		if condensed != "" {
			query = condensed
		}
	}

	docs, err := g.cfg.Retriever.Retrieve(ctx, query, g.cfg.RetrievalLimit)
	if err != nil {
		return phaseDone, fmt.Errorf("retrieve context: %w", err)
	}

	block := ""
	if len(docs) > 0 {
		parts := make([]string, len(docs))
		for i, doc := range docs {
			parts[i] = doc.Content
		}
		block = contextOpen + "\n" + strings.Join(parts, g.cfg.DocumentSeparator) + "\n" + contextClose
	}
	st.system.Content = strings.ReplaceAll(g.cfg.Instructions, ContextPlaceholder, block)
	return phaseAgent, nil
}

// condenseQuestion asks the model to rewrite the latest question so it
// stands alone without the prior turns.
func (g *Graph) condenseQuestion(ctx context.Context, st *runState) (string, error) {
	history := st.msgs[1:] // skip the system message
	resp, err := g.cfg.Provider.Complete(ctx, &CompletionRequest{
		Model:       g.cfg.Model,
		System:      condenseInstructions,
		Messages:    history,
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	st.result.InputTokens += resp.InputTokens
	st.result.OutputTokens += resp.OutputTokens
	return strings.TrimSpace(resp.Content), nil
}

func (g *Graph) stepAgent(ctx context.Context, req *RunRequest, st *runState) (phase, error) {
	st.result.Iterations++
	if st.result.Iterations > g.cfg.MaxIterations {
		return phaseDone, ErrMaxIterations
	}

	resp, err := g.cfg.Provider.Complete(ctx, &CompletionRequest{
		Model:       g.cfg.Model,
		System:      st.system.Content,
		Messages:    st.msgs[1:],
		Tools:       g.cfg.Tools.Tools(),
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
	})
	if err != nil {
		return phaseDone, fmt.Errorf("llm step: %w", err)
	}
	st.result.InputTokens += resp.InputTokens
	st.result.OutputTokens += resp.OutputTokens

	ai := models.NewAIMessage(resp.Content, resp.ToolCalls)
	if err := g.appendMessage(ctx, req, st, ai); err != nil {
		return phaseDone, err
	}
	if len(resp.ToolCalls) > 0 {
		st.lastCalls = resp.ToolCalls
		return phaseTools, nil
	}
	return phaseRespond, nil
}

func (g *Graph) stepTools(ctx context.Context, req *RunRequest, st *runState) (phase, error) {
	results := g.executor.ExecuteAll(ctx, st.lastCalls)
	for _, result := range results {
		st.resolved[result.ToolCallID] = true
		if err := g.appendMessage(ctx, req, st, models.NewToolMessage(result)); err != nil {
			return phaseDone, err
		}
	}
	st.lastCalls = nil
	return phaseAgent, nil
}

func (g *Graph) stepRespond(ctx context.Context, req *RunRequest, st *runState) (phase, error) {
	last := st.msgs[len(st.msgs)-1]
	if g.schema == nil {
		st.result.Output = last.Content
		return phaseDone, nil
	}

	if err := g.appendMessage(ctx, req, st, models.NewSystemMessage(structuredOutputInstructions)); err != nil {
		return phaseDone, err
	}
	resp, err := g.cfg.Provider.Complete(ctx, &CompletionRequest{
		Model:          g.cfg.Model,
		System:         st.system.Content,
		Messages:       st.msgs[1:],
		Temperature:    g.cfg.Temperature,
		MaxTokens:      g.cfg.MaxTokens,
		ResponseSchema: g.cfg.StructuredOutput,
	})
	if err != nil {
		return phaseDone, fmt.Errorf("structured output step: %w", err)
	}
	st.result.InputTokens += resp.InputTokens
	st.result.OutputTokens += resp.OutputTokens

	var value any
	if err := json.Unmarshal([]byte(resp.Content), &value); err != nil {
		return phaseDone, fmt.Errorf("structured output is not valid JSON: %w", err)
	}
	if err := g.schema.Validate(value); err != nil {
		return phaseDone, fmt.Errorf("structured output does not match schema: %w", err)
	}
	st.result.Output = resp.Content
	return phaseDone, nil
}

// appendMessage adds a message to the in-memory trace and flushes the
// persistable prefix to storage. System messages are never persisted, and
// an AI message waits in the queue until results for all of its tool
// calls exist, so a crash mid-loop leaves no half-finished turn stored.
func (g *Graph) appendMessage(ctx context.Context, req *RunRequest, st *runState, msg *models.Message) error {
	st.msgs = append(st.msgs, msg)
	st.pending = append(st.pending, msg)
	return g.flush(ctx, req, st)
}

func (g *Graph) flush(ctx context.Context, req *RunRequest, st *runState) error {
	if req.History == nil || req.ThreadID == "" {
		st.pending = nil
		return nil
	}

	var batch []*models.Message
	i := 0
	for ; i < len(st.pending); i++ {
		msg := st.pending[i]
		if msg.Role == models.RoleSystem {
			continue
		}
		if msg.Role == models.RoleAI && len(msg.PendingToolCalls(st.resolved)) > 0 {
			break
		}
		batch = append(batch, msg)
	}
	st.pending = st.pending[i:]
	if len(batch) == 0 {
		return nil
	}
	if err := req.History.AddMessages(ctx, req.ThreadID, batch); err != nil {
		return fmt.Errorf("persist messages: %w", err)
	}
	return nil
}
