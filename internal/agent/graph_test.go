package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/haasonsaas/aide/internal/rag"
	"github.com/haasonsaas/aide/internal/threads"
	"github.com/haasonsaas/aide/pkg/models"
)

// scriptedProvider replays a fixed sequence of completions and records
// every request it receives.
type scriptedProvider struct {
	responses []*CompletionResponse
	requests  []*CompletionRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	p.requests = append(p.requests, req)
	if len(p.responses) == 0 {
		return nil, fmt.Errorf("unexpected LLM call %d", len(p.requests))
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

type scriptedRetriever struct {
	queries []string
	docs    []rag.Document
}

func (r *scriptedRetriever) Retrieve(ctx context.Context, query string, limit int) ([]rag.Document, error) {
	r.queries = append(r.queries, query)
	return r.docs, nil
}

func weatherTool(t *testing.T) *Toolset {
	t.Helper()
	tool := &ToolFunc{
		ToolName:        "fetch_current_weather",
		ToolDescription: "Fetch the current weather data for a location",
		ToolSchema:      json.RawMessage(`{"type":"object","properties":{"location":{"type":"string"}}}`),
		Fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "32 degrees Celsius", nil
		},
	}
	return scriptedToolset(t, tool)
}

func TestGraphToolRoundTripPersistsFullTrace(t *testing.T) {
	ctx := context.Background()
	store := threads.NewMemoryStore()
	thread := &models.Thread{Name: "weather", CreatedBy: "user-1"}
	if err := store.CreateThread(ctx, thread); err != nil {
		t.Fatalf("CreateThread() error = %v", err)
	}

	provider := &scriptedProvider{responses: []*CompletionResponse{
		{ToolCalls: []models.ToolCall{{
			ID:        "call-1",
			Name:      "fetch_current_weather",
			Arguments: json.RawMessage(`{"location":"Recife"}`),
		}}},
		{Content: "The current temperature in Recife today is 32 degrees Celsius."},
	}}
	graph, err := NewGraph(GraphConfig{
		Provider:     provider,
		Model:        "test-model",
		Instructions: "You are a weather bot.",
		Tools:        weatherTool(t),
	})
	if err != nil {
		t.Fatalf("NewGraph() error = %v", err)
	}

	result, err := graph.Run(ctx, &RunRequest{
		ThreadID: thread.ID,
		Input:    "What is the temperature today in Recife?",
		History:  store,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Output != "The current temperature in Recife today is 32 degrees Celsius." {
		t.Errorf("Output = %q", result.Output)
	}
	if result.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", result.Iterations)
	}

	stored, err := store.GetMessages(ctx, thread.ID)
	if err != nil {
		t.Fatalf("GetMessages() error = %v", err)
	}
	wantRoles := []models.Role{models.RoleHuman, models.RoleAI, models.RoleTool, models.RoleAI}
	if len(stored) != len(wantRoles) {
		t.Fatalf("stored %d messages, want %d: %+v", len(stored), len(wantRoles), stored)
	}
	for i, msg := range stored {
		if msg.Role != wantRoles[i] {
			t.Errorf("stored message %d role = %q, want %q", i, msg.Role, wantRoles[i])
		}
		if msg.ID == "" {
			t.Errorf("stored message %d has no identifier", i)
		}
	}
	if !stored[1].HasToolCalls() {
		t.Error("intermediate AI message lost its tool calls")
	}
	if stored[2].Content != "32 degrees Celsius" {
		t.Errorf("tool message content = %q", stored[2].Content)
	}
	if stored[2].ToolCallID != "call-1" {
		t.Errorf("tool message call id = %q", stored[2].ToolCallID)
	}
}

func TestGraphToolErrorDegradesToErrorResult(t *testing.T) {
	failing := &ToolFunc{
		ToolName:   "broken",
		ToolSchema: json.RawMessage(`{"type":"object"}`),
		Fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "", errors.New("upstream unavailable")
		},
	}
	provider := &scriptedProvider{responses: []*CompletionResponse{
		{ToolCalls: []models.ToolCall{{ID: "call-1", Name: "broken"}}},
		{Content: "I could not fetch that."},
	}}
	graph, err := NewGraph(GraphConfig{
		Provider:     provider,
		Model:        "test-model",
		Instructions: "You are helpful.",
		Tools:        scriptedToolset(t, failing),
	})
	if err != nil {
		t.Fatalf("NewGraph() error = %v", err)
	}

	result, err := graph.Run(context.Background(), &RunRequest{Input: "try the tool"})
	if err != nil {
		t.Fatalf("Run() error = %v, want loop to survive tool failure", err)
	}
	if result.Output != "I could not fetch that." {
		t.Errorf("Output = %q", result.Output)
	}

	var toolMsg *models.Message
	for _, msg := range result.Messages {
		if msg.Role == models.RoleTool {
			toolMsg = msg
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool message in trace")
	}
	if !toolMsg.IsError || !strings.Contains(toolMsg.Content, "upstream unavailable") {
		t.Errorf("tool error not captured: %+v", toolMsg)
	}
}

func TestGraphRetrievalRequiresPlaceholder(t *testing.T) {
	_, err := NewGraph(GraphConfig{
		Provider:     &scriptedProvider{},
		Model:        "test-model",
		Instructions: "You are a tour guide.",
		UseRetrieval: true,
		Retriever:    &scriptedRetriever{},
	})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestGraphRetrievalRequiresRetriever(t *testing.T) {
	graph, err := NewGraph(GraphConfig{
		Provider:     &scriptedProvider{responses: []*CompletionResponse{{Content: "hi"}}},
		Model:        "test-model",
		Instructions: "Use this context: {context}",
		UseRetrieval: true,
	})
	if err != nil {
		t.Fatalf("NewGraph() error = %v", err)
	}
	_, err = graph.Run(context.Background(), &RunRequest{Input: "hello"})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError at invocation, got %v", err)
	}
}

func TestGraphRetrievalSplicesContext(t *testing.T) {
	retriever := &scriptedRetriever{docs: []rag.Document{
		{ID: "1", Content: "The Eiffel Tower is 330 metres tall."},
		{ID: "2", Content: "It opened in 1889."},
	}}
	provider := &scriptedProvider{responses: []*CompletionResponse{
		{Content: "It is 330 metres tall."},
	}}
	graph, err := NewGraph(GraphConfig{
		Provider:     provider,
		Model:        "test-model",
		Instructions: "You are a tour guide.\n{context}",
		UseRetrieval: true,
		Retriever:    retriever,
	})
	if err != nil {
		t.Fatalf("NewGraph() error = %v", err)
	}

	if _, err := graph.Run(context.Background(), &RunRequest{Input: "How tall is the Eiffel Tower?"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(retriever.queries) != 1 || retriever.queries[0] != "How tall is the Eiffel Tower?" {
		t.Errorf("fresh conversation should query with raw input, got %v", retriever.queries)
	}
	if len(provider.requests) != 1 {
		t.Fatalf("expected 1 LLM call (no condense without history), got %d", len(provider.requests))
	}
	system := provider.requests[0].System
	if !strings.Contains(system, "<context>") || !strings.Contains(system, "</context>") {
		t.Errorf("context sentinels missing from system prompt: %q", system)
	}
	if !strings.Contains(system, "330 metres") || !strings.Contains(system, "1889") {
		t.Errorf("documents missing from system prompt: %q", system)
	}
	if strings.Contains(system, ContextPlaceholder) {
		t.Errorf("placeholder left in system prompt: %q", system)
	}
}

func TestGraphRetrievalCondensesFollowUpQuestion(t *testing.T) {
	ctx := context.Background()
	store := threads.NewMemoryStore()
	thread := &models.Thread{Name: "tour", CreatedBy: "user-1"}
	if err := store.CreateThread(ctx, thread); err != nil {
		t.Fatalf("CreateThread() error = %v", err)
	}
	prior := []*models.Message{
		models.NewHumanMessage("Tell me about the Eiffel Tower."),
		models.NewAIMessage("It is an iron lattice tower in Paris.", nil),
	}
	if err := store.AddMessages(ctx, thread.ID, prior); err != nil {
		t.Fatalf("AddMessages() error = %v", err)
	}

	retriever := &scriptedRetriever{docs: []rag.Document{
		{ID: "1", Content: "The Eiffel Tower is 330 metres tall."},
	}}
	provider := &scriptedProvider{responses: []*CompletionResponse{
		{Content: "How tall is the Eiffel Tower?"}, // condense step
		{Content: "It is 330 metres tall."},
	}}
	graph, err := NewGraph(GraphConfig{
		Provider:     provider,
		Model:        "test-model",
		Instructions: "You are a tour guide.\n{context}",
		UseRetrieval: true,
		Retriever:    retriever,
	})
	if err != nil {
		t.Fatalf("NewGraph() error = %v", err)
	}

	if _, err := graph.Run(ctx, &RunRequest{
		ThreadID: thread.ID,
		Input:    "How tall is it?",
		History:  store,
	}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(provider.requests) != 2 {
		t.Fatalf("expected condense + agent calls, got %d", len(provider.requests))
	}
	if got := provider.requests[0].System; got != condenseInstructions {
		t.Errorf("first call is not the condense step: %q", got)
	}
	if len(retriever.queries) != 1 || retriever.queries[0] != "How tall is the Eiffel Tower?" {
		t.Errorf("retriever queried with %v, want the condensed question", retriever.queries)
	}
}

func TestGraphStructuredOutput(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"age": {"type": "integer"},
			"is_student": {"type": "boolean"}
		},
		"required": ["name", "age", "is_student"]
	}`)
	provider := &scriptedProvider{responses: []*CompletionResponse{
		{Content: "John is a 30 year old professional."},
		{Content: `{"name":"John","age":30,"is_student":false}`},
	}}
	graph, err := NewGraph(GraphConfig{
		Provider:         provider,
		Model:            "test-model",
		Instructions:     "Extract person records.",
		StructuredOutput: schema,
	})
	if err != nil {
		t.Fatalf("NewGraph() error = %v", err)
	}

	result, err := graph.Run(context.Background(), &RunRequest{Input: "John, 30, works full time"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var decoded struct {
		Name      string `json:"name"`
		Age       int    `json:"age"`
		IsStudent bool   `json:"is_student"`
	}
	if err := json.Unmarshal([]byte(result.Output), &decoded); err != nil {
		t.Fatalf("output is not the structured document: %v", err)
	}
	if decoded.Name != "John" || decoded.Age != 30 || decoded.IsStudent {
		t.Errorf("decoded output mismatch: %+v", decoded)
	}

	last := provider.requests[len(provider.requests)-1]
	if len(last.ResponseSchema) == 0 {
		t.Error("terminal call was not schema-constrained")
	}
	if len(last.Tools) != 0 {
		t.Error("terminal schema-constrained call must not carry tools")
	}
}

func TestGraphStructuredOutputRejectsNonConformingReply(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"age": {"type": "integer"}},
		"required": ["age"]
	}`)
	provider := &scriptedProvider{responses: []*CompletionResponse{
		{Content: "done"},
		{Content: `{"age":"thirty"}`},
	}}
	graph, err := NewGraph(GraphConfig{
		Provider:         provider,
		Model:            "test-model",
		Instructions:     "Extract.",
		StructuredOutput: schema,
	})
	if err != nil {
		t.Fatalf("NewGraph() error = %v", err)
	}

	if _, err := graph.Run(context.Background(), &RunRequest{Input: "x"}); err == nil {
		t.Fatal("expected schema validation failure")
	}
}

func TestGraphMaxIterations(t *testing.T) {
	looping := &ToolFunc{
		ToolName:   "again",
		ToolSchema: json.RawMessage(`{"type":"object"}`),
		Fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "and again", nil
		},
	}
	// Every turn requests another tool call so the loop can never finish.
	var endless []*CompletionResponse
	for i := 0; i < 20; i++ {
		endless = append(endless, &CompletionResponse{ToolCalls: []models.ToolCall{
			{ID: fmt.Sprintf("call-%d", i), Name: "again"},
		}})
	}
	graph, err := NewGraph(GraphConfig{
		Provider:      &scriptedProvider{responses: endless},
		Model:         "test-model",
		Instructions:  "Loop forever.",
		Tools:         scriptedToolset(t, looping),
		MaxIterations: 3,
	})
	if err != nil {
		t.Fatalf("NewGraph() error = %v", err)
	}

	_, err = graph.Run(context.Background(), &RunRequest{Input: "go"})
	if !errors.Is(err, ErrMaxIterations) {
		t.Fatalf("expected ErrMaxIterations, got %v", err)
	}
}

func TestGraphEphemeralRunPersistsNothing(t *testing.T) {
	provider := &scriptedProvider{responses: []*CompletionResponse{{Content: "hi"}}}
	graph, err := NewGraph(GraphConfig{
		Provider:     provider,
		Model:        "test-model",
		Instructions: "Reply briefly.",
	})
	if err != nil {
		t.Fatalf("NewGraph() error = %v", err)
	}

	result, err := graph.Run(context.Background(), &RunRequest{Input: "hello"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Output != "hi" {
		t.Errorf("Output = %q", result.Output)
	}
	// system + human + ai
	if len(result.Messages) != 3 {
		t.Errorf("trace length = %d, want 3", len(result.Messages))
	}
}
