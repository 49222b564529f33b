package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/aide/pkg/models"
)

// CompletionRequest is one model invocation: full conversation state in,
// one assistant turn out.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []*models.Message
	Tools       []Tool
	Temperature float32
	MaxTokens   int

	// ResponseSchema, when set, constrains the reply to a JSON document
	// matching the schema. Providers without native schema support
	// prompt for JSON and rely on the caller to validate.
	ResponseSchema json.RawMessage
}

// CompletionResponse is the assistant turn returned by a provider. A
// response carries text content, tool calls, or both.
type CompletionResponse struct {
	Content      string
	ToolCalls    []models.ToolCall
	InputTokens  int
	OutputTokens int
}

// LLMProvider abstracts one chat-completion backend.
type LLMProvider interface {
	Name() string
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}
