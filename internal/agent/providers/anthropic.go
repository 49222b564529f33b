// Package providers contains LLM backend implementations of
// agent.LLMProvider.
package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/aide/internal/agent"
	"github.com/haasonsaas/aide/pkg/models"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicProvider implements agent.LLMProvider against the Anthropic
// Messages API.
type AnthropicProvider struct {
	client *anthropic.Client
}

// NewAnthropicProvider creates a provider with the given API key.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicProvider{client: &client}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
	}

	system := req.System
	if len(req.ResponseSchema) > 0 {
		// The Messages API has no schema-constrained output mode;
		// instruct from the system prompt and validate upstream.
		system = fmt.Sprintf(
			"%s\n\nRespond only with a JSON document conforming to this JSON schema:\n%s",
			system, string(req.ResponseSchema))
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}

	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	params.Messages = messages

	tools, err := convertAnthropicTools(req.Tools)
	if err != nil {
		return nil, err
	}
	params.Tools = tools

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic completion: %w", err)
	}

	resp := &agent.CompletionResponse{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += variant.Text
		case anthropic.ToolUseBlock:
			args, err := json.Marshal(variant.Input)
			if err != nil {
				return nil, fmt.Errorf("tool call arguments: %w", err)
			}
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: args,
			})
		}
	}
	return resp, nil
}

// convertAnthropicMessages maps the internal trace onto Anthropic content
// blocks. The top-level system prompt is carried in params.System;
// mid-conversation system instructions become user turns since the
// Messages API accepts only user/assistant roles. Assistant turns carry
// tool_use blocks and tool results become user-side tool_result blocks.
func convertAnthropicMessages(msgs []*models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range msgs {
		switch msg.Role {
		case models.RoleAI:
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				var input map[string]interface{}
				if len(call.Arguments) > 0 {
					if err := json.Unmarshal(call.Arguments, &input); err != nil {
						return nil, fmt.Errorf("invalid tool call input: %w", err)
					}
				}
				content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			}
			result = append(result, anthropic.NewAssistantMessage(content...))
		case models.RoleTool:
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, msg.IsError)))
		default:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return result, nil
}

func convertAnthropicTools(tools []agent.Tool) ([]anthropic.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name(), err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name())
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name())
		}
		param.OfTool.Description = anthropic.String(tool.Description())
		result = append(result, param)
	}
	return result, nil
}
