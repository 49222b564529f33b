// Package models defines the core domain types shared across aide:
// threads, messages, tool calls, and the acting party.
package models

import (
	"encoding/json"
	"time"
)

// Role tags a message variant. The serialized payload carries it in the
// "type" field, which is what makes the message a tagged union rather than
// a loosely-typed map.
type Role string

const (
	// RoleSystem is the system instructions message. Never persisted.
	RoleSystem Role = "system"

	// RoleHuman is a message authored by the acting user.
	RoleHuman Role = "human"

	// RoleAI is a model response. It may carry pending tool calls.
	RoleAI Role = "ai"

	// RoleTool is the result of one tool call, correlated by ToolCallID.
	RoleTool Role = "tool"

	// RoleGeneric is an auxiliary message that is neither user input nor a
	// model response, e.g. the structured-output render instruction.
	RoleGeneric Role = "generic"
)

// ToolCall is an LLM request to execute one tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of executing one tool call. Failures are
// represented with IsError and the error text as Content; they are data,
// not Go errors, so a failing tool never aborts a batch.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Message is one turn in a conversation.
//
// Messages are append-only: after creation the only permitted mutation is
// the identity back-fill the store performs once, when it stamps the
// store-assigned ID onto the in-memory message before finalizing the
// persisted payload.
type Message struct {
	ID       string `json:"id,omitempty"`
	ThreadID string `json:"thread_id,omitempty"`

	// Role is the variant tag, serialized as "type".
	Role    Role   `json:"type"`
	Content string `json:"content"`

	// ToolCalls holds pending tool invocation requests. AI messages only.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID correlates a tool message with the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// IsError marks a tool message produced from a failed execution.
	IsError bool `json:"is_error,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// NewSystemMessage returns a system instructions message.
func NewSystemMessage(content string) *Message {
	return &Message{Role: RoleSystem, Content: content}
}

// NewHumanMessage returns a user-authored message.
func NewHumanMessage(content string) *Message {
	return &Message{Role: RoleHuman, Content: content}
}

// NewAIMessage returns a model response carrying zero or more tool calls.
func NewAIMessage(content string, toolCalls []ToolCall) *Message {
	return &Message{Role: RoleAI, Content: content, ToolCalls: toolCalls}
}

// NewToolMessage returns a tool message built from one tool result.
func NewToolMessage(result ToolResult) *Message {
	return &Message{
		Role:       RoleTool,
		Content:    result.Content,
		ToolCallID: result.ToolCallID,
		IsError:    result.IsError,
	}
}

// NewGenericMessage returns an auxiliary message.
func NewGenericMessage(content string) *Message {
	return &Message{Role: RoleGeneric, Content: content}
}

// HasToolCalls reports whether the message carries tool calls.
func (m *Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// PendingToolCalls returns the message's tool calls whose IDs are absent
// from resolved. An AI message with pending calls is a half-finished turn
// and must not be persisted yet.
func (m *Message) PendingToolCalls(resolved map[string]bool) []ToolCall {
	var pending []ToolCall
	for _, tc := range m.ToolCalls {
		if !resolved[tc.ID] {
			pending = append(pending, tc)
		}
	}
	return pending
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	clone := *m
	if m.ToolCalls != nil {
		clone.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			clone.ToolCalls[i] = tc
			if tc.Arguments != nil {
				clone.ToolCalls[i].Arguments = append(json.RawMessage(nil), tc.Arguments...)
			}
		}
	}
	return &clone
}

// MarshalPayload serializes the message into its persisted tagged-union
// form. The message must already carry its store-assigned ID so that the
// stored payload and the in-memory identity agree.
func (m *Message) MarshalPayload() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalPayload decodes a persisted payload back into a typed message.
func UnmarshalPayload(payload []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
