package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Tool is a single callable capability exposed to the model. Execute
// receives the raw JSON arguments produced by the model and returns the
// string content of the tool result.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// ToolFunc adapts a plain function into a Tool with a free-form object
// schema. Use NewTool to derive the schema from a typed argument struct.
type ToolFunc struct {
	ToolName        string
	ToolDescription string
	ToolSchema      json.RawMessage
	Fn              func(ctx context.Context, args json.RawMessage) (string, error)
}

func (t *ToolFunc) Name() string            { return t.ToolName }
func (t *ToolFunc) Description() string     { return t.ToolDescription }
func (t *ToolFunc) Schema() json.RawMessage { return t.ToolSchema }

func (t *ToolFunc) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return t.Fn(ctx, args)
}

type typedTool[T any] struct {
	name        string
	description string
	schema      json.RawMessage
	fn          func(ctx context.Context, args T) (string, error)
}

// NewTool builds a Tool whose JSON schema is reflected from the argument
// struct T. Field names, json tags, and jsonschema tags on T drive the
// schema the model sees; arguments are decoded into T before dispatch.
func NewTool[T any](name, description string, fn func(ctx context.Context, args T) (string, error)) (Tool, error) {
	reflector := &jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}
	var zero T
	schema := reflector.Reflect(&zero)
	schema.Version = ""
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("reflect schema for tool %s: %w", name, err)
	}
	return &typedTool[T]{
		name:        name,
		description: description,
		schema:      raw,
		fn:          fn,
	}, nil
}

// MustTool is NewTool for static tool definitions where reflection cannot
// fail at runtime.
func MustTool[T any](name, description string, fn func(ctx context.Context, args T) (string, error)) Tool {
	tool, err := NewTool(name, description, fn)
	if err != nil {
		panic(err)
	}
	return tool
}

func (t *typedTool[T]) Name() string            { return t.name }
func (t *typedTool[T]) Description() string     { return t.description }
func (t *typedTool[T]) Schema() json.RawMessage { return t.schema }

func (t *typedTool[T]) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var decoded T
	if len(args) > 0 {
		if err := json.Unmarshal(args, &decoded); err != nil {
			return "", fmt.Errorf("invalid arguments for tool %s: %w", t.name, err)
		}
	}
	return t.fn(ctx, decoded)
}

// Toolset is an ordered collection of tools. Registration order is the
// order tools are presented to the model.
type Toolset struct {
	order []string
	byKey map[string]Tool
}

func NewToolset(tools ...Tool) (*Toolset, error) {
	ts := &Toolset{byKey: map[string]Tool{}}
	for _, tool := range tools {
		if err := ts.Add(tool); err != nil {
			return nil, err
		}
	}
	return ts, nil
}

// Add registers a tool. Duplicate names are rejected so two methods
// cannot silently shadow each other.
func (ts *Toolset) Add(tool Tool) error {
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool has empty name")
	}
	if _, exists := ts.byKey[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	ts.byKey[name] = tool
	ts.order = append(ts.order, name)
	return nil
}

// Get returns the named tool, or nil when unknown.
func (ts *Toolset) Get(name string) Tool {
	return ts.byKey[name]
}

// Tools returns all tools in registration order.
func (ts *Toolset) Tools() []Tool {
	out := make([]Tool, len(ts.order))
	for i, name := range ts.order {
		out[i] = ts.byKey[name]
	}
	return out
}

// Len reports the number of registered tools.
func (ts *Toolset) Len() int {
	return len(ts.order)
}
