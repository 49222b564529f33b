// Package assistants holds assistant configurations, the process-wide
// registry that resolves them by id, and the facade that gates and runs
// them.
package assistants

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	"github.com/haasonsaas/aide/internal/agent"
	"github.com/haasonsaas/aide/internal/rag"
	"github.com/haasonsaas/aide/pkg/models"
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Invocation carries the per-run binding an assistant's tools may close
// over: the acting party, the thread, and any request-scoped extras.
type Invocation struct {
	Actor  *models.Actor
	Thread *models.Thread
	Extra  map[string]any
}

// ToolFactory builds a fresh tool list for one invocation. Factories run
// on every invocation so concurrent runs never share mutable tool state.
type ToolFactory func(inv *Invocation) ([]agent.Tool, error)

// Config is one registered assistant: its prompt, model parameters,
// tool factory, and the optional retrieval and structured-output stages.
type Config struct {
	ID           string
	Name         string
	Instructions string
	Model        string
	Temperature  float32
	MaxTokens    int

	// Provider overrides the service-wide default when set.
	Provider agent.LLMProvider

	Tools ToolFactory

	UseRetrieval      bool
	Retriever         rag.Retriever
	RetrievalLimit    int
	DocumentSeparator string

	StructuredOutput json.RawMessage

	ToolConcurrency int
	MaxIterations   int
}

// Registry resolves assistant configurations by id. Registration order
// is preserved for listing.
type Registry struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*Config
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: map[string]*Config{}}
}

// Register adds a configuration. The id must match ^[a-zA-Z0-9_-]+$ and
// be registered at most once per registry.
func (r *Registry) Register(cfg *Config) error {
	if cfg == nil {
		return &agent.ConfigError{Reason: "nil assistant config"}
	}
	if !idPattern.MatchString(cfg.ID) {
		return &agent.ConfigError{Reason: fmt.Sprintf(
			"assistant id %q does not match the pattern %q", cfg.ID, idPattern.String())}
	}
	if cfg.Model == "" {
		return &agent.ConfigError{Reason: fmt.Sprintf("assistant %s has no model", cfg.ID)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[cfg.ID]; exists {
		return &agent.ConfigError{Reason: fmt.Sprintf("assistant id %q registered twice", cfg.ID)}
	}
	r.byID[cfg.ID] = cfg
	r.order = append(r.order, cfg.ID)
	return nil
}

// MustRegister is Register for static setup code.
func (r *Registry) MustRegister(cfg *Config) {
	if err := r.Register(cfg); err != nil {
		panic(err)
	}
}

// Get resolves an id to its configuration.
func (r *Registry) Get(id string) (*Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.byID[id]
	if !ok {
		return nil, &NotDefinedError{ID: id}
	}
	return cfg, nil
}

// List returns all configurations in registration order.
func (r *Registry) List() []*Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Config, len(r.order))
	for i, id := range r.order {
		out[i] = r.byID[id]
	}
	return out
}

// Clear removes every registration. Test teardown only.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = nil
	r.byID = map[string]*Config{}
}
