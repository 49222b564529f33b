package assistants

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/aide/internal/agent"
	"github.com/haasonsaas/aide/pkg/models"
)

type asToolArgs struct {
	Input string `json:"input" jsonschema:"description=The request to forward to the assistant"`
}

// AsTool exposes a registered assistant as a tool another assistant can
// call. The inner run is ephemeral: it writes nothing to any thread, and
// its errors surface as error-content tool results in the outer loop.
func (s *Service) AsTool(assistantID, description string) (agent.Tool, error) {
	if _, err := s.registry.Get(assistantID); err != nil {
		return nil, err
	}
	return agent.NewTool(assistantID, description,
		func(ctx context.Context, args asToolArgs) (string, error) {
			actor := ActorFromContext(ctx)
			out, err := s.RunEphemeral(ctx, actor, assistantID, args.Input)
			if err != nil {
				return "", fmt.Errorf("assistant %s: %w", assistantID, err)
			}
			return out.Output, nil
		})
}

type actorContextKey struct{}

// WithActor binds the acting party to a context so nested assistant
// runs inherit it.
func WithActor(ctx context.Context, actor *models.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the bound actor, or nil.
func ActorFromContext(ctx context.Context) *models.Actor {
	actor, _ := ctx.Value(actorContextKey{}).(*models.Actor)
	return actor
}

// MarshalTrace renders a message trace as indented JSON, mainly for
// CLI and debug output.
func MarshalTrace(msgs []*models.Message) (string, error) {
	out, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
