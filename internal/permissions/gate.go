// Package permissions gates every facade operation with swappable
// predicates. A nil predicate allows the operation, so a zero Gate is
// the allow-all policy.
package permissions

import "github.com/haasonsaas/aide/pkg/models"

// ThreadPredicate decides whether an actor may act on a thread. The
// thread is nil for creation checks that have no target yet.
type ThreadPredicate func(actor *models.Actor, thread *models.Thread) bool

// MessagePredicate decides whether an actor may act on a message within
// its thread.
type MessagePredicate func(actor *models.Actor, thread *models.Thread, msg *models.Message) bool

// AssistantPredicate decides whether an actor may use an assistant.
type AssistantPredicate func(actor *models.Actor, assistantID string) bool

// Gate bundles one predicate per guarded operation. Any field may be
// replaced via configuration without touching the facade.
type Gate struct {
	CreateThread  ThreadPredicate
	ViewThread    ThreadPredicate
	UpdateThread  ThreadPredicate
	DeleteThread  ThreadPredicate
	CreateMessage ThreadPredicate
	UpdateMessage MessagePredicate
	DeleteMessage MessagePredicate
	RunAssistant  AssistantPredicate
}

// AllowAll permits every operation.
func AllowAll() *Gate {
	return &Gate{}
}

// OwnerOrSuperuser restricts thread and message operations to the
// thread's creator or a superuser. Creation and assistant use stay open
// to any authenticated actor.
func OwnerOrSuperuser() *Gate {
	owner := func(actor *models.Actor, thread *models.Thread) bool {
		if actor == nil || thread == nil {
			return false
		}
		return actor.IsSuperuser || thread.CreatedBy == actor.ID
	}
	return &Gate{
		ViewThread:    owner,
		UpdateThread:  owner,
		DeleteThread:  owner,
		CreateMessage: owner,
		UpdateMessage: func(actor *models.Actor, thread *models.Thread, msg *models.Message) bool {
			return owner(actor, thread)
		},
		DeleteMessage: func(actor *models.Actor, thread *models.Thread, msg *models.Message) bool {
			return owner(actor, thread)
		},
	}
}

func (g *Gate) CanCreateThread(actor *models.Actor) bool {
	if g == nil || g.CreateThread == nil {
		return true
	}
	return g.CreateThread(actor, nil)
}

func (g *Gate) CanViewThread(actor *models.Actor, thread *models.Thread) bool {
	if g == nil || g.ViewThread == nil {
		return true
	}
	return g.ViewThread(actor, thread)
}

func (g *Gate) CanUpdateThread(actor *models.Actor, thread *models.Thread) bool {
	if g == nil || g.UpdateThread == nil {
		return true
	}
	return g.UpdateThread(actor, thread)
}

func (g *Gate) CanDeleteThread(actor *models.Actor, thread *models.Thread) bool {
	if g == nil || g.DeleteThread == nil {
		return true
	}
	return g.DeleteThread(actor, thread)
}

func (g *Gate) CanCreateMessage(actor *models.Actor, thread *models.Thread) bool {
	if g == nil || g.CreateMessage == nil {
		return true
	}
	return g.CreateMessage(actor, thread)
}

func (g *Gate) CanUpdateMessage(actor *models.Actor, thread *models.Thread, msg *models.Message) bool {
	if g == nil || g.UpdateMessage == nil {
		return true
	}
	return g.UpdateMessage(actor, thread, msg)
}

func (g *Gate) CanDeleteMessage(actor *models.Actor, thread *models.Thread, msg *models.Message) bool {
	if g == nil || g.DeleteMessage == nil {
		return true
	}
	return g.DeleteMessage(actor, thread, msg)
}

func (g *Gate) CanRunAssistant(actor *models.Actor, assistantID string) bool {
	if g == nil || g.RunAssistant == nil {
		return true
	}
	return g.RunAssistant(actor, assistantID)
}
