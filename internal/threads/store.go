// Package threads persists conversation threads and their append-only
// message logs. Two implementations are provided: an in-memory store for
// tests and local runs, and a SQL store for Postgres/CockroachDB or SQLite.
package threads

import (
	"context"
	"errors"

	"github.com/haasonsaas/aide/pkg/models"
)

var (
	// ErrThreadNotFound is returned when a thread ID does not exist.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrMessageNotFound is returned when a message ID does not exist.
	ErrMessageNotFound = errors.New("message not found")
)

// Store is the persistence contract for threads and messages.
//
// AddMessages follows a two-phase protocol: each message first gets a
// store-assigned ID (allocate), the ID is written back onto the in-memory
// message (stamp), and only then is the message serialized and its payload
// persisted (finalize). The whole batch is atomic; the protocol guarantees
// that stored identity and in-memory identity always agree, and that the
// stored payload embeds its own ID.
//
// All methods take a context and are safe for concurrent use; the single
// context-aware API serves both blocking and cooperative callers.
type Store interface {
	// CreateThread persists a new thread, assigning ID and timestamps.
	CreateThread(ctx context.Context, thread *models.Thread) error

	// GetThread returns a thread by ID, or ErrThreadNotFound.
	GetThread(ctx context.Context, id string) (*models.Thread, error)

	// ListThreads returns the threads created by the given actor, newest
	// first, optionally filtered by assistant ID.
	ListThreads(ctx context.Context, createdBy string, opts ListOptions) ([]*models.Thread, error)

	// UpdateThread persists name changes. The ID is immutable.
	UpdateThread(ctx context.Context, thread *models.Thread) error

	// DeleteThread removes a thread and all of its messages.
	DeleteThread(ctx context.Context, id string) error

	// AddMessages appends a batch of messages to a thread using the
	// two-phase identity back-fill protocol. On return every message in
	// the batch carries its persisted ID.
	AddMessages(ctx context.Context, threadID string, msgs []*models.Message) error

	// GetMessages returns the thread's messages ordered by creation time
	// ascending, insertion order breaking ties within a batch.
	GetMessages(ctx context.Context, threadID string) ([]*models.Message, error)

	// GetMessage returns a single message by ID, or ErrMessageNotFound.
	GetMessage(ctx context.Context, id string) (*models.Message, error)

	// RemoveMessages deletes the given message IDs from a thread.
	// Messages in other threads are never affected.
	RemoveMessages(ctx context.Context, threadID string, messageIDs []string) error

	// ClearMessages deletes every message in a thread.
	ClearMessages(ctx context.Context, threadID string) error
}

// ListOptions configures thread listing.
type ListOptions struct {
	// AssistantID filters threads associated with one assistant.
	AssistantID string

	// Limit caps the number of returned threads (0 = no cap).
	Limit int

	// Offset skips that many threads.
	Offset int
}
