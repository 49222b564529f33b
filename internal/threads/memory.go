package threads

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/aide/pkg/models"
)

// MemoryStore is an in-memory Store for tests and local runs.
//
// It stores serialized payloads rather than live message pointers so the
// allocate/stamp/serialize/finalize sequence is exercised the same way the
// SQL store exercises it.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*models.Thread
	rows    map[string][]*messageRow // keyed by thread ID, insertion order
	byID    map[string]*messageRow
	seq     int64
}

type messageRow struct {
	id       string
	threadID string
	seq      int64
	payload  []byte
	created  time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: map[string]*models.Thread{},
		rows:    map[string][]*messageRow{},
		byID:    map[string]*messageRow{},
	}
}

func (m *MemoryStore) CreateThread(ctx context.Context, thread *models.Thread) error {
	if thread == nil {
		return errors.New("thread is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	now := time.Now()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	thread.UpdatedAt = thread.CreatedAt

	clone := *thread
	m.threads[thread.ID] = &clone
	return nil
}

func (m *MemoryStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	thread, ok := m.threads[id]
	if !ok {
		return nil, ErrThreadNotFound
	}
	clone := *thread
	return &clone, nil
}

func (m *MemoryStore) ListThreads(ctx context.Context, createdBy string, opts ListOptions) ([]*models.Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Thread
	for _, thread := range m.threads {
		if createdBy != "" && thread.CreatedBy != createdBy {
			continue
		}
		if opts.AssistantID != "" && thread.AssistantID != opts.AssistantID {
			continue
		}
		clone := *thread
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *MemoryStore) UpdateThread(ctx context.Context, thread *models.Thread) error {
	if thread == nil {
		return errors.New("thread is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.threads[thread.ID]
	if !ok {
		return ErrThreadNotFound
	}
	clone := *thread
	clone.CreatedAt = existing.CreatedAt
	clone.UpdatedAt = time.Now()
	m.threads[clone.ID] = &clone
	thread.UpdatedAt = clone.UpdatedAt
	return nil
}

func (m *MemoryStore) DeleteThread(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.threads[id]; !ok {
		return ErrThreadNotFound
	}
	delete(m.threads, id)
	for _, row := range m.rows[id] {
		delete(m.byID, row.id)
	}
	delete(m.rows, id)
	return nil
}

func (m *MemoryStore) AddMessages(ctx context.Context, threadID string, msgs []*models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.threads[threadID]; !ok {
		return ErrThreadNotFound
	}

	now := time.Now()

	// Phase one: allocate rows and stamp store-assigned IDs onto the
	// in-memory messages.
	rows := make([]*messageRow, len(msgs))
	for i, msg := range msgs {
		m.seq++
		rows[i] = &messageRow{
			id:       uuid.NewString(),
			threadID: threadID,
			seq:      m.seq,
			created:  now,
		}
		msg.ID = rows[i].id
		msg.ThreadID = threadID
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
	}

	// Phase two: serialize the now-identified messages and finalize the
	// payloads. A serialization failure leaves nothing stored.
	payloads := make([][]byte, len(msgs))
	for i, msg := range msgs {
		payload, err := msg.MarshalPayload()
		if err != nil {
			return err
		}
		payloads[i] = payload
	}
	for i, row := range rows {
		row.payload = payloads[i]
		m.rows[threadID] = append(m.rows[threadID], row)
		m.byID[row.id] = row
	}
	return nil
}

func (m *MemoryStore) GetMessages(ctx context.Context, threadID string) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.rows[threadID]
	out := make([]*models.Message, 0, len(rows))
	for _, row := range rows {
		msg, err := models.UnmarshalPayload(row.payload)
		if err != nil {
			return nil, err
		}
		msg.CreatedAt = row.created
		out = append(out, msg)
	}
	return out, nil
}

func (m *MemoryStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.byID[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	msg, err := models.UnmarshalPayload(row.payload)
	if err != nil {
		return nil, err
	}
	msg.CreatedAt = row.created
	return msg, nil
}

func (m *MemoryStore) RemoveMessages(ctx context.Context, threadID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	remove := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		remove[id] = true
	}

	rows := m.rows[threadID]
	kept := rows[:0]
	for _, row := range rows {
		if remove[row.id] {
			delete(m.byID, row.id)
			continue
		}
		kept = append(kept, row)
	}
	m.rows[threadID] = kept
	return nil
}

func (m *MemoryStore) ClearMessages(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range m.rows[threadID] {
		delete(m.byID, row.id)
	}
	delete(m.rows, threadID)
	return nil
}
