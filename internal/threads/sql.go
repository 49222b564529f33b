package threads

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/aide/pkg/models"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// SQLStore implements Store on top of database/sql. It works against
// Postgres/CockroachDB (lib/pq) and SQLite (modernc.org/sqlite); both
// accept the $N placeholder style used here.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an existing database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// OpenPostgres opens a Postgres/CockroachDB-backed store.
func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &SQLStore{db: db}, nil
}

// OpenSQLite opens a SQLite-backed store at the given path.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite handles a single writer; serialize access through one conn.
	db.SetMaxOpenConns(1)
	return &SQLStore{db: db}, nil
}

// DB exposes the underlying handle for related stores.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Migrate creates the schema if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_by TEXT NOT NULL DEFAULT '',
			assistant_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS thread_messages (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
			seq BIGINT NOT NULL,
			payload TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_thread_messages_thread
			ON thread_messages (thread_id, created_at, seq)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) CreateThread(ctx context.Context, thread *models.Thread) error {
	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	thread.UpdatedAt = thread.CreatedAt

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (id, name, created_by, assistant_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		thread.ID, thread.Name, thread.CreatedBy, thread.AssistantID, thread.CreatedAt, thread.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create thread: %w", err)
	}
	return nil
}

func (s *SQLStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_by, assistant_id, created_at, updated_at
		 FROM threads WHERE id = $1`, id)

	var thread models.Thread
	err := row.Scan(&thread.ID, &thread.Name, &thread.CreatedBy, &thread.AssistantID,
		&thread.CreatedAt, &thread.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return &thread, nil
}

func (s *SQLStore) ListThreads(ctx context.Context, createdBy string, opts ListOptions) ([]*models.Thread, error) {
	query := `SELECT id, name, created_by, assistant_id, created_at, updated_at
		 FROM threads WHERE created_by = $1`
	args := []any{createdBy}
	if opts.AssistantID != "" {
		query += ` AND assistant_id = $2`
		args = append(args, opts.AssistantID)
	}
	query += ` ORDER BY created_at DESC, id`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var out []*models.Thread
	for rows.Next() {
		var thread models.Thread
		if err := rows.Scan(&thread.ID, &thread.Name, &thread.CreatedBy, &thread.AssistantID,
			&thread.CreatedAt, &thread.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		out = append(out, &thread)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateThread(ctx context.Context, thread *models.Thread) error {
	thread.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE threads SET name = $1, updated_at = $2 WHERE id = $3`,
		thread.Name, thread.UpdatedAt, thread.ID,
	)
	if err != nil {
		return fmt.Errorf("update thread: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrThreadNotFound
	}
	return nil
}

func (s *SQLStore) DeleteThread(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	defer tx.Rollback()

	// Explicit cascade keeps the behavior identical across drivers that
	// ship with foreign keys disabled by default.
	if _, err := tx.ExecContext(ctx, `DELETE FROM thread_messages WHERE thread_id = $1`, id); err != nil {
		return fmt.Errorf("delete thread messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrThreadNotFound
	}
	return tx.Commit()
}

// AddMessages performs the two-phase append inside one transaction:
// allocate rows with empty payloads, stamp the store-assigned IDs onto the
// in-memory messages, serialize, then finalize the payloads.
func (s *SQLStore) AddMessages(ctx context.Context, threadID string, msgs []*models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("add messages: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM thread_messages WHERE thread_id = $1`, threadID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("add messages: %w", err)
	}

	now := time.Now().UTC()
	for _, msg := range msgs {
		seq++
		id := uuid.NewString()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO thread_messages (id, thread_id, seq, payload, created_at)
			 VALUES ($1, $2, $3, '', $4)`,
			id, threadID, seq, now,
		); err != nil {
			return fmt.Errorf("allocate message row: %w", err)
		}
		msg.ID = id
		msg.ThreadID = threadID
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
	}

	for _, msg := range msgs {
		payload, err := msg.MarshalPayload()
		if err != nil {
			return fmt.Errorf("serialize message: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE thread_messages SET payload = $1 WHERE id = $2`,
			string(payload), msg.ID,
		); err != nil {
			return fmt.Errorf("finalize message row: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) GetMessages(ctx context.Context, threadID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload, created_at FROM thread_messages
		 WHERE thread_id = $1 ORDER BY created_at ASC, seq ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var payload string
		var created time.Time
		if err := rows.Scan(&payload, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg, err := models.UnmarshalPayload([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("decode message payload: %w", err)
		}
		msg.CreatedAt = created
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var payload string
	var created time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, created_at FROM thread_messages WHERE id = $1`, id,
	).Scan(&payload, &created)
	if err == sql.ErrNoRows {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	msg, err := models.UnmarshalPayload([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("decode message payload: %w", err)
	}
	msg.CreatedAt = created
	return msg, nil
}

func (s *SQLStore) RemoveMessages(ctx context.Context, threadID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	placeholders := make([]string, len(messageIDs))
	args := make([]any, 0, len(messageIDs)+1)
	args = append(args, threadID)
	for i, id := range messageIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}
	query := fmt.Sprintf(
		`DELETE FROM thread_messages WHERE thread_id = $1 AND id IN (%s)`,
		strings.Join(placeholders, ", "),
	)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("remove messages: %w", err)
	}
	return nil
}

func (s *SQLStore) ClearMessages(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM thread_messages WHERE thread_id = $1`, threadID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}
