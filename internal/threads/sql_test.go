package threads

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/haasonsaas/aide/pkg/models"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLStore(db), mock
}

func TestSQLStoreAddMessagesTwoPhase(t *testing.T) {
	store, mock := newMockStore(t)

	// One transaction per batch: allocate rows with empty payloads, then
	// finalize with the serialized payloads that embed the assigned IDs.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(seq\), 0\) FROM thread_messages`).
		WithArgs("thread-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(3)))
	mock.ExpectExec(`INSERT INTO thread_messages`).
		WithArgs(sqlmock.AnyArg(), "thread-1", int64(4), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO thread_messages`).
		WithArgs(sqlmock.AnyArg(), "thread-1", int64(5), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE thread_messages SET payload`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE thread_messages SET payload`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	batch := []*models.Message{
		models.NewHumanMessage("What is the temperature today in Recife?"),
		models.NewAIMessage("32 degrees Celsius.", nil),
	}
	if err := store.AddMessages(context.Background(), "thread-1", batch); err != nil {
		t.Fatalf("AddMessages() error = %v", err)
	}
	for i, msg := range batch {
		if msg.ID == "" {
			t.Errorf("message %d was not stamped with its row ID", i)
		}
		if msg.ThreadID != "thread-1" {
			t.Errorf("message %d thread ID = %q", i, msg.ThreadID)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStoreAddMessagesRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(seq\), 0\) FROM thread_messages`).
		WithArgs("thread-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(0)))
	mock.ExpectExec(`INSERT INTO thread_messages`).
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	err := store.AddMessages(context.Background(), "thread-1",
		[]*models.Message{models.NewHumanMessage("hello")})
	if err == nil {
		t.Fatal("expected error from failed insert")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStoreDeleteThreadCascades(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM thread_messages WHERE thread_id`).
		WithArgs("thread-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM threads WHERE id`).
		WithArgs("thread-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.DeleteThread(context.Background(), "thread-1"); err != nil {
		t.Fatalf("DeleteThread() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStoreDeleteThreadNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM thread_messages WHERE thread_id`).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM threads WHERE id`).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if err := store.DeleteThread(context.Background(), "missing"); err != ErrThreadNotFound {
		t.Fatalf("expected ErrThreadNotFound, got %v", err)
	}
}

func TestSQLStoreGetMessagesDecodesPayloads(t *testing.T) {
	store, mock := newMockStore(t)

	human := models.NewHumanMessage("What is the temperature today in Recife?")
	human.ID = "msg-1"
	payload, err := human.MarshalPayload()
	if err != nil {
		t.Fatalf("MarshalPayload() error = %v", err)
	}

	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT payload, created_at FROM thread_messages`).
		WithArgs("thread-1").
		WillReturnRows(sqlmock.NewRows([]string{"payload", "created_at"}).
			AddRow(string(payload), created))

	got, err := store.GetMessages(context.Background(), "thread-1")
	if err != nil {
		t.Fatalf("GetMessages() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
	if got[0].ID != "msg-1" || got[0].Role != models.RoleHuman {
		t.Fatalf("decoded message mismatch: %+v", got[0])
	}
	if !got[0].CreatedAt.Equal(created) {
		t.Fatalf("created_at not taken from row: %v", got[0].CreatedAt)
	}
}

func TestSQLStoreRemoveMessagesScopedToThread(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM thread_messages WHERE thread_id = \$1 AND id IN \(\$2, \$3\)`).
		WithArgs("thread-1", "msg-1", "msg-2").
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := store.RemoveMessages(context.Background(), "thread-1", []string{"msg-1", "msg-2"})
	if err != nil {
		t.Fatalf("RemoveMessages() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
