package ledger

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironclaw-dev/ironclaw/pkg/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db), mock
}

func eventColumns() []string {
	return []string{"id", "event_id", "ts", "run_id", "order_id", "event_type", "payload"}
}

func TestInsertEventCreated(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO events").
		WithArgs("ev-1", "2026-08-24T10:00:00Z", "run_a", "order_a", "ORDER_QUEUED", []byte(`{"status":"queued"}`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	// Insert triggers a best-effort refresh for the run and the order.
	mock.ExpectQuery("SELECT (.+) FROM events WHERE run_id").
		WithArgs("run_a").
		WillReturnRows(sqlmock.NewRows(eventColumns()).
			AddRow(int64(1), "ev-1", "2026-08-24T10:00:00Z", "run_a", "order_a", "ORDER_QUEUED", []byte(`{"status":"queued"}`)))
	mock.ExpectExec("INSERT INTO runs_snapshot").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM events WHERE order_id").
		WithArgs("order_a").
		WillReturnRows(sqlmock.NewRows(eventColumns()).
			AddRow(int64(1), "ev-1", "2026-08-24T10:00:00Z", "run_a", "order_a", "ORDER_QUEUED", []byte(`{"status":"queued"}`)))
	mock.ExpectExec("INSERT INTO orders_snapshot").
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := store.InsertEvent(context.Background(), models.CreateEventRequest{
		EventID:   "ev-1",
		TS:        "2026-08-24T10:00:00Z",
		RunID:     "run_a",
		OrderID:   "order_a",
		EventType: "ORDER_QUEUED",
		Payload:   map[string]any{"status": "queued"},
	})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "ev-1", res.EventID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertEventDuplicateIsNoOp(t *testing.T) {
	store, mock := newMockStore(t)

	// ON CONFLICT DO NOTHING returns no row for a duplicate event_id.
	mock.ExpectQuery("INSERT INTO events").
		WillReturnError(sql.ErrNoRows)

	res, err := store.InsertEvent(context.Background(), models.CreateEventRequest{
		EventID:   "ev-1",
		TS:        "2026-08-24T10:00:00Z",
		EventType: "ORDER_QUEUED",
	})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, "ev-1", res.EventID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertEventGeneratesIDAndTS(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	res, err := store.InsertEvent(context.Background(), models.CreateEventRequest{
		EventType: "RUN_CREATED",
	})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.NotEmpty(t, res.EventID)
}

func TestInsertEventSnapshotRefreshFailureDoesNotFailInsert(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery("SELECT (.+) FROM events WHERE run_id").
		WillReturnError(sql.ErrConnDone)

	res, err := store.InsertEvent(context.Background(), models.CreateEventRequest{
		EventID:   "ev-1",
		TS:        "2026-08-24T10:00:00Z",
		RunID:     "run_a",
		EventType: "RUN_CREATED",
	})
	require.NoError(t, err)
	assert.True(t, res.Created)
}

func TestGetRunNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM runs_snapshot").
		WithArgs("run_missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetRun(context.Background(), "run_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetOrder(t *testing.T) {
	store, mock := newMockStore(t)

	cols := []string{"order_id", "run_id", "status", "ts", "worktree", "unit_head", "order_head", "extra"}
	mock.ExpectQuery("SELECT (.+) FROM orders_snapshot").
		WithArgs("order_a").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("order_a", "run_a", "completed", "2026-08-24T10:00:09Z",
				"/wt", "-", "abc123", []byte(`{"answer":"hi"}`)))

	o, err := store.GetOrder(context.Background(), "order_a")
	require.NoError(t, err)
	assert.Equal(t, "completed", o.Status)
	assert.Equal(t, "abc123", o.OrderHead)
	assert.Equal(t, "hi", o.Extra["answer"])
}

func TestListEventsFilters(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM events WHERE run_id").
		WithArgs("run_a", DefaultEventLimit).
		WillReturnRows(sqlmock.NewRows(eventColumns()).
			AddRow(int64(2), "ev-2", "t2", "run_a", "order_a", "ORDER_QUEUED", []byte(`{}`)).
			AddRow(int64(1), "ev-1", "t1", "run_a", nil, "RUN_CREATED", []byte(`{}`)))

	events, err := store.ListEvents(context.Background(), EventFilter{RunID: "run_a"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ev-2", events[0].EventID)
	assert.Empty(t, events[1].OrderID)
}
