package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ironclaw-dev/ironclaw/pkg/models"
)

var (
	// ErrNotFound is returned when a run or order snapshot does not exist.
	ErrNotFound = errors.New("snapshot not found")
)

// DefaultEventLimit caps GET /events pages when the caller does not ask
// for a specific page size.
const DefaultEventLimit = 500

// Store persists events and snapshots. Events are append-only; the
// event_id unique constraint is the concurrency primitive that makes
// duplicate appends a no-op.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// InsertResult reports whether InsertEvent appended a new event or hit an
// existing event_id.
type InsertResult struct {
	EventID string
	Created bool
}

// InsertEvent appends an event, filling in a server-generated event_id and
// UTC timestamp when the caller omitted them. A duplicate event_id is a
// successful no-op. Snapshot refresh failures never fail the insert; the
// event remains authoritative and a later rebuild heals the projection.
func (s *Store) InsertEvent(ctx context.Context, req models.CreateEventRequest) (InsertResult, error) {
	eventID := req.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}
	ts := req.TS
	if ts == "" {
		ts = time.Now().UTC().Format(time.RFC3339Nano)
	}
	payload := req.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return InsertResult{}, fmt.Errorf("failed to encode payload: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO events (event_id, ts, run_id, order_id, event_type, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING id`,
		eventID, ts, nullable(req.RunID), nullable(req.OrderID), req.EventType, rawPayload,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return InsertResult{EventID: eventID, Created: false}, nil
	}
	if err != nil {
		return InsertResult{}, fmt.Errorf("failed to insert event: %w", err)
	}

	if req.RunID != "" {
		if err := s.refreshRun(ctx, req.RunID); err != nil {
			slog.Error("Snapshot refresh failed, event remains authoritative",
				"run_id", req.RunID, "error", err)
		}
	}
	if req.OrderID != "" {
		if err := s.refreshOrder(ctx, req.OrderID); err != nil {
			slog.Error("Snapshot refresh failed, event remains authoritative",
				"order_id", req.OrderID, "error", err)
		}
	}

	return InsertResult{EventID: eventID, Created: true}, nil
}

// EventFilter narrows ListEvents. Zero values mean "no filter".
type EventFilter struct {
	RunID   string
	OrderID string
	Limit   int
	Offset  int
}

// ListEvents returns raw events, newest insertion first.
func (s *Store) ListEvents(ctx context.Context, f EventFilter) ([]models.Event, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultEventLimit
	}

	query := `SELECT id, event_id, ts, run_id, order_id, event_type, payload FROM events`
	args := []any{}
	where := ""
	if f.RunID != "" {
		args = append(args, f.RunID)
		where = fmt.Sprintf(" WHERE run_id = $%d", len(args))
	}
	if f.OrderID != "" {
		args = append(args, f.OrderID)
		clause := "WHERE"
		if where != "" {
			clause = "AND"
		}
		where += fmt.Sprintf(" %s order_id = $%d", clause, len(args))
	}
	args = append(args, limit)
	query += where + fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", len(args))
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetRun returns the run snapshot or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, runID string) (*models.RunSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, status, message, started_at, ended_at, order_ids, max_orders, worktree, order_head
		FROM runs_snapshot WHERE run_id = $1`, runID)

	var (
		r        models.RunSnapshot
		orderIDs []byte
	)
	err := row.Scan(&r.RunID, &r.Status, &r.Message, &r.StartedAt, &r.EndedAt,
		&orderIDs, &r.MaxOrders, &r.Worktree, &r.OrderHead)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run snapshot: %w", err)
	}
	if err := json.Unmarshal(orderIDs, &r.OrderIDs); err != nil {
		return nil, fmt.Errorf("failed to decode order_ids: %w", err)
	}
	return &r, nil
}

// ListRuns returns all run snapshots, most recently created run first.
func (s *Store) ListRuns(ctx context.Context) ([]models.RunSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, status, message, started_at, ended_at, order_ids, max_orders, worktree, order_head
		FROM runs_snapshot ORDER BY run_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.RunSnapshot
	for rows.Next() {
		var (
			r        models.RunSnapshot
			orderIDs []byte
		)
		if err := rows.Scan(&r.RunID, &r.Status, &r.Message, &r.StartedAt, &r.EndedAt,
			&orderIDs, &r.MaxOrders, &r.Worktree, &r.OrderHead); err != nil {
			return nil, fmt.Errorf("failed to scan run snapshot: %w", err)
		}
		if err := json.Unmarshal(orderIDs, &r.OrderIDs); err != nil {
			return nil, fmt.Errorf("failed to decode order_ids: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetOrder returns the order snapshot or ErrNotFound.
func (s *Store) GetOrder(ctx context.Context, orderID string) (*models.OrderSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT order_id, run_id, status, ts, worktree, unit_head, order_head, extra
		FROM orders_snapshot WHERE order_id = $1`, orderID)

	var (
		o     models.OrderSnapshot
		extra []byte
	)
	err := row.Scan(&o.OrderID, &o.RunID, &o.Status, &o.TS, &o.Worktree, &o.UnitHead, &o.OrderHead, &extra)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order snapshot: %w", err)
	}
	if err := json.Unmarshal(extra, &o.Extra); err != nil {
		return nil, fmt.Errorf("failed to decode extra: %w", err)
	}
	return &o, nil
}

// Rebuild drops all snapshots and re-derives them from the events table.
// Readers never see a partial projection: the whole rebuild runs in one
// transaction.
func (s *Store) Rebuild(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rebuild: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM runs_snapshot`); err != nil {
		return fmt.Errorf("failed to clear runs snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM orders_snapshot`); err != nil {
		return fmt.Errorf("failed to clear orders snapshot: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, event_id, ts, run_id, order_id, event_type, payload
		FROM events ORDER BY id ASC`)
	if err != nil {
		return fmt.Errorf("failed to read events for rebuild: %w", err)
	}
	events, err := scanEvents(rows)
	rows.Close()
	if err != nil {
		return err
	}

	runs, orders := FoldEvents(events)
	for _, r := range runs {
		if err := upsertRun(ctx, tx, r); err != nil {
			return err
		}
	}
	for _, o := range orders {
		if err := upsertOrder(ctx, tx, o); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// refreshRun re-folds every event of one run and upserts its snapshot.
// Folding the full per-run history on every insert keeps the incremental
// view trivially equal to a rebuild.
func (s *Store) refreshRun(ctx context.Context, runID string) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, ts, run_id, order_id, event_type, payload
		FROM events WHERE run_id = $1 ORDER BY id ASC`, runID)
	if err != nil {
		return fmt.Errorf("failed to read run events: %w", err)
	}
	events, err := scanEvents(rows)
	rows.Close()
	if err != nil {
		return err
	}

	runs, _ := FoldEvents(events)
	r, ok := runs[runID]
	if !ok {
		return nil
	}
	return upsertRun(ctx, s.db, r)
}

func (s *Store) refreshOrder(ctx context.Context, orderID string) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, ts, run_id, order_id, event_type, payload
		FROM events WHERE order_id = $1 ORDER BY id ASC`, orderID)
	if err != nil {
		return fmt.Errorf("failed to read order events: %w", err)
	}
	events, err := scanEvents(rows)
	rows.Close()
	if err != nil {
		return err
	}

	_, orders := FoldEvents(events)
	o, ok := orders[orderID]
	if !ok {
		return nil
	}
	return upsertOrder(ctx, s.db, o)
}

// execer is satisfied by both *sql.DB and *sql.Tx so the upserts serve the
// incremental refresh and the transactional rebuild.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertRun(ctx context.Context, db execer, r *models.RunSnapshot) error {
	orderIDs, err := json.Marshal(r.OrderIDs)
	if err != nil {
		return fmt.Errorf("failed to encode order_ids: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO runs_snapshot (run_id, status, message, started_at, ended_at, order_ids, max_orders, worktree, order_head)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			message = EXCLUDED.message,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at,
			order_ids = EXCLUDED.order_ids,
			max_orders = EXCLUDED.max_orders,
			worktree = EXCLUDED.worktree,
			order_head = EXCLUDED.order_head`,
		r.RunID, r.Status, r.Message, r.StartedAt, r.EndedAt, orderIDs, r.MaxOrders, r.Worktree, r.OrderHead)
	if err != nil {
		return fmt.Errorf("failed to upsert run snapshot: %w", err)
	}
	return nil
}

func upsertOrder(ctx context.Context, db execer, o *models.OrderSnapshot) error {
	extra, err := json.Marshal(o.Extra)
	if err != nil {
		return fmt.Errorf("failed to encode extra: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO orders_snapshot (order_id, run_id, status, ts, worktree, unit_head, order_head, extra)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (order_id) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			status = EXCLUDED.status,
			ts = EXCLUDED.ts,
			worktree = EXCLUDED.worktree,
			unit_head = EXCLUDED.unit_head,
			order_head = EXCLUDED.order_head,
			extra = EXCLUDED.extra`,
		o.OrderID, o.RunID, o.Status, o.TS, o.Worktree, o.UnitHead, o.OrderHead, extra)
	if err != nil {
		return fmt.Errorf("failed to upsert order snapshot: %w", err)
	}
	return nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEvents(rows rowScanner) ([]models.Event, error) {
	var events []models.Event
	for rows.Next() {
		var (
			ev      models.Event
			runID   sql.NullString
			orderID sql.NullString
			payload []byte
		)
		if err := rows.Scan(&ev.ID, &ev.EventID, &ev.TS, &runID, &orderID, &ev.EventType, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.RunID = runID.String
		ev.OrderID = orderID.String
		if err := json.Unmarshal(payload, &ev.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload for %s: %w", ev.EventID, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
