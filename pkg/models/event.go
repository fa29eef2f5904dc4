// Package models defines the wire types shared across the IronClaw services:
// ledger events and snapshots, worker execution payloads, vault worktree
// payloads, and the after-action report schema.
package models

// Event is an immutable ledger entry. EventID is the idempotency key:
// appending an event whose EventID already exists is a successful no-op.
type Event struct {
	// ID is the ledger insertion order. It is the only global ordering
	// guarantee; TS is monotonic only per (run_id, order_id).
	ID        int64          `json:"id"`
	EventID   string         `json:"event_id"`
	TS        string         `json:"ts"` // UTC ISO-8601
	RunID     string         `json:"run_id,omitempty"`
	OrderID   string         `json:"order_id,omitempty"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
}

// Lifecycle event types emitted by the conductor and worker.
const (
	EventRunCreated             = "RUN_CREATED"
	EventOrderCreated           = "ORDER_CREATED"
	EventOrderQueued            = "ORDER_QUEUED"
	EventOrderWorktreeRequested = "ORDER_WORKTREE_REQUESTED"
	EventOrderWorktreeReady     = "ORDER_WORKTREE_READY"
	EventOrderRunning           = "ORDER_RUNNING"
	EventOrderCompleted         = "ORDER_COMPLETED"
	EventOrderFailed            = "ORDER_FAILED"
	EventRunCompleted           = "RUN_COMPLETED"
	EventRunFailed              = "RUN_FAILED"
	EventOrderArchived          = "ORDER_ARCHIVED"
)

// Worker model-call telemetry event types.
const (
	EventModelCallStarted   = "worker.model_call.started"
	EventModelCallCompleted = "worker.model_call.completed"
	EventModelCallFailed    = "worker.model_call.failed"
)

// Observer alert event types. The suffix after "observer." is the alert
// type used for deduplication.
const (
	EventObserverStalled         = "observer.stalled"
	EventObserverIntegrityFailed = "observer.integrity_failed"
	EventObserverOrphanWorktree  = "observer.orphan_worktree"
)

// Order and run status values carried in event payloads and snapshots.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// CreateEventRequest is the POST /events body. EventID and TS are optional;
// the ledger fills in a UUID and the server's UTC clock when absent.
type CreateEventRequest struct {
	EventID   string         `json:"event_id,omitempty"`
	TS        string         `json:"ts,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	OrderID   string         `json:"order_id,omitempty"`
	EventType string         `json:"event_type" binding:"required"`
	Payload   map[string]any `json:"payload"`
}

// CreateEventResponse reports whether the event was inserted or already
// present. Status is "created" or "exists"; both are HTTP 200.
type CreateEventResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
}

const (
	EventStatusCreated = "created"
	EventStatusExists  = "exists"
)
