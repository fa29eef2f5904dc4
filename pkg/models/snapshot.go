package models

// RunSnapshot is the derived view of a run, folded from its events in
// ledger insertion order. Rebuilding from scratch must equal the
// incremental view.
type RunSnapshot struct {
	RunID     string   `json:"run_id"`
	Status    string   `json:"status"`
	Message   string   `json:"message"`
	StartedAt *string  `json:"started_at"`
	EndedAt   *string  `json:"ended_at"`
	OrderIDs  []string `json:"order_ids"`
	MaxOrders *int     `json:"max_orders"`
	Worktree  string   `json:"worktree"`
	OrderHead string   `json:"order_head"`
}

// OrderSnapshot is the derived view of a single order. Extra collects
// payload keys that have no dedicated column (answer, archive_path, ...),
// which is how the conductor's idempotent short-circuit recovers the
// cached answer.
type OrderSnapshot struct {
	OrderID   string         `json:"order_id"`
	RunID     string         `json:"run_id"`
	Status    string         `json:"status"`
	TS        string         `json:"ts"`
	Worktree  string         `json:"worktree"`
	UnitHead  string         `json:"unit_head"`
	OrderHead string         `json:"order_head"`
	Extra     map[string]any `json:"extra"`
}

// SnapshotEmpty is the placeholder for snapshot fields that no event has
// populated yet.
const SnapshotEmpty = "-"
