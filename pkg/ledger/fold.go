// Package ledger implements the append-only event log and its derived
// run/order snapshots. The events table is the single source of truth;
// snapshots are a pure projection of it and can be rebuilt at any time.
package ledger

import (
	"sort"

	"github.com/ironclaw-dev/ironclaw/pkg/models"
)

// orderClaimedKeys are payload keys with dedicated snapshot columns.
// Everything else lands in OrderSnapshot.Extra.
var orderClaimedKeys = map[string]struct{}{
	"ts": {}, "run_id": {}, "order_id": {}, "status": {},
	"worktree": {}, "unit_head": {}, "order_head": {},
	"message": {}, "started_at": {}, "ended_at": {},
	"order_ids": {}, "max_orders": {},
}

func newRunSnapshot(runID string) *models.RunSnapshot {
	return &models.RunSnapshot{
		RunID:     runID,
		Status:    models.SnapshotEmpty,
		Message:   models.SnapshotEmpty,
		OrderIDs:  []string{},
		Worktree:  models.SnapshotEmpty,
		OrderHead: models.SnapshotEmpty,
	}
}

func newOrderSnapshot(orderID, runID, ts string) *models.OrderSnapshot {
	if runID == "" {
		runID = models.SnapshotEmpty
	}
	return &models.OrderSnapshot{
		OrderID:   orderID,
		RunID:     runID,
		Status:    models.SnapshotEmpty,
		TS:        ts,
		Worktree:  models.SnapshotEmpty,
		UnitHead:  models.SnapshotEmpty,
		OrderHead: models.SnapshotEmpty,
		Extra:     map[string]any{},
	}
}

// foldRun applies a single event to a run snapshot. Events must be applied
// in ledger insertion order for the last-write-wins fields to be correct.
func foldRun(r *models.RunSnapshot, ev models.Event) {
	p := ev.Payload
	if sa, ok := p["started_at"].(string); ok && sa != "" {
		if r.StartedAt == nil || sa < *r.StartedAt {
			r.StartedAt = &sa
		}
	}
	if ea, ok := p["ended_at"].(string); ok && ea != "" {
		if r.EndedAt == nil || ea > *r.EndedAt {
			r.EndedAt = &ea
		}
	}
	if msg, ok := p["message"].(string); ok && msg != "" {
		r.Message = msg
	}
	if raw, ok := p["order_ids"].([]any); ok && len(raw) > 0 {
		seen := make(map[string]struct{}, len(r.OrderIDs)+len(raw))
		for _, id := range r.OrderIDs {
			seen[id] = struct{}{}
		}
		for _, v := range raw {
			if s, ok := v.(string); ok {
				seen[s] = struct{}{}
			}
		}
		merged := make([]string, 0, len(seen))
		for id := range seen {
			merged = append(merged, id)
		}
		sort.Strings(merged)
		r.OrderIDs = merged
	}
	if mo, ok := p["max_orders"].(float64); ok {
		n := int(mo)
		r.MaxOrders = &n
	}
	if wt, ok := p["worktree"].(string); ok && wt != "" {
		r.Worktree = wt
	}
	if oh, ok := p["order_head"].(string); ok && oh != "" {
		r.OrderHead = oh
	}
	if st, ok := p["status"].(string); ok && st != "" {
		r.Status = st
	}
}

// foldOrder applies a single event to an order snapshot. A status change
// also advances the snapshot timestamp to the event's ts.
func foldOrder(o *models.OrderSnapshot, ev models.Event) {
	p := ev.Payload
	if st, ok := p["status"].(string); ok && st != "" {
		o.Status = st
		o.TS = ev.TS
	}
	if rid, ok := p["run_id"].(string); ok && rid != "" {
		o.RunID = rid
	}
	if wt, ok := p["worktree"].(string); ok && wt != "" {
		o.Worktree = wt
	}
	if uh, ok := p["unit_head"].(string); ok && uh != "" {
		o.UnitHead = uh
	}
	if oh, ok := p["order_head"].(string); ok && oh != "" {
		o.OrderHead = oh
	}
	for k, v := range p {
		if _, claimed := orderClaimedKeys[k]; claimed {
			continue
		}
		o.Extra[k] = v
	}
}

// FoldEvents folds a slice of events (ledger insertion order) into run and
// order snapshots keyed by id. It is the reference projection: both the
// incremental refresh and the full rebuild go through it, which is what
// keeps the two views identical.
func FoldEvents(events []models.Event) (map[string]*models.RunSnapshot, map[string]*models.OrderSnapshot) {
	runs := make(map[string]*models.RunSnapshot)
	orders := make(map[string]*models.OrderSnapshot)

	for _, ev := range events {
		if ev.RunID != "" {
			r, ok := runs[ev.RunID]
			if !ok {
				r = newRunSnapshot(ev.RunID)
				runs[ev.RunID] = r
			}
			foldRun(r, ev)
		}
		if ev.OrderID != "" {
			o, ok := orders[ev.OrderID]
			if !ok {
				o = newOrderSnapshot(ev.OrderID, ev.RunID, ev.TS)
				orders[ev.OrderID] = o
			}
			foldOrder(o, ev)
		}
	}
	return runs, orders
}
