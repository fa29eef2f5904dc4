// Package observer watches running orders for stalls, completed
// worktrees for integrity violations, and the worktree directory for
// orphans, escalating through deduplicated ledger alerts. It is never on
// the request path.
package observer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ironclaw-dev/ironclaw/pkg/client"
	"github.com/ironclaw-dev/ironclaw/pkg/models"
)

// Alert type names; the ledger event type is "observer." + name.
const (
	AlertStalled         = "stalled"
	AlertIntegrityFailed = "integrity_failed"
	AlertOrphanWorktree  = "orphan_worktree"
)

// Stats counts what the monitor has seen since startup.
type Stats struct {
	LastPoll          string `json:"last_poll"`
	ActiveOrders      int    `json:"active_orders"`
	StalledDetected   int    `json:"stalled_detected"`
	OrphansDetected   int    `json:"orphans_detected"`
	IntegrityFailures int    `json:"integrity_failures"`
	AlertsEmitted     int    `json:"alerts_emitted"`
}

// Monitor runs the polling loop.
type Monitor struct {
	cfg     Config
	ledger  *client.Ledger
	vault   *client.Vault
	signals *Signals

	mu    sync.Mutex
	stats Stats
}

// NewMonitor wires the monitor against its clients and alert emitter.
func NewMonitor(cfg Config, ledger *client.Ledger, vault *client.Vault, signals *Signals) *Monitor {
	return &Monitor{cfg: cfg, ledger: ledger, vault: vault, signals: signals}
}

// Run polls until the context is cancelled. One tick failing never stops
// the loop.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	slog.Info("Observer monitoring started",
		"theater", m.cfg.Theater, "poll_interval", m.cfg.PollInterval)

	m.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Observer monitoring stopped")
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// orderView is the per-order state folded out of the raw event list.
type orderView struct {
	orderID  string
	runID    string
	status   string
	theater  string
	worktree string
	lastTS   time.Time
}

// Poll performs one monitoring pass.
func (m *Monitor) Poll(ctx context.Context) {
	m.mu.Lock()
	m.stats.LastPoll = time.Now().UTC().Format(time.RFC3339Nano)
	m.mu.Unlock()

	events, err := m.ledger.ListEvents(ctx, m.cfg.EventFetchLimit)
	if err != nil {
		slog.Warn("Observer could not reach ledger", "error", err)
	} else {
		m.checkOrders(ctx, m.foldOrders(events))
	}

	m.checkOrphans(ctx)
}

// foldOrders groups events by order and derives the latest status,
// worktree, and theater per order.
func (m *Monitor) foldOrders(events []models.Event) map[string]*orderView {
	// ListEvents returns newest first; fold oldest first so "last" wins.
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })

	views := make(map[string]*orderView)
	for _, ev := range events {
		if ev.OrderID == "" {
			continue
		}
		v, ok := views[ev.OrderID]
		if !ok {
			v = &orderView{orderID: ev.OrderID, theater: m.cfg.Theater}
			views[ev.OrderID] = v
		}
		if ev.RunID != "" {
			v.runID = ev.RunID
		}
		if ts, err := time.Parse(time.RFC3339Nano, ev.TS); err == nil && ts.After(v.lastTS) {
			v.lastTS = ts
		}
		if s, ok := ev.Payload["status"].(string); ok && s != "" {
			v.status = s
		}
		if w, ok := ev.Payload["worktree"].(string); ok && w != "" {
			v.worktree = w
		}
		if t, ok := ev.Payload["theater"].(string); ok && t != "" {
			v.theater = t
		}
	}
	return views
}

func (m *Monitor) checkOrders(ctx context.Context, views map[string]*orderView) {
	active := 0
	for _, v := range views {
		if v.theater != m.cfg.Theater {
			continue
		}
		switch v.status {
		case models.StatusRunning:
			active++
			m.checkStall(ctx, v)
		case models.StatusCompleted:
			m.checkIntegrity(ctx, v)
		}
	}

	m.mu.Lock()
	m.stats.ActiveOrders = active
	m.mu.Unlock()
}

// checkStall alerts when a running order has produced no event within the
// stall window.
func (m *Monitor) checkStall(ctx context.Context, v *orderView) {
	if v.lastTS.IsZero() {
		return
	}
	delta := time.Since(v.lastTS)
	if delta <= m.cfg.StallAfter {
		return
	}

	msg := fmt.Sprintf("order %s stalled for %ds", v.orderID, int(delta.Seconds()))
	if m.signals.Emit(ctx, AlertStalled, msg, v.runID, v.orderID, map[string]any{
		"delta_seconds": int(delta.Seconds()),
		"last_status":   models.StatusRunning,
	}) {
		m.bump(func(s *Stats) { s.StalledDetected++; s.AlertsEmitted++ })
	}
}

// checkIntegrity verifies a completed order's surviving worktree: the AAR
// must be present and the tree must be git-clean. A missing worktree is
// normal (archived by the conductor) and is skipped.
func (m *Monitor) checkIntegrity(ctx context.Context, v *orderView) {
	if v.worktree == "" {
		return
	}
	if _, err := os.Stat(v.worktree); err != nil {
		return
	}

	if _, err := os.Stat(filepath.Join(v.worktree, "aar.json")); err != nil {
		msg := fmt.Sprintf("completed order %s missing aar.json", v.orderID)
		if m.signals.Emit(ctx, AlertIntegrityFailed, msg, v.runID, v.orderID, map[string]any{
			"missing":  "aar.json",
			"worktree": v.worktree,
		}) {
			m.bump(func(s *Stats) { s.IntegrityFailures++; s.AlertsEmitted++ })
		}
		return
	}

	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = v.worktree
	out, err := cmd.Output()
	if err != nil {
		slog.Warn("Git status failed during integrity check",
			"order_id", v.orderID, "error", err)
		return
	}
	if dirty := strings.TrimSpace(string(out)); dirty != "" {
		msg := fmt.Sprintf("completed order %s has uncommitted changes", v.orderID)
		if m.signals.Emit(ctx, AlertIntegrityFailed, msg, v.runID, v.orderID, map[string]any{
			"git_status": dirty,
		}) {
			m.bump(func(s *Stats) { s.IntegrityFailures++; s.AlertsEmitted++ })
		}
	}
}

// checkOrphans scans the theater's worktree directory for trees the
// ledger has never heard of. Terminal-state worktrees are logged only.
func (m *Monitor) checkOrphans(ctx context.Context) {
	wtRoot := filepath.Join(m.cfg.TheaterRoot, m.cfg.Theater, "worktrees")
	entries, err := os.ReadDir(wtRoot)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		orderID := entry.Name()

		snap, err := m.ledger.GetOrder(ctx, orderID)
		if err != nil {
			slog.Warn("Orphan check could not query ledger",
				"order_id", orderID, "error", err)
			continue
		}
		if snap != nil {
			if snap.Status == models.StatusCompleted || snap.Status == models.StatusFailed {
				slog.Debug("Terminal worktree awaiting cleanup",
					"order_id", orderID, "status", snap.Status)
			}
			continue
		}

		path := filepath.Join(wtRoot, orderID)
		msg := fmt.Sprintf("orphan worktree %s: order not found in ledger", orderID)
		if m.signals.Emit(ctx, AlertOrphanWorktree, msg, "", orderID, map[string]any{
			"path": path,
		}) {
			m.bump(func(s *Stats) { s.OrphansDetected++; s.AlertsEmitted++ })

			if m.cfg.EnableVaultCleanup {
				if _, err := m.vault.RemoveWorktree(ctx, m.cfg.Theater, orderID); err != nil {
					slog.Warn("Orphan cleanup via vault failed",
						"order_id", orderID, "error", err)
				}
			}
		}
	}
}

// Stats returns a copy of the counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Monitor) bump(f func(*Stats)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f(&m.stats)
}
