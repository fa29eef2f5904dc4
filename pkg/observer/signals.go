package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ironclaw-dev/ironclaw/pkg/client"
	"github.com/ironclaw-dev/ironclaw/pkg/models"
)

// Signals emits deduplicated alerts: once per (alert_type, run_id,
// order_id) per TTL window. Every non-suppressed alert is appended to a
// local audit stream and posted to the ledger. The dedupe cache is
// in-memory only; a restart may re-fire an alert once, which is
// acceptable.
type Signals struct {
	ledger    *client.Ledger
	theater   string
	auditPath string
	ttl       time.Duration

	mu     sync.Mutex
	dedupe map[string]time.Time

	now func() time.Time
}

// NewSignals builds the alert emitter. The audit directory is created
// lazily on first emission.
func NewSignals(ledger *client.Ledger, theater, auditPath string, ttl time.Duration) *Signals {
	return &Signals{
		ledger:    ledger,
		theater:   theater,
		auditPath: auditPath,
		ttl:       ttl,
		dedupe:    make(map[string]time.Time),
		now:       time.Now,
	}
}

// Emit raises one alert unless the same episode fired within the TTL.
// Returns true when the alert actually went out.
func (s *Signals) Emit(ctx context.Context, alertType, message, runID, orderID string, extra map[string]any) bool {
	key := alertType + ":" + runID + ":" + orderID
	now := s.now()

	s.mu.Lock()
	if last, ok := s.dedupe[key]; ok && now.Sub(last) < s.ttl {
		s.mu.Unlock()
		return false
	}
	s.dedupe[key] = now
	s.mu.Unlock()

	payload := map[string]any{
		"theater":     s.theater,
		"alert_type":  alertType,
		"message":     message,
		"run_id":      runID,
		"order_id":    orderID,
		"observed_at": now.UTC().Format(time.RFC3339Nano),
	}
	for k, v := range extra {
		payload[k] = v
	}

	s.appendAudit(payload)

	eventID := fmt.Sprintf("obs-%s-%s-%s-%d",
		alertType, orEmpty(runID), orEmpty(orderID), now.Unix())
	_, err := s.ledger.EmitEvent(ctx, models.CreateEventRequest{
		EventID:   eventID,
		RunID:     runID,
		OrderID:   orderID,
		EventType: "observer." + alertType,
		Payload:   payload,
	})
	if err != nil {
		slog.Warn("Alert emission to ledger failed", "alert_type", alertType, "error", err)
	}

	slog.Info("Alert emitted", "alert_type", alertType, "order_id", orderID, "message", message)
	return true
}

// Snapshot returns the dedupe cache: episode key to last emission time.
func (s *Signals) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.dedupe))
	for k, v := range s.dedupe {
		out[k] = v.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func (s *Signals) appendAudit(payload map[string]any) {
	if err := os.MkdirAll(filepath.Dir(s.auditPath), 0o755); err != nil {
		slog.Warn("Audit dir creation failed", "error", err)
		return
	}
	f, err := os.OpenFile(s.auditPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Warn("Audit log open failed", "error", err)
		return
	}
	defer f.Close()

	line, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		slog.Warn("Audit log write failed", "error", err)
	}
}

func orEmpty(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
