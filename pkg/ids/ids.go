// Package ids implements the deterministic id derivation and event-id
// schemes shared by the conductor and the worker. Both sides must agree:
// the schemes are part of the wire contract and the ledger's idempotency
// relies on them.
package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/ironclaw-dev/ironclaw/pkg/models"
)

// Derive maps a caller-supplied request id to stable run/order ids. The
// same request id always yields the same ids; this is the idempotency
// backbone. Without a request id a random UUID is generated and the short
// ids are derived from its prefix — such ids are not time-ordered, so
// ordering must come from ledger insertion order.
func Derive(requestID string) (runID, orderID, internalRequestID string) {
	if requestID != "" {
		h := sha256.Sum256([]byte(requestID))
		hx := hex.EncodeToString(h[:])
		return "run_" + hx[:16], "order_" + hx[:16], requestID
	}
	internalRequestID = uuid.NewString()
	return "run_" + internalRequestID[:8], "order_" + internalRequestID[:8], internalRequestID
}

// EventID returns the deterministic ledger event id for an event emitted
// on behalf of a request. Terminal events encode the request id directly
// so that a conductor and a retried worker producing the same terminal
// event collide at the ledger and become a no-op. All other events hash a
// colon-delimited seed down to 32 hex characters.
func EventID(requestID, eventType, runID, orderID string, attempt int) string {
	switch eventType {
	case models.EventOrderCompleted:
		return requestID + "-completed"
	case models.EventOrderFailed:
		return requestID + "-failed"
	}
	seed := fmt.Sprintf("%s:%s:%s:%s:%d", requestID, eventType, runID, orderID, attempt)
	h := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(h[:])[:32]
}

// WorkerEventID is the fallback scheme for worker emissions that carry no
// request id: worker-<order>-<attempt>-<status>.
func WorkerEventID(orderID string, attempt int, status string) string {
	return fmt.Sprintf("worker-%s-%d-%s", orderID, attempt, status)
}

// HashText returns the sha256 hex digest of a prompt or response body,
// recorded in the AAR and model-call events.
func HashText(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}
