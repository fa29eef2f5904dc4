// Package client provides the typed HTTP clients the services use to talk
// to each other. All payloads are JSON; transport errors are returned to
// the caller, which decides whether the emission is best-effort.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ironclaw-dev/ironclaw/pkg/models"
)

// Ledger is the HTTP client for the ledger service.
type Ledger struct {
	baseURL    string
	httpClient *http.Client
}

// NewLedger creates a ledger client. The short timeout matches the
// best-effort nature of event emission: a slow ledger must not stall an
// order.
func NewLedger(baseURL string) *Ledger {
	return &Ledger{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// EmitEvent posts an event. Duplicate event ids are a successful no-op on
// the ledger side and surface here as status "exists".
func (c *Ledger) EmitEvent(ctx context.Context, ev models.CreateEventRequest) (*models.CreateEventResponse, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/events", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ledger returned HTTP %d for event %s", resp.StatusCode, ev.EventType)
	}

	var out models.CreateEventResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode event response: %w", err)
	}
	return &out, nil
}

// GetOrder fetches an order snapshot. A missing order returns (nil, nil):
// absence is a normal answer for the idempotency check and orphan scan.
func (c *Ledger) GetOrder(ctx context.Context, orderID string) (*models.OrderSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/orders/"+orderID, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ledger returned HTTP %d for order %s", resp.StatusCode, orderID)
	}

	var snap models.OrderSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode order snapshot: %w", err)
	}
	return &snap, nil
}

// ListEvents fetches raw events, newest first. The observer uses this to
// derive per-order status without a dedicated bulk snapshot endpoint.
func (c *Ledger) ListEvents(ctx context.Context, limit int) ([]models.Event, error) {
	url := c.baseURL + "/events"
	if limit > 0 {
		url = fmt.Sprintf("%s?limit=%d", url, limit)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ledger returned HTTP %d listing events", resp.StatusCode)
	}

	var events []models.Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}
