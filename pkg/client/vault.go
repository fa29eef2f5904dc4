package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ironclaw-dev/ironclaw/pkg/models"
)

// Vault is the HTTP client for the vault service.
type Vault struct {
	baseURL    string
	httpClient *http.Client
}

// NewVault creates a vault client. Archive + remove of a large worktree
// can take a while, hence the generous timeout.
func NewVault(baseURL string) *Vault {
	return &Vault{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// CreateWorktree provisions (or finds) the per-order worktree.
func (c *Vault) CreateWorktree(ctx context.Context, theater, orderID, baseRef string) (*models.WorktreeResponse, error) {
	body, err := json.Marshal(models.WorktreeCreateRequest{
		Theater: theater,
		OrderID: orderID,
		BaseRef: baseRef,
	})
	if err != nil {
		return nil, fmt.Errorf("encode worktree request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/worktrees", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create worktree %s: %w", orderID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vault returned HTTP %d creating worktree %s: %s",
			resp.StatusCode, orderID, readErrorBody(resp.Body))
	}

	var out models.WorktreeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode worktree response: %w", err)
	}
	return &out, nil
}

// RemoveWorktree archives then removes the worktree, returning the
// archive path.
func (c *Vault) RemoveWorktree(ctx context.Context, theater, orderID string) (*models.RemoveResponse, error) {
	url := fmt.Sprintf("%s/worktrees/%s/%s/remove", c.baseURL, theater, orderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remove worktree %s: %w", orderID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vault returned HTTP %d removing worktree %s: %s",
			resp.StatusCode, orderID, readErrorBody(resp.Body))
	}

	var out models.RemoveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode remove response: %w", err)
	}
	return &out, nil
}

func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 1024))
	if err != nil {
		return ""
	}
	return string(b)
}
