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

// Worker is the HTTP client for the worker service. The conductor blocks
// synchronously on Execute; there is no queue in between.
type Worker struct {
	baseURL    string
	httpClient *http.Client
}

// NewWorker creates a worker client. maxWait bounds the whole execution
// round trip and should exceed the hard timeout handed to the worker.
func NewWorker(baseURL string, maxWait time.Duration) *Worker {
	return &Worker{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: maxWait},
	}
}

// Execute runs one order attempt to completion. Domain failures come back
// as HTTP 200 with status=failed; only transport problems return an error.
func (c *Worker) Execute(ctx context.Context, req models.ExecuteRequest) (*models.ExecuteResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode execute request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute order %s: %w", req.OrderID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("worker returned HTTP %d for order %s: %s",
			resp.StatusCode, req.OrderID, readErrorBody(resp.Body))
	}

	var out models.ExecuteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode execute response: %w", err)
	}
	return &out, nil
}
