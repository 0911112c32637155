// Package taskboard implements the external task board client.
package taskboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jurisia/intake/internal/pipeline"
)

// Config points at the task board endpoint.
type Config struct {
	URL     string
	Timeout time.Duration
}

// Client creates work items over HTTP. The board deduplicates on the
// Idempotency-Key header, so retries of the same publication are safe.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New builds a Client. A zero timeout defaults to fifteen seconds.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type createResponse struct {
	WorkItemRef string `json:"work_item_ref"`
}

// CreateWorkItem posts the work item and returns the board's reference.
func (c *Client) CreateWorkItem(ctx context.Context, spec pipeline.WorkItemSpec) (string, error) {
	body, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("marshal work item: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/work-items", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build work item request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", spec.IdempotencyToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call task board: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // response body close

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("task board returned status %d", resp.StatusCode)
	}
	var decoded createResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode task board response: %w", err)
	}
	if decoded.WorkItemRef == "" {
		return "", fmt.Errorf("task board returned empty work_item_ref")
	}
	return decoded.WorkItemRef, nil
}
