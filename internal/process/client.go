// Package process implements the read-only process registry client.
package process

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jurisia/intake/internal/pipeline"
)

// Config points at the process registry endpoint.
type Config struct {
	URL     string
	Timeout time.Duration
}

// Client resolves case metadata over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New builds a Client. A zero timeout defaults to ten seconds.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetProcess looks up a process by reference. A 404 maps to
// pipeline.ErrNotFound so the caller can triage with unknown_process.
func (c *Client) GetProcess(ctx context.Context, processRef string) (pipeline.ProcessInfo, error) {
	endpoint := fmt.Sprintf("%s/processes/%s", c.cfg.URL, url.PathEscape(processRef))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return pipeline.ProcessInfo{}, fmt.Errorf("build process request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pipeline.ProcessInfo{}, fmt.Errorf("call process registry: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // response body close

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return pipeline.ProcessInfo{}, pipeline.ErrNotFound
	default:
		return pipeline.ProcessInfo{}, fmt.Errorf("process registry returned status %d", resp.StatusCode)
	}
	var info pipeline.ProcessInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return pipeline.ProcessInfo{}, fmt.Errorf("decode process response: %w", err)
	}
	return info, nil
}
