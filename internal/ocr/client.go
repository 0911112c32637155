// Package ocr implements the HTTP client for the external OCR collaborator.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jurisia/intake/internal/pipeline"
)

// Config points at the OCR collaborator endpoint.
type Config struct {
	URL     string
	Timeout time.Duration
}

// Client calls the OCR collaborator over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New builds a Client. A zero timeout defaults to thirty seconds.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type recognizeRequest struct {
	BlobURI string `json:"blob_uri"`
}

type recognizeResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Recognize submits a stored attachment for recognition.
func (c *Client) Recognize(ctx context.Context, blobURI string) (pipeline.OCRResult, error) {
	body, err := json.Marshal(recognizeRequest{BlobURI: blobURI})
	if err != nil {
		return pipeline.OCRResult{}, fmt.Errorf("marshal ocr request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return pipeline.OCRResult{}, fmt.Errorf("build ocr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pipeline.OCRResult{}, fmt.Errorf("call ocr service: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // response body close

	if resp.StatusCode != http.StatusOK {
		return pipeline.OCRResult{}, fmt.Errorf("ocr service returned status %d", resp.StatusCode)
	}
	var decoded recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return pipeline.OCRResult{}, fmt.Errorf("decode ocr response: %w", err)
	}
	return pipeline.OCRResult{Text: decoded.Text, Confidence: decoded.Confidence}, nil
}
