// Package rest implements the source adapter for tribunals exposing a
// JSON publications API with cursor pagination.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jurisia/intake/internal/config"
	"github.com/jurisia/intake/internal/pipeline"
	"github.com/jurisia/intake/internal/source"
)

const maxPagesPerRun = 20

// Adapter pages through a tribunal's JSON publications endpoint.
type Adapter struct {
	sourceID string
	baseURL  string
	pageSize int
	client   *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// New constructs a REST adapter from the source registry entry.
func New(cfg config.SourceConfig, logger *zap.Logger) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("rest adapter %s: url required", cfg.ID)
	}
	qps := cfg.RatePerSecond
	if qps <= 0 {
		qps = 1
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Adapter{
		sourceID: cfg.ID,
		baseURL:  cfg.URL,
		pageSize: pageSize,
		client:   &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(qps), 1),
		logger:   logger,
	}, nil
}

// SourceID returns the registry identifier for this tribunal API.
func (a *Adapter) SourceID() string { return a.sourceID }

type apiAttachment struct {
	Ref         string `json:"ref"`
	ContentType string `json:"content_type"`
}

type apiItem struct {
	ExternalRef string         `json:"external_ref"`
	ProcessRef  string         `json:"process_ref"`
	Text        string         `json:"text"`
	PublishedAt time.Time      `json:"published_at"`
	Attachment  *apiAttachment `json:"attachment,omitempty"`
}

type apiPage struct {
	Items      []apiItem `json:"items"`
	NextCursor string    `json:"next_cursor"`
}

// Fetch pages through /publications starting at sinceCursor.
func (a *Adapter) Fetch(ctx context.Context, sinceCursor string) (pipeline.FetchResult, error) {
	result := pipeline.FetchResult{Outcome: pipeline.OutcomeSuccess, NextCursor: sinceCursor}
	cursor := sinceCursor
	for pages := 0; pages < maxPagesPerRun; pages++ {
		if err := a.limiter.Wait(ctx); err != nil {
			return result, fmt.Errorf("rate limit wait: %w", err)
		}

		page, blocked, err := a.getPage(ctx, cursor)
		if blocked {
			result.Outcome = pipeline.OutcomeBlocked
			return result, nil
		}
		if err != nil {
			if len(result.Records) > 0 {
				result.Outcome = pipeline.OutcomePartialFailure
				a.logger.Warn("publications page fetch failed mid-run",
					zap.String("source_id", a.sourceID),
					zap.Error(err),
				)
				return result, nil
			}
			result.Outcome = pipeline.OutcomeError
			return result, err
		}

		for _, item := range page.Items {
			rec := pipeline.RawRecord{
				ExternalRef: item.ExternalRef,
				ProcessRef:  item.ProcessRef,
				RawText:     item.Text,
				PublishedAt: item.PublishedAt,
			}
			if item.Attachment != nil {
				rec.Attachment = &pipeline.Attachment{
					Ref:         item.Attachment.Ref,
					ContentType: item.Attachment.ContentType,
				}
			}
			result.Records = append(result.Records, rec)
		}

		if page.NextCursor == "" || page.NextCursor == cursor {
			if page.NextCursor != "" {
				result.NextCursor = page.NextCursor
			}
			return result, nil
		}
		cursor = page.NextCursor
		result.NextCursor = cursor
	}
	return result, nil
}

func (a *Adapter) getPage(ctx context.Context, cursor string) (apiPage, bool, error) {
	u, err := url.Parse(a.baseURL)
	if err != nil {
		return apiPage{}, false, fmt.Errorf("parse api url: %w", err)
	}
	u = u.JoinPath("publications")
	q := u.Query()
	q.Set("limit", strconv.Itoa(a.pageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return apiPage{}, false, fmt.Errorf("build publications request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return apiPage{}, false, fmt.Errorf("get publications: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return apiPage{}, false, fmt.Errorf("read publications response: %w", err)
	}
	if source.Blocked(resp.StatusCode, nil) {
		return apiPage{}, true, nil
	}
	if resp.StatusCode != http.StatusOK {
		return apiPage{}, false, fmt.Errorf("get publications: unexpected status %d", resp.StatusCode)
	}

	var page apiPage
	if err := json.Unmarshal(body, &page); err != nil {
		return apiPage{}, false, fmt.Errorf("decode publications response: %w", err)
	}
	return page, false, nil
}
