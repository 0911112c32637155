// Package diario implements the source adapter for diário oficial HTML
// portals.
package diario

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jurisia/intake/internal/config"
	"github.com/jurisia/intake/internal/pipeline"
	"github.com/jurisia/intake/internal/source"
)

// Pagination stops after this many pages per run; the remainder is
// picked up by the next scheduled run via the cursor.
const maxPagesPerRun = 20

// Adapter fetches publications from a diário oficial listing portal.
type Adapter struct {
	sourceID string
	baseURL  string
	base     *colly.Collector
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// New constructs a diário adapter from the source registry entry.
func New(cfg config.SourceConfig, logger *zap.Logger) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("diario adapter %s: url required", cfg.ID)
	}
	base := colly.NewCollector(colly.UserAgent(cfg.UserAgent))
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})
	base.SetRequestTimeout(30 * time.Second)

	qps := cfg.RatePerSecond
	if qps <= 0 {
		qps = 1
	}
	return &Adapter{
		sourceID: cfg.ID,
		baseURL:  cfg.URL,
		base:     base,
		limiter:  rate.NewLimiter(rate.Limit(qps), 1),
		logger:   logger,
	}, nil
}

// SourceID returns the registry identifier for this portal.
func (a *Adapter) SourceID() string { return a.sourceID }

// Fetch walks the portal pages starting from sinceCursor (a diário
// edition identifier) and returns every publication record found. A
// CAPTCHA or auth wall stops the walk with a blocked outcome.
func (a *Adapter) Fetch(ctx context.Context, sinceCursor string) (pipeline.FetchResult, error) {
	pageURL, err := a.listURL(sinceCursor)
	if err != nil {
		return pipeline.FetchResult{Outcome: pipeline.OutcomeError}, err
	}

	result := pipeline.FetchResult{Outcome: pipeline.OutcomeSuccess, NextCursor: sinceCursor}
	for pages := 0; pageURL != "" && pages < maxPagesPerRun; pages++ {
		if err := a.limiter.Wait(ctx); err != nil {
			return result, fmt.Errorf("rate limit wait: %w", err)
		}

		status, body, err := a.get(ctx, pageURL)
		if err == nil && status != http.StatusOK && !source.Blocked(status, body) {
			err = fmt.Errorf("unexpected status %d", status)
		}
		if err != nil {
			if len(result.Records) > 0 {
				result.Outcome = pipeline.OutcomePartialFailure
				a.logger.Warn("diario page fetch failed mid-run",
					zap.String("source_id", a.sourceID),
					zap.String("url", pageURL),
					zap.Error(err),
				)
				return result, nil
			}
			result.Outcome = pipeline.OutcomeError
			return result, fmt.Errorf("fetch diario page: %w", err)
		}
		if source.Blocked(status, body) {
			result.Outcome = pipeline.OutcomeBlocked
			return result, nil
		}

		page, err := source.ParseDiarioPage(body)
		if err != nil {
			result.Outcome = pipeline.OutcomeError
			return result, err
		}
		result.Records = append(result.Records, page.Records...)
		if page.Edition != "" {
			result.NextCursor = page.Edition
		}

		pageURL, err = a.resolveNext(page.NextPath)
		if err != nil {
			result.Outcome = pipeline.OutcomePartialFailure
			return result, nil
		}
	}
	return result, nil
}

func (a *Adapter) listURL(cursor string) (string, error) {
	u, err := url.Parse(a.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse diario url: %w", err)
	}
	if cursor != "" {
		q := u.Query()
		q.Set("desde", cursor)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (a *Adapter) resolveNext(nextPath string) (string, error) {
	if nextPath == "" {
		return "", nil
	}
	base, err := url.Parse(a.baseURL)
	if err != nil {
		return "", err
	}
	next, err := url.Parse(nextPath)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(next).String(), nil
}

type pageResult struct {
	status int
	body   []byte
	err    error
}

func (a *Adapter) get(ctx context.Context, pageURL string) (int, []byte, error) {
	collector := a.base.Clone()
	resultCh := make(chan pageResult, 1)
	var once sync.Once
	send := func(res pageResult) {
		once.Do(func() { resultCh <- res })
	}

	collector.OnResponse(func(r *colly.Response) {
		send(pageResult{status: r.StatusCode, body: append([]byte{}, r.Body...)})
	})
	collector.OnError(func(r *colly.Response, err error) {
		// Colly reports 4xx/5xx through OnError; keep the body so the
		// caller can still run block detection on challenge pages.
		if r != nil && r.StatusCode != 0 {
			send(pageResult{status: r.StatusCode, body: append([]byte{}, r.Body...)})
			return
		}
		if err == nil {
			err = errors.New("unknown colly error")
		}
		send(pageResult{err: err})
	})

	if err := collector.Visit(pageURL); err != nil {
		return 0, nil, err
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}
		return res.status, res.body, res.err
	default:
		return 0, nil, errors.New("colly fetch produced no result")
	}
}
