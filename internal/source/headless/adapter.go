// Package headless implements the source adapter for portals that only
// render their publication listing through JavaScript. It drives a
// shared headless Chrome via chromedp and reuses the diário page parser
// on the rendered DOM.
package headless

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jurisia/intake/internal/config"
	"github.com/jurisia/intake/internal/pipeline"
	"github.com/jurisia/intake/internal/source"
)

// Browser owns the shared Chrome process; adapters for different portals
// open tabs against it.
type Browser struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	sem             chan struct{}
}

// NewBrowser starts headless Chrome with at most maxTabs concurrent tabs.
func NewBrowser(userAgent string, maxTabs int) (*Browser, error) {
	if maxTabs <= 0 {
		maxTabs = 2
	}
	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(userAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	return &Browser{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		sem:             make(chan struct{}, maxTabs),
	}, nil
}

// Close tears down the Chrome process.
func (b *Browser) Close() {
	if b == nil {
		return
	}
	b.browserCancel()
	b.allocatorCancel()
}

func (b *Browser) acquireTab(ctx context.Context) (func(), error) {
	select {
	case b.sem <- struct{}{}:
		return func() { <-b.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire tab: %w", ctx.Err())
	}
}

// Adapter fetches publications from a JS-rendered portal.
type Adapter struct {
	sourceID string
	baseURL  string
	browser  *Browser
	limiter  *rate.Limiter
	timeout  time.Duration
	logger   *zap.Logger
}

// New constructs a headless adapter bound to the shared browser.
func New(cfg config.SourceConfig, browser *Browser, logger *zap.Logger) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("headless adapter %s: url required", cfg.ID)
	}
	if browser == nil {
		return nil, fmt.Errorf("headless adapter %s: browser required", cfg.ID)
	}
	qps := cfg.RatePerSecond
	if qps <= 0 {
		qps = 0.5
	}
	return &Adapter{
		sourceID: cfg.ID,
		baseURL:  cfg.URL,
		browser:  browser,
		limiter:  rate.NewLimiter(rate.Limit(qps), 1),
		timeout:  60 * time.Second,
		logger:   logger,
	}, nil
}

// SourceID returns the registry identifier for this portal.
func (a *Adapter) SourceID() string { return a.sourceID }

// Fetch renders the listing page and parses the resulting DOM. These
// portals paginate client-side, so a single render per run is enough;
// the edition cursor skips already-seen editions on the next run.
func (a *Adapter) Fetch(ctx context.Context, sinceCursor string) (pipeline.FetchResult, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return pipeline.FetchResult{Outcome: pipeline.OutcomeError}, fmt.Errorf("rate limit wait: %w", err)
	}

	pageURL, err := a.listURL(sinceCursor)
	if err != nil {
		return pipeline.FetchResult{Outcome: pipeline.OutcomeError}, err
	}

	status, html, err := a.render(ctx, pageURL)
	if err != nil {
		return pipeline.FetchResult{Outcome: pipeline.OutcomeError}, fmt.Errorf("render %s: %w", pageURL, err)
	}
	if source.Blocked(status, html) {
		return pipeline.FetchResult{Outcome: pipeline.OutcomeBlocked, NextCursor: sinceCursor}, nil
	}

	page, err := source.ParseDiarioPage(html)
	if err != nil {
		return pipeline.FetchResult{Outcome: pipeline.OutcomeError}, err
	}
	result := pipeline.FetchResult{
		Records:    page.Records,
		NextCursor: sinceCursor,
		Outcome:    pipeline.OutcomeSuccess,
	}
	if page.Edition != "" {
		result.NextCursor = page.Edition
	}
	return result, nil
}

func (a *Adapter) listURL(cursor string) (string, error) {
	u, err := url.Parse(a.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse portal url: %w", err)
	}
	if cursor != "" {
		q := u.Query()
		q.Set("desde", cursor)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (a *Adapter) render(ctx context.Context, pageURL string) (int, []byte, error) {
	release, err := a.browser.acquireTab(ctx)
	if err != nil {
		return 0, nil, err
	}
	defer release()

	tabCtx, cancelTab := chromedp.NewContext(a.browser.browserCtx)
	defer cancelTab()
	taskCtx, cancelTask := context.WithTimeout(tabCtx, a.timeout)
	defer cancelTask()

	stop := forwardCancel(ctx, cancelTask)
	defer stop()

	var (
		once   sync.Once
		status int
	)
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		once.Do(func() { status = int(resp.Response.Status) })
	})

	var html string
	tasks := chromedp.Tasks{
		network.Enable(),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return 0, nil, fmt.Errorf("chromedp run: %w", err)
	}
	return status, []byte(html), nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
