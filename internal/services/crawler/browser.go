// -----------------------------------------------------------------------
// Browser - headless Chrome rendering for JavaScript pages and social profiles
// -----------------------------------------------------------------------

package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

// Renderer returns the DOM of a page after its scripts have run
type Renderer interface {
	Render(ctx context.Context, url string, wait time.Duration) (html string, finalURL string, err error)
}

// ChromeRenderer renders pages in tabs of one lazily started headless Chrome
type ChromeRenderer struct {
	mu              sync.Mutex
	userAgent       string
	timeout         time.Duration
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	allocatorCancel context.CancelFunc
	logger          arbor.ILogger
}

// NewChromeRenderer creates a renderer. Chrome is started on first use.
func NewChromeRenderer(userAgent string, timeout time.Duration, logger arbor.ILogger) *ChromeRenderer {
	return &ChromeRenderer{
		userAgent: userAgent,
		timeout:   timeout,
		logger:    logger,
	}
}

func (r *ChromeRenderer) browser() (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browserCtx != nil {
		return r.browserCtx, nil
	}

	startTime := time.Now()
	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(r.userAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	testCtx, testCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer testCancel()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	r.browserCtx = browserCtx
	r.browserCancel = browserCancel
	r.allocatorCancel = allocatorCancel

	r.logger.Info().
		Dur("startup_time", time.Since(startTime)).
		Msg("Headless browser started")
	return browserCtx, nil
}

// Render navigates a new tab to url, waits, and returns the outer HTML
func (r *ChromeRenderer) Render(ctx context.Context, url string, wait time.Duration) (string, string, error) {
	browserCtx, err := r.browser()
	if err != nil {
		return "", "", err
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()
	tabCtx, timeoutCancel := context.WithTimeout(tabCtx, r.timeout+wait)
	defer timeoutCancel()

	// Stop the tab when the caller gives up
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	var html, location string
	err = chromedp.Run(tabCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": "en-US,en;q=0.9"}),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(wait),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", "", fmt.Errorf("render %s: %w", url, err)
	}
	return html, location, nil
}

// Close shuts the browser down
func (r *ChromeRenderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browserCancel != nil {
		r.browserCancel()
		r.allocatorCancel()
		r.browserCtx = nil
		r.browserCancel = nil
		r.allocatorCancel = nil
		r.logger.Debug().Msg("Headless browser stopped")
	}
}
