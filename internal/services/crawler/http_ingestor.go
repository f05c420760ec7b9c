package crawler

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/models"
)

// HTTPIngestor fetches pages directly over HTTP and converts them to markdown
type HTTPIngestor struct {
	client    *http.Client
	config    common.CrawlerConfig
	retry     *RetryPolicy
	processor *ContentProcessor
	logger    arbor.ILogger
}

// NewHTTPIngestor creates a direct HTTP ingestor. client should use the
// SSRF-safe transport from validation.NewTransport.
func NewHTTPIngestor(config common.CrawlerConfig, client *http.Client, logger arbor.ILogger) *HTTPIngestor {
	return &HTTPIngestor{
		client:    client,
		config:    config,
		retry:     NewRetryPolicy(config.RetryMaxAttempts),
		processor: NewContentProcessor(logger),
		logger:    logger,
	}
}

// NewHTTPClient builds the crawl client around transport
func NewHTTPClient(config common.CrawlerConfig, transport http.RoundTripper) *http.Client {
	return &http.Client{
		Transport: transport,
		Timeout:   common.ParseDurationOr(config.RequestTimeout, 30*time.Second),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("stopped after %d redirects", len(via))
			}
			return nil
		},
	}
}

type httpResponse struct {
	body        []byte
	contentType string
	finalURL    string
}

func (h *HTTPIngestor) Fetch(ctx context.Context, url string) (*models.RawPage, error) {
	start := time.Now()

	var resp httpResponse
	statusCode, err := h.retry.ExecuteWithRetry(ctx, h.logger, func() (int, error) {
		return h.fetchOnce(ctx, url, &resp)
	})
	fetchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if models.FetchFailureKind(err) != "" {
			return nil, err
		}
		return nil, models.NewNetworkError(url, statusCode, err)
	}
	if fetchErr := statusFailure(url, statusCode); fetchErr != nil {
		return nil, fetchErr
	}

	mediaType, _, _ := mime.ParseMediaType(resp.contentType)
	if !h.allowedContentType(mediaType) {
		return nil, models.NewBlockedError(url, fmt.Sprintf("content type %q is not crawled", mediaType))
	}

	var processed *ProcessedContent
	if mediaType == "text/html" || mediaType == "application/xhtml+xml" || mediaType == "" {
		processed, err = h.processor.ProcessHTML(string(resp.body), resp.finalURL)
		if err != nil {
			return nil, models.Permanent(fmt.Errorf("process %s: %w", url, err))
		}
	} else {
		processed = h.processor.ProcessText(string(resp.body))
	}

	return &models.RawPage{
		URL:         url,
		FinalURL:    resp.finalURL,
		Title:       processed.Title,
		Content:     processed.Markdown,
		ContentType: mediaType,
		StatusCode:  statusCode,
		Links:       processed.Links,
		FetchedAt:   time.Now(),
	}, nil
}

func (h *HTTPIngestor) fetchOnce(ctx context.Context, url string, out *httpResponse) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, models.NewInvalidURLError(url, err)
	}
	req.Header.Set("User-Agent", h.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return resp.StatusCode, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, h.config.MaxBodySize+1))
	if err != nil {
		return resp.StatusCode, err
	}
	if int64(len(body)) > h.config.MaxBodySize {
		h.logger.Warn().
			Str("url", url).
			Int64("max_body_size", h.config.MaxBodySize).
			Msg("Response body truncated")
		body = body[:h.config.MaxBodySize]
	}

	out.body = body
	out.contentType = resp.Header.Get("Content-Type")
	out.finalURL = resp.Request.URL.String()
	return resp.StatusCode, nil
}

// statusFailure maps a final HTTP status onto the fetch failure taxonomy
func statusFailure(url string, statusCode int) error {
	switch {
	case statusCode < 400:
		return nil
	case isRetryableStatus(statusCode):
		return models.NewNetworkError(url, statusCode, fmt.Errorf("server returned %d", statusCode))
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return models.NewBlockedError(url, fmt.Sprintf("access denied (%d)", statusCode))
	default:
		return models.NewInvalidURLError(url, fmt.Errorf("server returned %d", statusCode))
	}
}

func (h *HTTPIngestor) allowedContentType(mediaType string) bool {
	if len(h.config.AllowedContentTypes) == 0 || mediaType == "" {
		return true
	}
	for _, allowed := range h.config.AllowedContentTypes {
		if strings.EqualFold(allowed, mediaType) {
			return true
		}
	}
	return false
}
