// Package htmlfetch retrieves live page HTML for schema generation. Fetches
// are rate limited per fetcher so a large batch does not hammer the site.
package htmlfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// maxBodyBytes caps how much of a page is read; schema generation only needs
// the head and main content, not multi-megabyte payloads.
const maxBodyBytes = 4 << 20

// Result is a fetched page plus the signals the pipeline cares about.
type Result struct {
	URL          string
	StatusCode   int
	HTML         string
	Title        string
	JSONLDBlocks int // existing ld+json scripts already on the page
}

// Fetcher retrieves page HTML.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Result, error)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("htmlfetch: %s returned HTTP %d", e.URL, e.StatusCode)
}

// HTTPStatus exposes the status code for retry classification.
func (e *StatusError) HTTPStatus() int {
	return e.StatusCode
}

// Option configures the httpFetcher.
type Option func(*httpFetcher)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(f *httpFetcher) {
		f.hc = hc
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *httpFetcher) {
		f.userAgent = ua
	}
}

type httpFetcher struct {
	hc        *http.Client
	limiter   *rate.Limiter
	userAgent string
}

// New creates a rate-limited fetcher. requestsPerSec bounds sustained
// throughput; zero or negative disables limiting.
func New(requestsPerSec float64, opts ...Option) Fetcher {
	limit := rate.Inf
	if requestsPerSec > 0 {
		limit = rate.Limit(requestsPerSec)
	}
	f := &httpFetcher{
		hc:        &http.Client{Timeout: 30 * time.Second},
		limiter:   rate.NewLimiter(limit, 1),
		userAgent: "schema-cli/1.0",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *httpFetcher) Fetch(ctx context.Context, url string) (*Result, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "htmlfetch: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "htmlfetch: build request for %s", url)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := f.hc.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "htmlfetch: get %s", url)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrapf(err, "htmlfetch: read %s", url)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	result := &Result{
		URL:        url,
		StatusCode: resp.StatusCode,
		HTML:       string(body),
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(result.HTML))
	if err != nil {
		// Unparseable HTML is still usable as raw text downstream.
		return result, nil
	}
	result.Title = strings.TrimSpace(doc.Find("title").First().Text())
	result.JSONLDBlocks = doc.Find(`script[type="application/ld+json"]`).Length()
	return result, nil
}
