// Package fingerprint reduces an upstream page to a content hash so that
// changes to the page can be detected without storing it.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds one page fetch.
	DefaultTimeout = 20 * time.Second
	// maxBody caps how much of a page is read.
	maxBody   = 10 << 20
	userAgent = "almanac-source-check/1.0"
)

var whitespace = regexp.MustCompile(`\s+`)

// Fetcher fingerprints the page at a URL.
type Fetcher interface {
	Fingerprint(ctx context.Context, url string) (string, error)
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fingerprint: %s: HTTP %d", e.URL, e.StatusCode)
}

// HTTPFetcher fetches pages over HTTP, pacing requests through a shared
// limiter.
type HTTPFetcher struct {
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *HTTPFetcher) {
		f.httpClient = c
	}
}

// WithTimeout sets the per-fetch timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *HTTPFetcher) {
		if d > 0 {
			f.httpClient.Timeout = d
		}
	}
}

// WithDelay spaces consecutive fetches at least d apart. Zero disables
// pacing.
func WithDelay(d time.Duration) Option {
	return func(f *HTTPFetcher) {
		if d <= 0 {
			f.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		f.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// NewHTTPFetcher creates a fetcher with DefaultTimeout and no pacing.
func NewHTTPFetcher(opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fingerprint fetches url and hashes its visible text.
func (f *HTTPFetcher) Fingerprint(ctx context.Context, url string) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("fingerprint: %s: %w", url, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %s: %w", url, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	body := io.LimitReader(resp.Body, maxBody)
	if isHTML(resp.Header.Get("Content-Type")) {
		text, err := VisibleText(body)
		if err != nil {
			return "", fmt.Errorf("fingerprint: %s: %w", url, err)
		}
		return Hash(text), nil
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %s: read body: %w", url, err)
	}
	return Hash(string(raw)), nil
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}

// VisibleText returns the text of an HTML document without script, style
// and noscript content.
func VisibleText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript").Remove()
	return doc.Text(), nil
}

// Normalize collapses whitespace runs to one space and trims the ends.
func Normalize(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// Hash is the hex sha256 of the normalized content.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(Normalize(content)))
	return hex.EncodeToString(sum[:])
}
