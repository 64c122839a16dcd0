package crawler

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Fetch failure kinds.
var (
	ErrFetch                  = errors.New("fetch failed")
	ErrUnsupportedContentType = errors.New("non-crawlable content type")
	ErrRetryBudgetExhausted   = errors.New("retry budget exhausted")
)

// CrawlResult is the terminal record for one URL in a run.
type CrawlResult struct {
	URL          string    `json:"url"`
	Title        string    `json:"title,omitempty"`
	Content      string    `json:"content,omitempty"`
	StatusCode   int       `json:"status_code"`
	ContentType  string    `json:"content_type,omitempty"`
	ResponseTime int64     `json:"response_time_ms"`
	Links        []string  `json:"links,omitempty"`
	Depth        int       `json:"depth"`
	Technologies []string  `json:"technologies,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Failed reports whether the result records an error rather than a page.
func (r *CrawlResult) Failed() bool {
	return r.StatusCode < 200 || r.StatusCode >= 300
}

// FetchOptions controls a single fetch.
type FetchOptions struct {
	UserAgent       string
	Timeout         time.Duration
	FollowRedirects bool
	MaxRedirects    int
	MaxBodySize     int
}

// Link is an anchor found on a page together with the element it sits in.
type Link struct {
	URL     string
	Element *Element
}

// Page is what a Fetcher returns for a completed HTTP exchange, whatever its status.
type Page struct {
	URL          string
	StatusCode   int
	ContentType  string
	Headers      http.Header
	Title        string
	Text         string
	Links        []Link
	Body         []byte
	ResponseTime time.Duration
}

// Location returns the redirect target header, if any.
func (p *Page) Location() string {
	if p.Headers == nil {
		return ""
	}
	return p.Headers.Get("Location")
}

// Fetcher retrieves and parses a page. Network and parse failures are
// returned as errors wrapping ErrFetch; HTTP error statuses are not errors.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts FetchOptions) (*Page, error)
}
