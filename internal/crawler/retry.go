package crawler

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/Harvey-AU/bee-crawler/internal/cache"
)

const (
	// MaxRedirectChain bounds how many redirect hops are followed from one
	// origin, whatever the client's own redirect limit is.
	MaxRedirectChain = 5

	maxBackoff = 300 * time.Second
	maxJitter  = time.Second
)

var crawlableContentTypes = []string{
	"text/html",
	"application/xhtml+xml",
	"text/xml",
	"application/xml",
	"text/plain",
	"application/json",
}

var statusText = map[int]string{
	200: "OK",
	201: "Created",
	204: "No Content",
	301: "Moved Permanently",
	302: "Found (Temporary Redirect)",
	304: "Not Modified",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	429: "Too Many Requests (Rate Limited)",
	500: "Internal Server Error",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
}

// RetryPolicy classifies HTTP outcomes and tracks per-URL retry attempts and
// redirect hops for one crawl run.
type RetryPolicy struct {
	maxRetries int
	baseDelay  time.Duration

	attempts  *cache.InMemoryCache[int]
	redirects *cache.InMemoryCache[int]

	// jitter is replaced in tests.
	jitter func() time.Duration
}

// NewRetryPolicy creates a policy allowing maxRetries retries per URL with an
// exponential backoff starting at baseDelay.
func NewRetryPolicy(maxRetries int, baseDelay time.Duration) *RetryPolicy {
	return &RetryPolicy{
		maxRetries: max(0, maxRetries),
		baseDelay:  baseDelay,
		attempts:   cache.NewInMemoryCache[int](),
		redirects:  cache.NewInMemoryCache[int](),
		jitter: func() time.Duration {
			return rand.N(maxJitter)
		},
	}
}

func (p *RetryPolicy) IsSuccess(status int) bool     { return status >= 200 && status < 300 }
func (p *RetryPolicy) IsRedirect(status int) bool    { return status >= 300 && status < 400 }
func (p *RetryPolicy) IsClientError(status int) bool { return status >= 400 && status < 500 }
func (p *RetryPolicy) IsServerError(status int) bool { return status >= 500 && status < 600 }
func (p *RetryPolicy) IsForbidden(status int) bool   { return status == http.StatusForbidden }
func (p *RetryPolicy) IsNotFound(status int) bool    { return status == http.StatusNotFound }

// IsRateLimited covers 429 and 503, which servers use interchangeably for throttling.
func (p *RetryPolicy) IsRateLimited(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// ShouldRetry reports whether a response with this status should be retried
// given the URL's attempts so far.
func (p *RetryPolicy) ShouldRetry(url string, status int) bool {
	if !p.IsServerError(status) && !p.IsRateLimited(status) {
		return false
	}
	return p.Attempts(url) < p.maxRetries
}

// CalcDelay returns min(base*2^attempts, 300s) plus up to a second of jitter.
func (p *RetryPolicy) CalcDelay(attempts int) time.Duration {
	delay := maxBackoff
	if attempts < 0 {
		attempts = 0
	}
	// Past 2^20 the cap always wins; stop shifting before it can overflow.
	if attempts < 20 {
		delay = min(p.baseDelay*time.Duration(1<<attempts), maxBackoff)
	}
	return delay + p.jitter()
}

// RetryDelay is CalcDelay for the URL's current attempt count.
func (p *RetryPolicy) RetryDelay(url string) time.Duration {
	return p.CalcDelay(p.Attempts(url))
}

// RecordAttempt increments the URL's retry count and returns the new value.
func (p *RetryPolicy) RecordAttempt(url string) int {
	return p.attempts.Update(url, func(current int, _ bool) int { return current + 1 })
}

// Attempts returns how many retries have been recorded for url.
func (p *RetryPolicy) Attempts(url string) int {
	n, _ := p.attempts.Get(url)
	return n
}

// Reset forgets the URL's retry and redirect state.
func (p *RetryPolicy) Reset(url string) {
	p.attempts.Delete(url)
	p.redirects.Delete(url)
}

// Clear drops all state; used when a run restarts.
func (p *RetryPolicy) Clear() {
	p.attempts.Clear()
	p.redirects.Clear()
}

// Exhausted reports whether url has used its whole retry budget.
func (p *RetryPolicy) Exhausted(url string) bool {
	return p.Attempts(url) >= p.maxRetries
}

// MaxRetries returns the configured retry budget.
func (p *RetryPolicy) MaxRetries() int {
	return p.maxRetries
}

// IsCrawlableContentType reports whether contentType is on the text allow-list.
// An empty content type is not crawlable.
func (p *RetryPolicy) IsCrawlableContentType(contentType string) bool {
	if strings.TrimSpace(contentType) == "" {
		return false
	}
	lower := strings.ToLower(contentType)
	for _, allowed := range crawlableContentTypes {
		if strings.Contains(lower, allowed) {
			return true
		}
	}
	return false
}

// ShouldFollowRedirect reports whether the chain that reached url may take another hop.
func (p *RetryPolicy) ShouldFollowRedirect(url string) bool {
	hops, _ := p.redirects.Get(url)
	return hops < MaxRedirectChain
}

// RecordRedirect carries the hop count of from over to its target.
func (p *RetryPolicy) RecordRedirect(from, to string) int {
	hops, _ := p.redirects.Get(from)
	p.redirects.Set(to, hops+1)
	return hops + 1
}

// StatusDescription renders a status as "<code> <text>".
func (p *RetryPolicy) StatusDescription(status int) string {
	text, ok := statusText[status]
	if !ok {
		text = "Unknown Status"
	}
	return fmt.Sprintf("%d %s", status, text)
}

// RecommendedDelay is how long a host should be left alone after status.
func (p *RetryPolicy) RecommendedDelay(status int) time.Duration {
	switch {
	case p.IsRateLimited(status):
		return 60 * time.Second
	case p.IsServerError(status):
		return 10 * time.Second
	default:
		return 0
	}
}

// CleanupRetryCounts drops retry records that are exhausted or whose URL
// isDone reports as finished, and redirect records for finished URLs.
// It returns how many retry records were removed.
func (p *RetryPolicy) CleanupRetryCounts(isDone func(url string) bool) int {
	removed := p.attempts.DeleteFunc(func(url string, n int) bool {
		return n >= p.maxRetries || (isDone != nil && isDone(url))
	})
	if isDone != nil {
		p.redirects.DeleteFunc(func(url string, _ int) bool { return isDone(url) })
	}
	return removed
}
