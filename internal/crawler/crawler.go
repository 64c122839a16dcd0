package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog/log"
)

// Crawler is the colly-backed Fetcher. It never follows redirects itself:
// 3xx responses are returned so the caller can queue the target.
type Crawler struct {
	config    *Config
	transport http.RoundTripper
}

// ctxRoundTripper binds every request to the fetch's context so a cancelled
// run aborts in-flight requests.
type ctxRoundTripper struct {
	ctx       context.Context
	transport http.RoundTripper
}

func (t *ctxRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.transport.RoundTrip(req.WithContext(t.ctx))
}

// New creates a Crawler. If config is nil, default configuration is used.
func New(config *Config) *Crawler {
	if config == nil {
		config = DefaultConfig()
	}

	return &Crawler{
		config: config,
		transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 25,
			MaxConnsPerHost:     50,
			IdleConnTimeout:     120 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}
}

// NewWithTransport creates a Crawler that sends requests through transport.
func NewWithTransport(config *Config, transport http.RoundTripper) *Crawler {
	c := New(config)
	if transport != nil {
		c.transport = transport
	}
	return c
}

// Config returns the Crawler's configuration.
func (c *Crawler) Config() *Config {
	return c.config
}

// Options returns the FetchOptions derived from the Crawler's configuration.
func (c *Crawler) Options() FetchOptions {
	return c.config.FetchOptions()
}

func (c *Crawler) collector(ctx context.Context, opts FetchOptions) *colly.Collector {
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = c.config.UserAgent
	}

	collector := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(opts.MaxBodySize),
		colly.IgnoreRobotsTxt(),
	)

	collector.SetClient(&http.Client{
		Timeout:   opts.Timeout,
		Transport: &ctxRoundTripper{ctx: ctx, transport: c.transport},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	})

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")

		log.Debug().
			Str("url", r.URL.String()).
			Msg("Crawler sending request")
	})

	return collector
}

// Fetch retrieves targetURL. HTTP error and redirect statuses are returned as
// a Page; only transport and parse failures are errors (wrapping ErrFetch).
func (c *Crawler) Fetch(ctx context.Context, targetURL string, opts FetchOptions) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	page := &Page{URL: targetURL}
	collector := c.collector(ctx, opts)

	collector.OnResponse(func(r *colly.Response) {
		page.URL = r.Request.URL.String()
		page.StatusCode = r.StatusCode
		page.Body = r.Body
		page.ResponseTime = time.Since(start)
		if r.Headers != nil {
			page.Headers = r.Headers.Clone()
			page.ContentType = r.Headers.Get("Content-Type")
		}
	})

	collector.OnHTML("html", func(e *colly.HTMLElement) {
		extractPage(e, page)
	})

	var fetchErr error
	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r != nil && r.StatusCode > 0 {
			page.StatusCode = r.StatusCode
		}
	})

	done := make(chan error, 1)

	// Visit in a goroutine so cancellation is observed even if the
	// collector is slow to unwind.
	go func() {
		done <- collector.Visit(targetURL)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		log.Debug().
			Err(ctx.Err()).
			Str("url", targetURL).
			Msg("Fetch cancelled due to context")
		return nil, ctx.Err()
	}

	if err == nil {
		err = fetchErr
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Debug().
			Err(err).
			Str("url", targetURL).
			Dur("duration", time.Since(start)).
			Msg("Fetch failed")
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	if page.StatusCode == 0 {
		return nil, fmt.Errorf("%w: no response for %s", ErrFetch, targetURL)
	}

	log.Debug().
		Int("status", page.StatusCode).
		Str("url", targetURL).
		Int("links_found", len(page.Links)).
		Dur("duration", page.ResponseTime).
		Msg("Fetch completed")

	return page, nil
}

// extractPage fills title, visible text and anchors from the parsed document.
func extractPage(e *colly.HTMLElement, page *Page) {
	page.Title = strings.TrimSpace(e.DOM.Find("title").First().Text())

	e.DOM.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if skipHref(href) {
			return
		}

		abs := e.Request.AbsoluteURL(href)
		if abs == "" || !(strings.HasPrefix(abs, "http://") || strings.HasPrefix(abs, "https://")) {
			return
		}

		page.Links = append(page.Links, Link{
			URL:     abs,
			Element: elementFromSelection(s, uiAncestorSteps),
		})
	})

	body := e.DOM.Find("body")
	if body.Length() == 0 {
		body = e.DOM
	}
	body = body.Clone()
	body.Find("script, style, noscript, template").Remove()
	page.Text = strings.Join(strings.Fields(body.Text()), " ")
}

func skipHref(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	lower := strings.ToLower(href)
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// IsFetchError reports whether err is a transport or parse failure from a Fetcher.
func IsFetchError(err error) bool {
	return errors.Is(err, ErrFetch)
}
