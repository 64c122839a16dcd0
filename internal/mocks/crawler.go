package mocks

import (
	"context"
	"net/http"
	"time"

	"github.com/Harvey-AU/bee-crawler/internal/crawler"
	"github.com/stretchr/testify/mock"
)

// MockFetcher is a mock implementation of crawler.Fetcher
type MockFetcher struct {
	mock.Mock
}

// Fetch mocks the Fetch method
func (m *MockFetcher) Fetch(ctx context.Context, url string, opts crawler.FetchOptions) (*crawler.Page, error) {
	args := m.Called(ctx, url, opts)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*crawler.Page), args.Error(1)
}

// MockRobots is a mock implementation of the robots.txt checker used by crawl workers
type MockRobots struct {
	mock.Mock
}

// IsAllowed mocks the IsAllowed method
func (m *MockRobots) IsAllowed(ctx context.Context, url string) bool {
	args := m.Called(ctx, url)
	return args.Bool(0)
}

// CrawlDelay mocks the CrawlDelay method
func (m *MockRobots) CrawlDelay(ctx context.Context, url string) time.Duration {
	args := m.Called(ctx, url)
	return args.Get(0).(time.Duration)
}

// Clear mocks the Clear method
func (m *MockRobots) Clear() {
	m.Called()
}

// HTMLPage builds a successful text/html Page with the given title and links.
func HTMLPage(url, title string, links ...string) *crawler.Page {
	page := &crawler.Page{
		URL:         url,
		StatusCode:  http.StatusOK,
		ContentType: "text/html; charset=utf-8",
		Headers:     http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Title:       title,
		Text:        title,
	}
	for _, link := range links {
		page.Links = append(page.Links, crawler.Link{URL: link, Element: &crawler.Element{Tag: "a"}})
	}
	return page
}

// StatusPage builds a Page carrying only a status and optional Location header.
func StatusPage(url string, status int, location string) *crawler.Page {
	page := &crawler.Page{
		URL:         url,
		StatusCode:  status,
		ContentType: "text/html",
		Headers:     http.Header{"Content-Type": []string{"text/html"}},
	}
	if location != "" {
		page.Headers.Set("Location", location)
	}
	return page
}
