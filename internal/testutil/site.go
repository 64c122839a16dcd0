package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// SitePage is a canned response served by a Site.
type SitePage struct {
	Status      int
	ContentType string
	Body        string
	Location    string
}

// Site is an httptest server serving fixed pages by path and counting hits.
type Site struct {
	*httptest.Server

	mu    sync.Mutex
	pages map[string]SitePage
	hits  map[string]int
}

// NewSite starts a Site. Paths without a page answer 404; the server is
// closed when the test ends.
func NewSite(t *testing.T, pages map[string]SitePage) *Site {
	t.Helper()

	s := &Site{
		pages: pages,
		hits:  make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *Site) serve(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Path
	if r.URL.RawQuery != "" {
		key += "?" + r.URL.RawQuery
	}

	s.mu.Lock()
	s.hits[key]++
	page, ok := s.pages[key]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	if page.ContentType != "" {
		w.Header().Set("Content-Type", page.ContentType)
	}
	if page.Location != "" {
		w.Header().Set("Location", page.Location)
	}
	status := page.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(page.Body))
}

// SetPage adds or replaces the page at path.
func (s *Site) SetPage(path string, page SitePage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[path] = page
}

// Hits returns how many requests path received.
func (s *Site) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// PageURL returns the absolute URL of path on the site.
func (s *Site) PageURL(path string) string {
	return s.Server.URL + path
}

// HTML returns a text/html SitePage with the given title and anchors.
func HTML(title string, hrefs ...string) SitePage {
	var b strings.Builder
	fmt.Fprintf(&b, "<!DOCTYPE html><html><head><title>%s</title></head><body><main><h1>%s</h1>", title, title)
	for _, href := range hrefs {
		fmt.Fprintf(&b, `<a href="%s">%s</a>`, href, href)
	}
	b.WriteString("</main></body></html>")

	return SitePage{
		ContentType: "text/html; charset=utf-8",
		Body:        b.String(),
	}
}
