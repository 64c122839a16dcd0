package crawler

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// uiAncestorSteps is how many elements, starting with the anchor itself,
// are inspected when deciding whether a link is site chrome.
const uiAncestorSteps = 4

// Element is the minimal view of a DOM node needed by the link filters.
type Element struct {
	Tag     string
	ID      string
	Classes []string
	Parent  *Element
}

var uiMarkers = []string{"navbar", "breadcrumbs", "pagination"}

// IsUILink reports whether the element, or one of its nearest ancestors,
// is a navigation, breadcrumb or pagination container.
func IsUILink(el *Element) bool {
	for n, steps := el, 0; n != nil && steps < uiAncestorSteps; n, steps = n.Parent, steps+1 {
		if strings.EqualFold(n.Tag, "nav") {
			return true
		}

		classes := strings.ToLower(strings.Join(n.Classes, " "))
		id := strings.ToLower(n.ID)
		for _, marker := range uiMarkers {
			if strings.Contains(classes, marker) || strings.Contains(id, marker) {
				return true
			}
		}
	}
	return false
}

var nonContentPatterns = []string{
	"/admin/", "/wp-admin/", "/wp-login.php", "/login", "/logout", "/register",
	"/cart/", "/checkout/", "/my-account/", "/account/", "/profile/",
	"/search", "/sitemap", "/robots.txt", "/favicon.ico",
	"/feed/", "/rss/", "/atom/", "/xmlrpc.php",
	"/wp-cron.php", "/wp-content/plugins/", "/wp-content/themes/",
	"/temp/", "/tmp/", "/cache/", "/logs/",
}

var nonDocumentExtensions = []string{
	".css", ".js", ".map", ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".ico",
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".zip", ".rar",
	".mp3", ".wav", ".mp4", ".avi", ".mov", ".wmv",
}

// IsNonContentURL reports whether rawURL looks like an admin, account, feed
// or cache endpoint, or points at a non-document file.
func IsNonContentURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)

	for _, pattern := range nonContentPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	for _, ext := range nonDocumentExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}

	return false
}

// elementFromSelection snapshots s and up to depth-1 of its ancestors.
func elementFromSelection(s *goquery.Selection, depth int) *Element {
	var head, tail *Element
	for n, steps := s, 0; n.Length() > 0 && steps < depth; n, steps = n.Parent(), steps+1 {
		node := n.Get(0)
		if node == nil || node.Type != html.ElementNode {
			break
		}

		el := &Element{
			Tag:     goquery.NodeName(n),
			ID:      n.AttrOr("id", ""),
			Classes: strings.Fields(n.AttrOr("class", "")),
		}
		if head == nil {
			head = el
		} else {
			tail.Parent = el
		}
		tail = el
	}
	return head
}
