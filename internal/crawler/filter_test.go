//go:build unit || !integration

package crawler

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chain(elems ...*Element) *Element {
	for i := 0; i < len(elems)-1; i++ {
		elems[i].Parent = elems[i+1]
	}
	return elems[0]
}

func TestIsUILink(t *testing.T) {
	tests := []struct {
		name     string
		el       *Element
		expected bool
	}{
		{"nil", nil, false},
		{"plain_anchor", &Element{Tag: "a"}, false},
		{"inside_nav", chain(&Element{Tag: "a"}, &Element{Tag: "li"}, &Element{Tag: "NAV"}), true},
		{"navbar_class", chain(&Element{Tag: "a"}, &Element{Tag: "div", Classes: []string{"site-navbar"}}), true},
		{"breadcrumbs_id", chain(&Element{Tag: "a"}, &Element{Tag: "ol", ID: "Breadcrumbs"}), true},
		{"pagination_on_anchor", &Element{Tag: "a", Classes: []string{"pagination-next"}}, true},
		{"article_body", chain(&Element{Tag: "a"}, &Element{Tag: "p"}, &Element{Tag: "article"}), false},
		{
			"nav_at_fourth_step",
			chain(&Element{Tag: "a"}, &Element{Tag: "span"}, &Element{Tag: "li"}, &Element{Tag: "nav"}),
			true,
		},
		{
			"nav_beyond_fourth_step",
			chain(&Element{Tag: "a"}, &Element{Tag: "span"}, &Element{Tag: "li"}, &Element{Tag: "ul"}, &Element{Tag: "nav"}),
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsUILink(tt.el))
		})
	}
}

func TestIsNonContentURL(t *testing.T) {
	tests := []struct {
		url      string
		expected bool
	}{
		{"https://example.com/blog/post", false},
		{"https://example.com/", false},
		{"https://example.com/wp-admin/options.php", true},
		{"https://example.com/login?next=/", true},
		{"https://example.com/CART/", true},
		{"https://example.com/search?q=x", true},
		{"https://example.com/sitemap.xml", true},
		{"https://example.com/feed/", true},
		{"https://example.com/wp-content/themes/x/style.css", true},
		{"https://example.com/assets/app.js", true},
		{"https://example.com/img/logo.PNG", true},
		{"https://example.com/report.pdf", true},
		{"https://example.com/video.mp4", true},
		{"https://example.com/docs/page.html", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsNonContentURL(tt.url))
		})
	}
}

func TestElementFromSelection(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`
		<html><body>
			<nav id="main-nav" class="top menu"><ul><li><a id="home" href="/">Home</a></li></ul></nav>
		</body></html>`))
	require.NoError(t, err)

	el := elementFromSelection(doc.Find("a#home"), uiAncestorSteps)
	require.NotNil(t, el)

	assert.Equal(t, "a", el.Tag)
	assert.Equal(t, "home", el.ID)
	require.NotNil(t, el.Parent)
	assert.Equal(t, "li", el.Parent.Tag)
	require.NotNil(t, el.Parent.Parent.Parent)
	nav := el.Parent.Parent.Parent
	assert.Equal(t, "nav", nav.Tag)
	assert.Equal(t, []string{"top", "menu"}, nav.Classes)
	assert.Nil(t, nav.Parent, "chain is limited to four elements")

	assert.True(t, IsUILink(el))
}
