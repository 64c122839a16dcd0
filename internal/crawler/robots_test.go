//go:build unit || !integration

package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRobotsTxt(t *testing.T) {
	tests := []struct {
		name         string
		robotsTxt    string
		agent        string
		wantDelay    time.Duration
		wantSitemaps int
		wantDisallow []string
		wantAllow    []string
	}{
		{
			name: "specific rules",
			robotsTxt: `
User-agent: *
Crawl-delay: 1
Disallow: /admin

User-agent: BeeCrawler
Crawl-delay: 5
Disallow: /checkout
Disallow: /cart
Allow: /cart/view

Sitemap: https://example.com/sitemap.xml
`,
			agent:        "beecrawler",
			wantDelay:    5 * time.Second,
			wantSitemaps: 1,
			wantDisallow: []string{"/checkout", "/cart"},
			wantAllow:    []string{"/cart/view"},
		},
		{
			name: "wildcard only",
			robotsTxt: `
User-agent: *
Crawl-delay: 10
Disallow: /private/
Disallow: /tmp/

Sitemap: https://example.com/sitemap1.xml
Sitemap: https://example.com/sitemap2.xml
`,
			agent:        "*",
			wantDelay:    10 * time.Second,
			wantSitemaps: 2,
			wantDisallow: []string{"/private/", "/tmp/"},
		},
		{
			name: "shared group, comments and fractional delay",
			robotsTxt: `
# comment line
User-agent: Googlebot
USER-AGENT: beecrawler   # trailing comment
crawl-delay: 0.5
DISALLOW: /shared
Disallow:
`,
			agent:        "beecrawler",
			wantDelay:    500 * time.Millisecond,
			wantDisallow: []string{"/shared"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules, err := ParseRobotsTxt(strings.NewReader(tt.robotsTxt))
			require.NoError(t, err)

			group, ok := rules.Groups[tt.agent]
			require.True(t, ok, "group %q not found", tt.agent)
			assert.Equal(t, tt.wantDelay, group.CrawlDelay)
			assert.Len(t, rules.Sitemaps, tt.wantSitemaps)
			assert.Equal(t, tt.wantDisallow, group.DisallowPatterns)
			assert.Equal(t, tt.wantAllow, group.AllowPatterns)
		})
	}
}

func TestParseRobotsTxtSharedGroup(t *testing.T) {
	rules, err := ParseRobotsTxt(strings.NewReader("User-agent: a\nUser-agent: b\nDisallow: /x\n\nUser-agent: c\nDisallow: /y\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"/x"}, rules.Groups["a"].DisallowPatterns)
	assert.Equal(t, []string{"/x"}, rules.Groups["b"].DisallowPatterns)
	assert.Equal(t, []string{"/y"}, rules.Groups["c"].DisallowPatterns)
}

func TestIsPathAllowed(t *testing.T) {
	rules, err := ParseRobotsTxt(strings.NewReader(`
User-agent: *
Disallow: /private/
Allow: /private/public/
Disallow: /tmp/*.log
Disallow: /page?.html

User-agent: beecrawler
Disallow: /bee-only
`))
	require.NoError(t, err)

	tests := []struct {
		agent   string
		path    string
		allowed bool
	}{
		{"other", "/", true},
		{"other", "/private/public/page", true},
		{"other", "/private/secret", false},
		{"other", "/tmp/app.log", false},
		{"other", "/tmp/app.txt", true},
		{"other", "/page1.html", false},
		{"other", "/page12.html", true},
		{"other", "/public/private/", true},
		{"other", "/bee-only", true},
		{"beecrawler", "/bee-only/x", false},
		{"beecrawler", "/private/secret", false}, // undecided by own group, wildcard applies
		{"beecrawler", "/about", true},
	}

	for _, tt := range tests {
		t.Run(tt.agent+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.allowed, rules.IsPathAllowed(tt.agent, tt.path))
		})
	}
}

func TestCrawlDelayFor(t *testing.T) {
	rules, err := ParseRobotsTxt(strings.NewReader("User-agent: *\nCrawl-delay: 2\n\nUser-agent: beecrawler\nDisallow: /x\n"))
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, rules.CrawlDelayFor("beecrawler"), "falls back to wildcard when unset")
	assert.Equal(t, 2*time.Second, rules.CrawlDelayFor("other"))
	assert.Equal(t, time.Duration(0), allowAll().CrawlDelayFor("beecrawler"))
}

func TestAgentToken(t *testing.T) {
	assert.Equal(t, "beecrawler", agentToken(DefaultUserAgent))
	assert.Equal(t, "mybot", agentToken("MyBot"))
}

func robotsServer(t *testing.T, status int, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		if hits != nil {
			hits.Add(1)
		}
		time.Sleep(20 * time.Millisecond)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRobotsIsAllowed(t *testing.T) {
	srv := robotsServer(t, http.StatusOK, "User-agent: *\nDisallow: /private/\nAllow: /private/public/\nCrawl-delay: 1.5\n", nil)

	cfg := DefaultConfig()
	robots := NewRobots(nil, cfg)
	ctx := context.Background()

	assert.True(t, robots.IsAllowed(ctx, srv.URL+"/private/public/page"))
	assert.False(t, robots.IsAllowed(ctx, srv.URL+"/private/secret"))
	assert.True(t, robots.IsAllowed(ctx, srv.URL+"/"))
	assert.Equal(t, 1500*time.Millisecond, robots.CrawlDelay(ctx, srv.URL+"/anything"))
}

func TestRobotsPermissiveOnFailure(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	robots := NewRobots(nil, cfg)

	t.Run("server_error", func(t *testing.T) {
		srv := robotsServer(t, http.StatusInternalServerError, "User-agent: *\nDisallow: /\n", nil)
		assert.True(t, robots.IsAllowed(ctx, srv.URL+"/page"))
		assert.Equal(t, time.Duration(0), robots.CrawlDelay(ctx, srv.URL+"/page"))
	})

	t.Run("not_found", func(t *testing.T) {
		srv := robotsServer(t, http.StatusNotFound, "", nil)
		assert.True(t, robots.IsAllowed(ctx, srv.URL+"/page"))
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		addr := srv.URL
		srv.Close()
		assert.True(t, robots.IsAllowed(ctx, addr+"/page"))
	})

	t.Run("malformed_url", func(t *testing.T) {
		assert.True(t, robots.IsAllowed(ctx, "://bad"))
	})
}

func TestRobotsDisabled(t *testing.T) {
	var hits atomic.Int32
	srv := robotsServer(t, http.StatusOK, "User-agent: *\nDisallow: /\n", &hits)

	cfg := DefaultConfig()
	cfg.RespectRobots = false
	robots := NewRobots(nil, cfg)

	assert.True(t, robots.IsAllowed(context.Background(), srv.URL+"/page"))
	assert.Equal(t, int32(0), hits.Load())
}

func TestRobotsFetchedOncePerHost(t *testing.T) {
	var hits atomic.Int32
	srv := robotsServer(t, http.StatusOK, "User-agent: *\nDisallow: /private/\n", &hits)

	robots := NewRobots(nil, DefaultConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.False(t, robots.IsAllowed(ctx, srv.URL+"/private/x"))
		}()
	}
	wg.Wait()

	assert.True(t, robots.IsAllowed(ctx, srv.URL+"/open"))
	assert.Equal(t, int32(1), hits.Load())

	robots.Clear()
	robots.IsAllowed(ctx, srv.URL+"/open")
	assert.Equal(t, int32(2), hits.Load())
}

func TestRobotsSendsUserAgent(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.UserAgent())
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	require.NoError(t, cfg.SetUserAgent("TestBot/2.0"))
	NewRobots(srv.Client(), cfg).IsAllowed(context.Background(), srv.URL+"/")

	assert.Equal(t, "TestBot/2.0", got.Load())
}
