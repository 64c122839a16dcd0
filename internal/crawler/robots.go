package crawler

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/Harvey-AU/bee-crawler/internal/cache"
	"github.com/Harvey-AU/bee-crawler/internal/util"
)

// maxRobotsSize caps how much of a robots.txt file is read.
const maxRobotsSize = 1 * 1024 * 1024

// HTTPClient is the subset of *http.Client used for robots.txt fetches.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// RobotsGroup holds the directives declared under one or more User-agent lines.
type RobotsGroup struct {
	DisallowPatterns []string
	AllowPatterns    []string
	CrawlDelay       time.Duration

	disallow []*regexp.Regexp
	allow    []*regexp.Regexp
}

// RobotsRules is a parsed robots.txt file, grouped by lower-cased user agent.
type RobotsRules struct {
	Groups   map[string]*RobotsGroup
	Sitemaps []string
}

// allowAll is the rule set used whenever robots.txt cannot be used.
func allowAll() *RobotsRules {
	return &RobotsRules{Groups: map[string]*RobotsGroup{}}
}

// agentToken returns the product token of a user agent string,
// e.g. "BeeCrawler/1.0 (+https://...)" -> "beecrawler".
func agentToken(userAgent string) string {
	token, _, _ := strings.Cut(userAgent, "/")
	return strings.ToLower(strings.TrimSpace(token))
}

// compileRobotsPattern converts a robots path pattern into an anchored
// regexp: literals match exactly, * matches any run and ? a single character.
func compileRobotsPattern(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return regexp.Compile(b.String())
}

// ParseRobotsTxt parses robots.txt content. Consecutive User-agent lines share
// the directives that follow them; unknown directives are ignored.
func ParseRobotsTxt(r io.Reader) (*RobotsRules, error) {
	content, err := io.ReadAll(io.LimitReader(r, maxRobotsSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read robots.txt: %w", err)
	}
	if len(content) == maxRobotsSize {
		log.Warn().Int("size_bytes", len(content)).Msg("Robots.txt file truncated at 1MB limit")
	}

	rules := allowAll()
	var current []*RobotsGroup
	lastWasAgent := false

	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)

		if name == "user-agent" {
			if !lastWasAgent {
				current = current[:0]
			}
			agent := strings.ToLower(value)
			group, exists := rules.Groups[agent]
			if !exists {
				group = &RobotsGroup{}
				rules.Groups[agent] = group
			}
			current = append(current, group)
			lastWasAgent = true
			continue
		}
		lastWasAgent = false

		switch name {
		case "sitemap":
			if value != "" {
				rules.Sitemaps = append(rules.Sitemaps, value)
			}
		case "disallow", "allow":
			if value == "" {
				continue // An empty Disallow blocks nothing
			}
			re, err := compileRobotsPattern(value)
			if err != nil {
				log.Debug().Err(err).Str("pattern", value).Msg("Skipping invalid robots.txt pattern")
				continue
			}
			for _, g := range current {
				if name == "allow" {
					g.AllowPatterns = append(g.AllowPatterns, value)
					g.allow = append(g.allow, re)
				} else {
					g.DisallowPatterns = append(g.DisallowPatterns, value)
					g.disallow = append(g.disallow, re)
				}
			}
		case "crawl-delay":
			seconds, err := strconv.ParseFloat(value, 64)
			if err != nil || seconds <= 0 {
				continue
			}
			for _, g := range current {
				g.CrawlDelay = time.Duration(seconds * float64(time.Second))
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading robots.txt: %w", err)
	}
	return rules, nil
}

// decide returns the group's verdict for path; decided is false when no
// pattern matches. Allow patterns are consulted before Disallow.
func (g *RobotsGroup) decide(path string) (allowed, decided bool) {
	if g == nil {
		return true, false
	}
	for _, re := range g.allow {
		if re.MatchString(path) {
			return true, true
		}
	}
	for _, re := range g.disallow {
		if re.MatchString(path) {
			return false, true
		}
	}
	return true, false
}

// IsPathAllowed evaluates path for the given agent token, falling back to
// the wildcard group and then to allow.
func (r *RobotsRules) IsPathAllowed(agent, path string) bool {
	if r == nil {
		return true
	}
	if allowed, decided := r.Groups[agent].decide(path); decided {
		return allowed
	}
	if allowed, decided := r.Groups["*"].decide(path); decided {
		return allowed
	}
	return true
}

// CrawlDelayFor returns the agent's crawl delay, or the wildcard group's when
// the agent declares none.
func (r *RobotsRules) CrawlDelayFor(agent string) time.Duration {
	if r == nil {
		return 0
	}
	if g, ok := r.Groups[agent]; ok && g.CrawlDelay > 0 {
		return g.CrawlDelay
	}
	if g, ok := r.Groups["*"]; ok {
		return g.CrawlDelay
	}
	return 0
}

// Robots answers robots.txt questions for a crawl run. Each robots.txt is
// fetched once and cached for the lifetime of the Robots value.
type Robots struct {
	client    HTTPClient
	userAgent string
	agent     string
	timeout   time.Duration
	enabled   bool

	rules    *cache.InMemoryCache[*RobotsRules]
	inflight singleflight.Group
}

// NewRobots creates a Robots for cfg. A nil client gets an *http.Client
// honouring cfg.RobotsTimeout and cfg.MaxRedirects.
func NewRobots(client HTTPClient, cfg *Config) *Robots {
	if client == nil {
		maxRedirects := cfg.MaxRedirects
		client = &http.Client{
			Timeout: cfg.RobotsTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		}
	}
	return &Robots{
		client:    client,
		userAgent: cfg.UserAgent,
		agent:     agentToken(cfg.UserAgent),
		timeout:   cfg.RobotsTimeout,
		enabled:   cfg.RespectRobots,
		rules:     cache.NewInMemoryCache[*RobotsRules](),
	}
}

// IsAllowed reports whether rawURL may be fetched.
func (r *Robots) IsAllowed(ctx context.Context, rawURL string) bool {
	if !r.enabled {
		return true
	}
	return r.Rules(ctx, rawURL).IsPathAllowed(r.agent, util.PathOf(rawURL))
}

// CrawlDelay returns the crawl delay declared for rawURL's host.
func (r *Robots) CrawlDelay(ctx context.Context, rawURL string) time.Duration {
	if !r.enabled {
		return 0
	}
	return r.Rules(ctx, rawURL).CrawlDelayFor(r.agent)
}

// Rules returns the cached rules for rawURL's host, fetching them on first use.
// Failures yield an allow-all rule set.
func (r *Robots) Rules(ctx context.Context, rawURL string) *RobotsRules {
	robotsURL, err := util.RobotsURL(rawURL)
	if err != nil {
		return allowAll()
	}
	if rules, ok := r.rules.Get(robotsURL); ok {
		return rules
	}

	v, _, _ := r.inflight.Do(robotsURL, func() (any, error) {
		if rules, ok := r.rules.Get(robotsURL); ok {
			return rules, nil
		}
		rules, err := r.fetch(ctx, robotsURL)
		if err != nil {
			log.Debug().Err(err).Str("robots_url", robotsURL).Msg("Robots.txt unavailable, allowing all")
			rules = allowAll()
			// A cancelled caller says nothing about the site; let the next lookup try again.
			if ctx.Err() != nil {
				return rules, nil
			}
		}
		r.rules.Set(robotsURL, rules)
		return rules, nil
	})
	return v.(*RobotsRules)
}

// Clear forgets every cached rule set.
func (r *Robots) Clear() {
	r.rules.Clear()
}

func (r *Robots) fetch(ctx context.Context, robotsURL string) (*RobotsRules, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("robots.txt returned status %d", resp.StatusCode)
	}

	rules, err := ParseRobotsTxt(resp.Body)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("robots_url", robotsURL).
		Int("groups", len(rules.Groups)).
		Int("sitemaps", len(rules.Sitemaps)).
		Msg("Parsed robots.txt rules")
	return rules, nil
}
