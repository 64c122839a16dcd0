package crawler

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrInvalidConfig is returned for configuration values that cannot be clamped.
var ErrInvalidConfig = errors.New("invalid crawler configuration")

// DefaultUserAgent identifies the crawler to the sites it visits.
const DefaultUserAgent = "BeeCrawler/1.0 (+https://github.com/Harvey-AU/bee-crawler)"

// numCPU is swapped in tests to make thread clamping deterministic.
var numCPU = runtime.NumCPU

// Config holds the configuration for a crawl run. Use the setters to change
// values: they clamp out-of-range input and reject negative values.
type Config struct {
	ThreadCount         int           // Number of concurrent workers
	MaxDepth            int           // Links are followed while depth < MaxDepth
	MaxPages            int           // Successful pages before the run stops
	Delay               time.Duration // Politeness delay after each URL a worker handles
	ConnectionTimeout   time.Duration // Per-request timeout
	UserAgent           string        // User agent string for requests
	FollowRedirects     bool          // Queue Location targets of 3xx responses
	RespectRobots       bool          // Consult robots.txt before fetching
	MaxQueueSize        int           // Frontier capacity
	FilterNonContent    bool          // Drop navigation links and non-content URLs
	MaxLinksPerPage     int           // Links enqueued per page
	MaxRetries          int           // Retry budget for 5xx/429/503 responses
	RetryBaseDelay      time.Duration // Base of the exponential backoff
	MaxRedirects        int           // Redirects followed by the HTTP client for robots.txt
	ValidateContentType bool          // Reject responses outside the content-type allow-list
	RobotsTimeout       time.Duration // Timeout for robots.txt fetches
	MaxBodySize         int           // Response body limit in bytes (0 = unlimited)
	DetectTechnologies  bool          // Fingerprint technologies on successful pages
}

// DefaultConfig returns a Config instance with default values
func DefaultConfig() *Config {
	return &Config{
		ThreadCount:         10,
		MaxDepth:            3,
		MaxPages:            100,
		Delay:               500 * time.Millisecond,
		ConnectionTimeout:   10 * time.Second,
		UserAgent:           DefaultUserAgent,
		FollowRedirects:     true,
		RespectRobots:       true,
		MaxQueueSize:        500,
		FilterNonContent:    true,
		MaxLinksPerPage:     50,
		MaxRetries:          3,
		RetryBaseDelay:      time.Second,
		MaxRedirects:        5,
		ValidateContentType: true,
		RobotsTimeout:       10 * time.Second,
		MaxBodySize:         10 * 1024 * 1024,
		DetectTechnologies:  false,
	}
}

func negative(field string, v any) error {
	return fmt.Errorf("%w: %s must not be negative (got %v)", ErrInvalidConfig, field, v)
}

// ThreadBounds returns the accepted worker range for this machine.
func ThreadBounds() (lower, upper int) {
	cpu := numCPU()
	return max(1, cpu/2), min(cpu*2, 32)
}

// SetThreadCount sets the worker count. Values outside ThreadBounds are
// replaced by the CPU count clamped into the bounds.
func (c *Config) SetThreadCount(n int) error {
	if n < 0 {
		return negative("thread count", n)
	}
	lower, upper := ThreadBounds()
	if n < lower || n > upper {
		adjusted := max(lower, min(upper, numCPU()))
		log.Warn().
			Int("requested", n).
			Int("min", lower).
			Int("max", upper).
			Int("adjusted", adjusted).
			Msg("Thread count outside recommended range, using optimal value")
		n = adjusted
	}
	c.ThreadCount = n
	return nil
}

// SetMaxDepth sets the maximum link depth (minimum 1).
func (c *Config) SetMaxDepth(n int) error {
	if n < 0 {
		return negative("max depth", n)
	}
	c.MaxDepth = max(1, n)
	return nil
}

// SetMaxPages sets the page ceiling (minimum 1).
func (c *Config) SetMaxPages(n int) error {
	if n < 0 {
		return negative("max pages", n)
	}
	c.MaxPages = max(1, n)
	return nil
}

// SetDelay sets the politeness delay.
func (c *Config) SetDelay(d time.Duration) error {
	if d < 0 {
		return negative("delay", d)
	}
	c.Delay = d
	return nil
}

// SetConnectionTimeout sets the request timeout (minimum 1s).
func (c *Config) SetConnectionTimeout(d time.Duration) error {
	if d < 0 {
		return negative("connection timeout", d)
	}
	c.ConnectionTimeout = max(time.Second, d)
	return nil
}

// SetUserAgent sets the user agent; it must not be blank.
func (c *Config) SetUserAgent(ua string) error {
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return fmt.Errorf("%w: user agent must not be empty", ErrInvalidConfig)
	}
	c.UserAgent = ua
	return nil
}

// SetMaxQueueSize sets the frontier capacity (minimum 50).
func (c *Config) SetMaxQueueSize(n int) error {
	if n < 0 {
		return negative("max queue size", n)
	}
	c.MaxQueueSize = max(50, n)
	return nil
}

// SetMaxLinksPerPage sets the per-page enqueue cap (minimum 1).
func (c *Config) SetMaxLinksPerPage(n int) error {
	if n < 0 {
		return negative("max links per page", n)
	}
	c.MaxLinksPerPage = max(1, n)
	return nil
}

// SetMaxRetries sets the retry budget.
func (c *Config) SetMaxRetries(n int) error {
	if n < 0 {
		return negative("max retries", n)
	}
	c.MaxRetries = n
	return nil
}

// SetRetryBaseDelay sets the backoff base (minimum 100ms).
func (c *Config) SetRetryBaseDelay(d time.Duration) error {
	if d < 0 {
		return negative("retry base delay", d)
	}
	c.RetryBaseDelay = max(100*time.Millisecond, d)
	return nil
}

// SetMaxRedirects sets the client redirect limit, clamped to [1, 10].
func (c *Config) SetMaxRedirects(n int) error {
	if n < 0 {
		return negative("max redirects", n)
	}
	c.MaxRedirects = max(1, min(n, 10))
	return nil
}

// SetRobotsTimeout sets the robots.txt fetch timeout (minimum 1s).
func (c *Config) SetRobotsTimeout(d time.Duration) error {
	if d < 0 {
		return negative("robots timeout", d)
	}
	c.RobotsTimeout = max(time.Second, d)
	return nil
}

// SetMaxBodySize sets the response body limit; 0 disables it.
func (c *Config) SetMaxBodySize(n int) error {
	if n < 0 {
		return negative("max body size", n)
	}
	c.MaxBodySize = n
	return nil
}

// Normalise runs every numeric field through its setter so a Config built
// as a literal obeys the same limits. ThreadCount is left alone when it is
// already inside ThreadBounds.
func (c *Config) Normalise() error {
	steps := []error{
		c.SetThreadCount(c.ThreadCount),
		c.SetMaxDepth(c.MaxDepth),
		c.SetMaxPages(c.MaxPages),
		c.SetDelay(c.Delay),
		c.SetConnectionTimeout(c.ConnectionTimeout),
		c.SetUserAgent(c.UserAgent),
		c.SetMaxQueueSize(c.MaxQueueSize),
		c.SetMaxLinksPerPage(c.MaxLinksPerPage),
		c.SetMaxRetries(c.MaxRetries),
		c.SetRetryBaseDelay(c.RetryBaseDelay),
		c.SetMaxRedirects(c.MaxRedirects),
		c.SetRobotsTimeout(c.RobotsTimeout),
		c.SetMaxBodySize(c.MaxBodySize),
	}
	return errors.Join(steps...)
}

// FetchOptions returns the per-request options a Fetcher needs.
func (c *Config) FetchOptions() FetchOptions {
	return FetchOptions{
		UserAgent:       c.UserAgent,
		Timeout:         c.ConnectionTimeout,
		FollowRedirects: c.FollowRedirects,
		MaxRedirects:    c.MaxRedirects,
		MaxBodySize:     c.MaxBodySize,
	}
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

// ConfigFromEnv returns DefaultConfig overlaid with CRAWLER_* environment
// variables. Unparseable values are logged and ignored; negative values fail.
func ConfigFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	var errs []error

	envInt := func(key string, set func(int) error) {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer in environment variable, using default")
			return
		}
		if err := set(n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	envMillis := func(key string, set func(time.Duration) error) {
		envInt(key, func(ms int) error { return set(time.Duration(ms) * time.Millisecond) })
	}
	envBool := func(key string, dst *bool) {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			log.Warn().Str("key", key).Str("value", v).Msg("Invalid boolean in environment variable, using default")
			return
		}
		*dst = b
	}

	envInt("CRAWLER_THREADS", cfg.SetThreadCount)
	envInt("CRAWLER_MAX_DEPTH", cfg.SetMaxDepth)
	envInt("CRAWLER_MAX_PAGES", cfg.SetMaxPages)
	envMillis("CRAWLER_DELAY_MS", cfg.SetDelay)
	envMillis("CRAWLER_TIMEOUT_MS", cfg.SetConnectionTimeout)
	envInt("CRAWLER_MAX_QUEUE_SIZE", cfg.SetMaxQueueSize)
	envInt("CRAWLER_MAX_LINKS_PER_PAGE", cfg.SetMaxLinksPerPage)
	envInt("CRAWLER_MAX_RETRIES", cfg.SetMaxRetries)
	envMillis("CRAWLER_RETRY_BASE_DELAY_MS", cfg.SetRetryBaseDelay)
	envInt("CRAWLER_MAX_REDIRECTS", cfg.SetMaxRedirects)
	envMillis("CRAWLER_ROBOTS_TIMEOUT_MS", cfg.SetRobotsTimeout)
	envInt("CRAWLER_MAX_BODY_BYTES", cfg.SetMaxBodySize)

	if ua, ok := os.LookupEnv("CRAWLER_USER_AGENT"); ok {
		if err := cfg.SetUserAgent(ua); err != nil {
			errs = append(errs, fmt.Errorf("CRAWLER_USER_AGENT: %w", err))
		}
	}

	envBool("CRAWLER_FOLLOW_REDIRECTS", &cfg.FollowRedirects)
	envBool("CRAWLER_RESPECT_ROBOTS", &cfg.RespectRobots)
	envBool("CRAWLER_FILTER_NON_CONTENT", &cfg.FilterNonContent)
	envBool("CRAWLER_VALIDATE_CONTENT_TYPE", &cfg.ValidateContentType)
	envBool("CRAWLER_DETECT_TECHNOLOGIES", &cfg.DetectTechnologies)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}
