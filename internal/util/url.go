package util

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrMalformedURL is returned when a URL cannot be used as a crawl target.
var ErrMalformedURL = errors.New("malformed url")

// NormaliseURL reduces a URL to scheme://host[:port]/path[?query].
// The fragment and any userinfo are dropped, scheme and host are lowercased
// and an empty path becomes "/". Only http and https URLs are accepted.
func NormaliseURL(rawURL string) (string, error) {
	parsed, err := ParseCrawlURL(rawURL)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(parsed.Scheme)
	b.WriteString("://")
	b.WriteString(parsed.Host)

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	b.WriteString(path)

	if parsed.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(parsed.RawQuery)
	}

	return b.String(), nil
}

// ParseCrawlURL parses rawURL and checks it is an absolute http(s) URL.
// Scheme and host are lowercased on the returned value.
func ParseCrawlURL(rawURL string) (*url.URL, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("%w: empty url", ErrMalformedURL)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrMalformedURL, parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host in %q", ErrMalformedURL, rawURL)
	}

	parsed.Host = strings.ToLower(parsed.Host)
	parsed.User = nil
	parsed.Fragment = ""
	parsed.RawFragment = ""

	return parsed, nil
}

// Host returns the lowercased hostname (without port) of rawURL.
func Host(rawURL string) (string, error) {
	parsed, err := ParseCrawlURL(rawURL)
	if err != nil {
		return "", err
	}
	return parsed.Hostname(), nil
}

// SameHost reports whether both URLs point at the same hostname.
// Malformed input is never considered a match.
func SameHost(a, b string) bool {
	hostA, err := Host(a)
	if err != nil {
		return false
	}
	hostB, err := Host(b)
	if err != nil {
		return false
	}
	return hostA == hostB
}

// RobotsURL derives scheme://host[:port]/robots.txt for rawURL.
func RobotsURL(rawURL string) (string, error) {
	parsed, err := ParseCrawlURL(rawURL)
	if err != nil {
		return "", err
	}
	return parsed.Scheme + "://" + parsed.Host + "/robots.txt", nil
}

// ResolveReference resolves ref against base, returning an absolute URL.
// Used for Location headers, which may be relative.
func ResolveReference(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	refURL, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// PathOf returns the escaped path and query of rawURL, as matched by robots rules.
func PathOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "/"
	}
	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	if parsed.RawQuery != "" {
		path += "?" + parsed.RawQuery
	}
	return path
}
