package jobs

import (
	"context"
	"net/http"
	"time"
)

// RobotsChecker answers robots.txt questions for a URL. Implementations
// must be permissive when robots.txt cannot be read.
type RobotsChecker interface {
	IsAllowed(ctx context.Context, url string) bool
	CrawlDelay(ctx context.Context, url string) time.Duration
	Clear()
}

// TechDetector fingerprints the technologies a page is built with
type TechDetector interface {
	DetectNames(headers http.Header, body []byte) []string
}
