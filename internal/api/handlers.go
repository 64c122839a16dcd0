package api

import (
	"net/http"

	"github.com/Harvey-AU/bee-crawler/internal/crawler"
	"github.com/Harvey-AU/bee-crawler/internal/jobs"
	"github.com/Harvey-AU/bee-crawler/internal/notifications"
)

// Version is the current API version (can be set via ldflags at build time)
var Version = "1.0.0"

const serviceName = "bee-crawler"

// CrawlSession is the session surface the API drives.
type CrawlSession interface {
	Start(seedURL string) error
	Stop()
	Pause() bool
	Resume() bool
	State() jobs.State
	GetStats() jobs.Stats
	GetResults() []*crawler.CrawlResult
	LastSummary() (notifications.Summary, bool)
	Config() *crawler.Config
	SetConfig(cfg *crawler.Config) error
}

// Handler holds dependencies for API handlers
type Handler struct {
	Session      CrawlSession
	Authenticate func(http.Handler) http.Handler
}

// NewHandler creates a new API handler. A nil authenticate leaves the
// /v1 routes open.
func NewHandler(session CrawlSession, authenticate func(http.Handler) http.Handler) *Handler {
	if authenticate == nil {
		authenticate = func(next http.Handler) http.Handler { return next }
	}
	return &Handler{
		Session:      session,
		Authenticate: authenticate,
	}
}

// SetupRoutes configures all API routes
func (h *Handler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.HealthCheck)

	mux.Handle("/v1/crawl/start", h.Authenticate(http.HandlerFunc(h.StartCrawl)))
	mux.Handle("/v1/crawl/stop", h.Authenticate(http.HandlerFunc(h.StopCrawl)))
	mux.Handle("/v1/crawl/pause", h.Authenticate(http.HandlerFunc(h.PauseCrawl)))
	mux.Handle("/v1/crawl/resume", h.Authenticate(http.HandlerFunc(h.ResumeCrawl)))
	mux.Handle("/v1/crawl/stats", h.Authenticate(http.HandlerFunc(h.CrawlStats)))
	mux.Handle("/v1/crawl/results", h.Authenticate(http.HandlerFunc(h.CrawlResults)))
	mux.Handle("/v1/config", h.Authenticate(http.HandlerFunc(h.ConfigHandler)))
}

// HealthCheck handles basic health check requests
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	WriteHealthy(w, r, serviceName, Version, h.Session.State().String())
}
