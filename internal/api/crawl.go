package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/Harvey-AU/bee-crawler/internal/crawler"
	"github.com/Harvey-AU/bee-crawler/internal/jobs"
	"github.com/Harvey-AU/bee-crawler/internal/notifications"
)

const (
	defaultResultsLimit = 100
	maxResultsLimit     = 1000
	maxRequestBody      = 1 << 16
)

// StartCrawlRequest is the body of POST /v1/crawl/start
type StartCrawlRequest struct {
	URL string `json:"url"`
}

// StatsResponse is the body of GET /v1/crawl/stats
type StatsResponse struct {
	jobs.Stats
	LastRun *notifications.Summary `json:"last_run,omitempty"`
}

// ResultsResponse is a page of crawl results
type ResultsResponse struct {
	Results []*crawler.CrawlResult `json:"results"`
	Total   int                    `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

// StartCrawl handles POST /v1/crawl/start
func (h *Handler) StartCrawl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, r)
		return
	}

	var req StartCrawlRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		BadRequest(w, r, "Invalid JSON request body")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		BadRequest(w, r, "url is required")
		return
	}

	if err := h.Session.Start(req.URL); err != nil {
		switch {
		case errors.Is(err, jobs.ErrAlreadyRunning):
			Conflict(w, r, "A crawl is already running")
		case errors.Is(err, jobs.ErrInvalidSeed):
			BadRequest(w, r, err.Error())
		default:
			InternalError(w, r, err)
		}
		return
	}

	logger := loggerWithRequest(r)
	logger.Info().Str("seed_url", req.URL).Msg("Crawl started via API")

	WriteAccepted(w, r, h.Session.GetStats(), "Crawl started")
}

// StopCrawl handles POST /v1/crawl/stop. Stopping an idle session succeeds.
func (h *Handler) StopCrawl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, r)
		return
	}

	h.Session.Stop()
	WriteSuccess(w, r, h.Session.GetStats(), "Crawl stopped")
}

// PauseCrawl handles POST /v1/crawl/pause
func (h *Handler) PauseCrawl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, r)
		return
	}

	if !h.Session.Pause() {
		Conflict(w, r, "No running crawl to pause")
		return
	}
	WriteSuccess(w, r, h.Session.GetStats(), "Crawl paused")
}

// ResumeCrawl handles POST /v1/crawl/resume
func (h *Handler) ResumeCrawl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, r)
		return
	}

	if !h.Session.Resume() {
		Conflict(w, r, "No paused crawl to resume")
		return
	}
	WriteSuccess(w, r, h.Session.GetStats(), "Crawl resumed")
}

// CrawlStats handles GET /v1/crawl/stats
func (h *Handler) CrawlStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	resp := StatsResponse{Stats: h.Session.GetStats()}
	if summary, ok := h.Session.LastSummary(); ok {
		resp.LastRun = &summary
	}
	WriteSuccess(w, r, resp, "")
}

// CrawlResults handles GET /v1/crawl/results?status=ok|failed&limit=&offset=
func (h *Handler) CrawlResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	query := r.URL.Query()
	limit, err := parseBoundedInt(query.Get("limit"), defaultResultsLimit, 1, maxResultsLimit)
	if err != nil {
		BadRequest(w, r, "limit must be an integer")
		return
	}
	offset, err := parseBoundedInt(query.Get("offset"), 0, 0, -1)
	if err != nil {
		BadRequest(w, r, "offset must be an integer")
		return
	}

	results := h.Session.GetResults()
	switch status := query.Get("status"); status {
	case "":
	case "ok":
		results = filterResults(results, false)
	case "failed":
		results = filterResults(results, true)
	default:
		BadRequest(w, r, "status must be 'ok' or 'failed'")
		return
	}

	total := len(results)
	start := min(offset, total)
	end := min(start+limit, total)

	WriteSuccess(w, r, ResultsResponse{
		Results: results[start:end],
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	}, "")
}

func filterResults(results []*crawler.CrawlResult, failed bool) []*crawler.CrawlResult {
	filtered := make([]*crawler.CrawlResult, 0, len(results))
	for _, res := range results {
		if res.Failed() == failed {
			filtered = append(filtered, res)
		}
	}
	return filtered
}

// parseBoundedInt parses raw, returning def when empty. A negative upper
// means no upper bound.
func parseBoundedInt(raw string, def, lower, upper int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	n = max(n, lower)
	if upper >= 0 {
		n = min(n, upper)
	}
	return n, nil
}
