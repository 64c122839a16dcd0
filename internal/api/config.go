package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Harvey-AU/bee-crawler/internal/crawler"
	"github.com/Harvey-AU/bee-crawler/internal/jobs"
)

// ConfigResponse is the JSON view of crawler.Config. Durations are in milliseconds.
type ConfigResponse struct {
	ThreadCount         int    `json:"thread_count"`
	MaxDepth            int    `json:"max_depth"`
	MaxPages            int    `json:"max_pages"`
	DelayMs             int64  `json:"delay_ms"`
	ConnectionTimeoutMs int64  `json:"connection_timeout_ms"`
	UserAgent           string `json:"user_agent"`
	FollowRedirects     bool   `json:"follow_redirects"`
	RespectRobots       bool   `json:"respect_robots"`
	MaxQueueSize        int    `json:"max_queue_size"`
	FilterNonContent    bool   `json:"filter_non_content"`
	MaxLinksPerPage     int    `json:"max_links_per_page"`
	MaxRetries          int    `json:"max_retries"`
	RetryBaseDelayMs    int64  `json:"retry_base_delay_ms"`
	MaxRedirects        int    `json:"max_redirects"`
	ValidateContentType bool   `json:"validate_content_type"`
	RobotsTimeoutMs     int64  `json:"robots_timeout_ms"`
	MaxBodySize         int    `json:"max_body_size"`
	DetectTechnologies  bool   `json:"detect_technologies"`
}

// UpdateConfigRequest is a partial update; omitted fields keep their value.
type UpdateConfigRequest struct {
	ThreadCount         *int    `json:"thread_count"`
	MaxDepth            *int    `json:"max_depth"`
	MaxPages            *int    `json:"max_pages"`
	DelayMs             *int64  `json:"delay_ms"`
	ConnectionTimeoutMs *int64  `json:"connection_timeout_ms"`
	UserAgent           *string `json:"user_agent"`
	FollowRedirects     *bool   `json:"follow_redirects"`
	RespectRobots       *bool   `json:"respect_robots"`
	MaxQueueSize        *int    `json:"max_queue_size"`
	FilterNonContent    *bool   `json:"filter_non_content"`
	MaxLinksPerPage     *int    `json:"max_links_per_page"`
	MaxRetries          *int    `json:"max_retries"`
	RetryBaseDelayMs    *int64  `json:"retry_base_delay_ms"`
	MaxRedirects        *int    `json:"max_redirects"`
	ValidateContentType *bool   `json:"validate_content_type"`
	RobotsTimeoutMs     *int64  `json:"robots_timeout_ms"`
	MaxBodySize         *int    `json:"max_body_size"`
	DetectTechnologies  *bool   `json:"detect_technologies"`
}

func toConfigResponse(c *crawler.Config) ConfigResponse {
	return ConfigResponse{
		ThreadCount:         c.ThreadCount,
		MaxDepth:            c.MaxDepth,
		MaxPages:            c.MaxPages,
		DelayMs:             c.Delay.Milliseconds(),
		ConnectionTimeoutMs: c.ConnectionTimeout.Milliseconds(),
		UserAgent:           c.UserAgent,
		FollowRedirects:     c.FollowRedirects,
		RespectRobots:       c.RespectRobots,
		MaxQueueSize:        c.MaxQueueSize,
		FilterNonContent:    c.FilterNonContent,
		MaxLinksPerPage:     c.MaxLinksPerPage,
		MaxRetries:          c.MaxRetries,
		RetryBaseDelayMs:    c.RetryBaseDelay.Milliseconds(),
		MaxRedirects:        c.MaxRedirects,
		ValidateContentType: c.ValidateContentType,
		RobotsTimeoutMs:     c.RobotsTimeout.Milliseconds(),
		MaxBodySize:         c.MaxBodySize,
		DetectTechnologies:  c.DetectTechnologies,
	}
}

// apply runs every supplied field through the matching setter.
func (req *UpdateConfigRequest) apply(c *crawler.Config) error {
	var errs []error
	setInt := func(v *int, set func(int) error) {
		if v != nil {
			errs = append(errs, set(*v))
		}
	}
	setMillis := func(v *int64, set func(time.Duration) error) {
		if v != nil {
			errs = append(errs, set(time.Duration(*v)*time.Millisecond))
		}
	}
	setBool := func(v *bool, dst *bool) {
		if v != nil {
			*dst = *v
		}
	}

	setInt(req.ThreadCount, c.SetThreadCount)
	setInt(req.MaxDepth, c.SetMaxDepth)
	setInt(req.MaxPages, c.SetMaxPages)
	setMillis(req.DelayMs, c.SetDelay)
	setMillis(req.ConnectionTimeoutMs, c.SetConnectionTimeout)
	setInt(req.MaxQueueSize, c.SetMaxQueueSize)
	setInt(req.MaxLinksPerPage, c.SetMaxLinksPerPage)
	setInt(req.MaxRetries, c.SetMaxRetries)
	setMillis(req.RetryBaseDelayMs, c.SetRetryBaseDelay)
	setInt(req.MaxRedirects, c.SetMaxRedirects)
	setMillis(req.RobotsTimeoutMs, c.SetRobotsTimeout)
	setInt(req.MaxBodySize, c.SetMaxBodySize)
	if req.UserAgent != nil {
		errs = append(errs, c.SetUserAgent(*req.UserAgent))
	}

	setBool(req.FollowRedirects, &c.FollowRedirects)
	setBool(req.RespectRobots, &c.RespectRobots)
	setBool(req.FilterNonContent, &c.FilterNonContent)
	setBool(req.ValidateContentType, &c.ValidateContentType)
	setBool(req.DetectTechnologies, &c.DetectTechnologies)

	return errors.Join(errs...)
}

// ConfigHandler handles GET and PUT /v1/config
func (h *Handler) ConfigHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		WriteSuccess(w, r, toConfigResponse(h.Session.Config()), "")
	case http.MethodPut:
		h.updateConfig(w, r)
	default:
		MethodNotAllowed(w, r)
	}
}

func (h *Handler) updateConfig(w http.ResponseWriter, r *http.Request) {
	var req UpdateConfigRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		BadRequest(w, r, "Invalid JSON request body")
		return
	}

	cfg := h.Session.Config()
	if err := req.apply(cfg); err != nil {
		ValidationError(w, r, err)
		return
	}

	if err := h.Session.SetConfig(cfg); err != nil {
		if errors.Is(err, jobs.ErrAlreadyRunning) {
			Conflict(w, r, "Configuration cannot change while a crawl is running")
			return
		}
		InternalError(w, r, err)
		return
	}

	WriteSuccess(w, r, toConfigResponse(cfg), "Configuration updated")
}
