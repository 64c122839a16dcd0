package jobs

import (
	"errors"
	"time"
)

// Session errors
var (
	ErrAlreadyRunning = errors.New("crawl already running")
	ErrInvalidSeed    = errors.New("invalid seed url")
)

// Skip reasons for dequeued URLs that are not fetched
var (
	ErrDomainMismatch   = errors.New("url host differs from seed host")
	ErrRobotsDisallowed = errors.New("url blocked by robots.txt")
	ErrAlreadyProcessed = errors.New("url already has a result")
	ErrPageLimitReached = errors.New("page limit reached")
)

// State is the lifecycle of a Session
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Timing defaults for the session monitor and shutdown
const (
	MonitorInterval = time.Second
	SettleDelay     = 3 * time.Second
	StopTimeout     = 5 * time.Second
	CleanupEvery    = 30
)

// slotWaitDelay paces workers whose URL is waiting for a page slot held by
// an in-flight fetch.
const slotWaitDelay = 50 * time.Millisecond

// Stop reasons reported in run summaries
const (
	ReasonPageLimit = "page_limit"
	ReasonExhausted = "frontier_exhausted"
	ReasonStopped   = "stopped"
)

// Result outcomes recorded as metrics and counted in summaries
const (
	OutcomeSuccess     = "success"
	OutcomeHTTPError   = "http_error"
	OutcomeFetchError  = "fetch_error"
	OutcomeContentType = "content_type"
	OutcomeRetry       = "retry"
	OutcomeRedirect    = "redirect"
	OutcomeSkipped     = "skipped"
)

// Stats is a point-in-time view of a run. Fields are read independently and
// are not a consistent snapshot across each other.
type Stats struct {
	PagesCrawled int    `json:"pages_crawled"`
	QueueSize    int    `json:"queue_size"`
	TotalSeen    int    `json:"total_seen"`
	Running      bool   `json:"running"`
	Paused       bool   `json:"paused"`
	State        string `json:"state"`
	RunID        string `json:"run_id,omitempty"`
	Results      int    `json:"results"`
	Errors       int    `json:"errors"`
}
