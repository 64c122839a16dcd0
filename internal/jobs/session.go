package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Harvey-AU/bee-crawler/internal/cache"
	"github.com/Harvey-AU/bee-crawler/internal/crawler"
	"github.com/Harvey-AU/bee-crawler/internal/frontier"
	"github.com/Harvey-AU/bee-crawler/internal/notifications"
	"github.com/Harvey-AU/bee-crawler/internal/util"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const notifyTimeout = 10 * time.Second

// Session runs one crawl at a time and can be reused for successive crawls.
type Session struct {
	mu    sync.Mutex
	state State
	cfg   *crawler.Config

	fetcher      crawler.Fetcher
	robots       RobotsChecker
	robotsClient crawler.HTTPClient
	detector     TechDetector
	notifier     *notifications.Service
	hooks        []func(notifications.Summary)

	monitorInterval time.Duration
	settleDelay     time.Duration
	stopTimeout     time.Duration
	cleanupEvery    int

	run     *run
	done    chan struct{}
	summary *notifications.Summary
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithRobotsClient sets the HTTP client used to fetch robots.txt.
func WithRobotsClient(client crawler.HTTPClient) SessionOption {
	return func(s *Session) { s.robotsClient = client }
}

// WithRobots replaces robots.txt handling. The checker is cleared on every Start.
func WithRobots(robots RobotsChecker) SessionOption {
	return func(s *Session) { s.robots = robots }
}

// WithTechDetector enables technology fingerprints on results when the
// configuration asks for them.
func WithTechDetector(detector TechDetector) SessionOption {
	return func(s *Session) { s.detector = detector }
}

// WithNotifier delivers a summary to svc when a run finishes.
func WithNotifier(svc *notifications.Service) SessionOption {
	return func(s *Session) { s.notifier = svc }
}

// OnComplete registers fn to be called with the summary of every finished run.
func OnComplete(fn func(notifications.Summary)) SessionOption {
	return func(s *Session) { s.hooks = append(s.hooks, fn) }
}

// WithTiming overrides the monitor tick, the settle delay of the empty
// frontier check and the Stop grace period. Zero values keep the defaults.
func WithTiming(monitorInterval, settleDelay, stopTimeout time.Duration) SessionOption {
	return func(s *Session) {
		if monitorInterval > 0 {
			s.monitorInterval = monitorInterval
		}
		if settleDelay > 0 {
			s.settleDelay = settleDelay
		}
		if stopTimeout > 0 {
			s.stopTimeout = stopTimeout
		}
	}
}

// NewSession creates an idle Session. A nil cfg uses crawler.DefaultConfig
// and a nil fetcher uses the colly-backed crawler.
func NewSession(cfg *crawler.Config, fetcher crawler.Fetcher, opts ...SessionOption) *Session {
	if cfg == nil {
		cfg = crawler.DefaultConfig()
	}
	if fetcher == nil {
		fetcher = crawler.New(cfg)
	}

	s := &Session{
		state:           StateIdle,
		cfg:             cfg.Clone(),
		fetcher:         fetcher,
		monitorInterval: MonitorInterval,
		settleDelay:     SettleDelay,
		stopTimeout:     StopTimeout,
		cleanupEvery:    CleanupEvery,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns a copy of the configuration used for the next run.
func (s *Session) Config() *crawler.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Clone()
}

// SetConfig replaces the configuration. It is rejected while a run is active.
func (s *Session) SetConfig(cfg *crawler.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active() {
		return ErrAlreadyRunning
	}
	s.cfg = cfg.Clone()
	return nil
}

func (s *Session) active() bool {
	return s.state == StateRunning || s.state == StatePaused
}

// Start begins a crawl from seedURL. All state from a previous run is discarded.
func (s *Session) Start(seedURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active() {
		log.Warn().
			Str("seed_url", seedURL).
			Str("state", s.state.String()).
			Msg("Crawl already running, ignoring start request")
		return ErrAlreadyRunning
	}

	seed, err := util.NormaliseURL(seedURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSeed, err)
	}

	cfg := s.cfg.Clone()
	r := &run{
		id:        uuid.New().String(),
		seedURL:   seed,
		startedAt: time.Now(),
		cfg:       cfg,
		opts:      cfg.FetchOptions(),
		fetcher:   s.fetcher,
		results:   cache.NewInMemoryCache[*crawler.CrawlResult](),
		retry:     crawler.NewRetryPolicy(cfg.MaxRetries, cfg.RetryBaseDelay),
		limiter:   NewHostLimiter(),
		detector:  s.detector,
	}
	r.frontier = frontier.New(cfg.MaxQueueSize, r.pageLimitReached)

	if s.robots != nil {
		s.robots.Clear()
		r.robots = s.robots
	} else {
		r.robots = crawler.NewRobots(s.robotsClient, cfg)
	}

	if err := r.frontier.Enqueue(seed, 0); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSeed, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	workers := max(1, cfg.ThreadCount)
	for i := range workers {
		w := newWorker(i, r)
		g.Go(func() error {
			w.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		s.monitor(gctx, r)
		return nil
	})

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	s.run = r
	s.done = done
	s.summary = nil
	s.state = StateRunning

	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Category: "crawl",
		Message:  "Crawl started",
		Level:    sentry.LevelInfo,
		Data:     map[string]interface{}{"run_id": r.id, "seed_url": seed},
	})

	log.Info().
		Str("run_id", r.id).
		Str("seed_url", seed).
		Int("workers", workers).
		Int("max_depth", cfg.MaxDepth).
		Int("max_pages", cfg.MaxPages).
		Msg("Crawl started")

	return nil
}

// Pause suspends the monitor's termination checks. Workers keep running.
// It reports whether the session was running.
func (s *Session) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return false
	}
	s.state = StatePaused
	log.Info().Str("run_id", s.run.id).Msg("Crawl paused")
	return true
}

// Resume undoes Pause. It reports whether the session was paused.
func (s *Session) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return false
	}
	s.state = StateRunning
	log.Info().Str("run_id", s.run.id).Msg("Crawl resumed")
	return true
}

// Stop ends the current run, waiting up to the stop timeout for workers to
// exit. Calling Stop on an idle or stopped session is a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	r, done := s.run, s.done
	if s.state != StateIdle {
		s.state = StateStopped
	}
	s.mu.Unlock()

	if r == nil {
		return
	}

	s.finish(r, ReasonStopped)

	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		log.Debug().Str("run_id", r.id).Msg("Crawl workers stopped")
	case <-timer.C:
		log.Warn().
			Str("run_id", r.id).
			Dur("timeout", s.stopTimeout).
			Int64("in_flight", r.inFlight.Load()).
			Msg("Workers did not stop in time, abandoning them")
	}
}

// Wait blocks until the current run has finished or ctx ends.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CanStart reports whether Start would be accepted.
func (s *Session) CanStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.active()
}

// IsRunning reports whether a run is active, paused or not.
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active()
}

// IsPaused reports whether the session is paused.
func (s *Session) IsPaused() bool {
	return s.State() == StatePaused
}

// GetStats returns the counters of the current or last run.
func (s *Session) GetStats() Stats {
	s.mu.Lock()
	r, state := s.run, s.state
	s.mu.Unlock()

	stats := Stats{
		Running: state == StateRunning || state == StatePaused,
		Paused:  state == StatePaused,
		State:   state.String(),
	}
	if r == nil {
		return stats
	}

	stats.RunID = r.id
	stats.PagesCrawled = int(r.pagesCrawled.Load())
	stats.QueueSize = r.frontier.Size()
	stats.TotalSeen = r.frontier.SeenCount()
	stats.Results = r.results.Len()
	stats.Errors = int(r.failures.Load())
	return stats
}

// GetResults returns the results of the current or last run ordered by
// time, then URL.
func (s *Session) GetResults() []*crawler.CrawlResult {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()

	if r == nil {
		return []*crawler.CrawlResult{}
	}

	results := r.results.Values()
	sort.Slice(results, func(i, j int) bool {
		if !results[i].Timestamp.Equal(results[j].Timestamp) {
			return results[i].Timestamp.Before(results[j].Timestamp)
		}
		return results[i].URL < results[j].URL
	})
	return results
}

// LastSummary returns the summary of the last finished run.
func (s *Session) LastSummary() (notifications.Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.summary == nil {
		return notifications.Summary{}, false
	}
	return *s.summary, true
}

// monitor ends the run when the page limit is hit or the frontier stays
// empty across the settle delay.
func (s *Session) monitor(ctx context.Context, r *run) {
	ticker := time.NewTicker(s.monitorInterval)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ticks++
		if ticks%s.cleanupEvery == 0 {
			if removed := r.retry.CleanupRetryCounts(r.results.Has); removed > 0 {
				log.Debug().
					Str("run_id", r.id).
					Int("removed", removed).
					Msg("Cleaned up retry records")
			}
		}

		if s.State() == StatePaused {
			continue
		}

		if r.pageLimitReached() {
			log.Info().
				Str("run_id", r.id).
				Int("max_pages", r.cfg.MaxPages).
				Msg("Reached maximum pages limit")
			s.finish(r, ReasonPageLimit)
			return
		}

		if r.idle() && r.processed.Load() > 0 {
			// A worker may be between its dequeue and the enqueue of the
			// links it found, so emptiness must hold across the settle delay.
			if !sleepCtx(ctx, s.settleDelay) {
				return
			}
			if r.idle() && s.State() != StatePaused {
				log.Info().
					Str("run_id", r.id).
					Int64("pages", r.pagesCrawled.Load()).
					Int("seen", r.frontier.SeenCount()).
					Msg("No more URLs to process, stopping crawler")
				s.finish(r, ReasonExhausted)
				return
			}
		}
	}
}

// finish ends r once: the queue is drained, workers are cancelled and the
// summary is delivered. It does not wait for workers to exit.
func (s *Session) finish(r *run, reason string) {
	if !r.finished.CompareAndSwap(false, true) {
		return
	}

	r.frontier.Drain()
	r.cancel()

	summary := notifications.Summary{
		RunID:        r.id,
		SeedURL:      r.seedURL,
		PagesCrawled: int(r.pagesCrawled.Load()),
		TotalSeen:    r.frontier.SeenCount(),
		Results:      r.results.Len(),
		Errors:       int(r.failures.Load()),
		StartedAt:    r.startedAt,
		FinishedAt:   time.Now(),
		Reason:       reason,
	}

	s.mu.Lock()
	if s.run == r {
		s.state = StateStopped
		s.summary = &summary
	}
	hooks := append([]func(notifications.Summary){}, s.hooks...)
	notifier := s.notifier
	s.mu.Unlock()

	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Category: "crawl",
		Message:  "Crawl finished",
		Level:    sentry.LevelInfo,
		Data: map[string]interface{}{
			"run_id":        r.id,
			"reason":        reason,
			"pages_crawled": summary.PagesCrawled,
		},
	})

	log.Info().
		Str("run_id", r.id).
		Str("reason", reason).
		Int("pages_crawled", summary.PagesCrawled).
		Int("results", summary.Results).
		Int("errors", summary.Errors).
		Dur("duration", summary.Duration()).
		Msg("Crawl finished")

	if notifier != nil {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		notifier.NotifyRunComplete(ctx, summary)
		cancel()
	}
	for _, hook := range hooks {
		hook(summary)
	}
}
