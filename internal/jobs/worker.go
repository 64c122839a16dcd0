package jobs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/Harvey-AU/bee-crawler/internal/cache"
	"github.com/Harvey-AU/bee-crawler/internal/crawler"
	"github.com/Harvey-AU/bee-crawler/internal/frontier"
	"github.com/Harvey-AU/bee-crawler/internal/observability"
	"github.com/Harvey-AU/bee-crawler/internal/util"
	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// run is the state shared by every worker of one crawl. A new run is built
// on each Session.Start, so nothing leaks between crawls.
type run struct {
	id        string
	seedURL   string
	startedAt time.Time

	cfg  *crawler.Config
	opts crawler.FetchOptions

	fetcher  crawler.Fetcher
	frontier *frontier.Frontier
	results  *cache.InMemoryCache[*crawler.CrawlResult]
	retry    *crawler.RetryPolicy
	robots   RobotsChecker
	limiter  *HostLimiter
	detector TechDetector

	pagesCrawled atomic.Int64
	reserved     atomic.Int64 // pages crawled plus fetches holding a page slot
	processed    atomic.Int64
	inFlight     atomic.Int64
	failures     atomic.Int64

	cancel   context.CancelFunc
	finished atomic.Bool
}

func (r *run) pageLimitReached() bool {
	return r.pagesCrawled.Load() >= int64(r.cfg.MaxPages)
}

// reservePage claims one of the MaxPages slots for a fetch about to start.
// The slot is kept when the fetch produces a page and released otherwise.
func (r *run) reservePage() bool {
	limit := int64(r.cfg.MaxPages)
	for {
		n := r.reserved.Load()
		if n >= limit {
			return false
		}
		if r.reserved.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (r *run) releasePage() {
	r.reserved.Add(-1)
}

// idle reports whether nothing is queued and no worker holds a URL.
func (r *run) idle() bool {
	return r.frontier.Size() == 0 && r.inFlight.Load() == 0
}

// storeResult records result unless its URL already has one.
func (r *run) storeResult(result *crawler.CrawlResult) bool {
	if !r.results.SetIfAbsent(result.URL, result) {
		log.Debug().
			Str("run_id", r.id).
			Str("url", result.URL).
			Msg("Result already recorded, discarding duplicate")
		return false
	}
	return true
}

// Worker pulls entries from the run's frontier until its context ends.
type Worker struct {
	id  int
	run *run
	log zerolog.Logger
}

func newWorker(id int, r *run) *Worker {
	return &Worker{
		id:  id,
		run: r,
		log: log.With().Str("run_id", r.id).Int("worker_id", id).Logger(),
	}
}

// Run processes entries until ctx is cancelled. A URL being processed when
// ctx ends is abandoned without a result.
func (w *Worker) Run(ctx context.Context) {
	w.log.Debug().Msg("Starting worker")

	for {
		if ctx.Err() != nil {
			w.log.Debug().Msg("Worker context cancelled")
			return
		}

		entry, ok := w.run.frontier.Dequeue(ctx, frontier.DequeueTimeout)
		if !ok {
			continue
		}

		w.run.inFlight.Add(1)
		w.processEntry(ctx, entry)
		w.run.processed.Add(1)
		w.run.inFlight.Add(-1)

		if !sleepCtx(ctx, w.run.cfg.Delay) {
			w.log.Debug().Msg("Worker stopped during politeness delay")
			return
		}
	}
}

// processEntry handles one dequeued URL. Panics are contained here so one
// bad page cannot take the worker down.
func (w *Worker) processEntry(ctx context.Context, entry frontier.Entry) {
	ctx, span := observability.StartURLSpan(ctx, observability.URLSpanInfo{
		RunID:    w.run.id,
		WorkerID: w.id,
		URL:      entry.URL,
		Depth:    entry.Depth,
	})
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			hub := sentry.CurrentHub().Clone()
			hub.ConfigureScope(func(scope *sentry.Scope) {
				scope.SetTag("run_id", w.run.id)
				scope.SetTag("url", entry.URL)
			})
			hub.RecoverWithContext(ctx, rec)

			w.log.Error().
				Interface("panic", rec).
				Str("url", entry.URL).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic while processing URL")

			w.recordFailure(ctx, entry, 500, fmt.Sprintf("Error: %v", rec), "", 0, OutcomeFetchError)
		}
	}()

	if err := w.checkCrawlable(ctx, entry); err != nil {
		w.skip(ctx, entry, err)
		return
	}

	if !w.run.reservePage() {
		// Every slot is held. In-flight fetches may still fail and hand
		// theirs back, so the URL waits on the queue until the limit is real.
		if !w.run.pageLimitReached() && w.run.frontier.Requeue(entry) {
			sleepCtx(ctx, slotWaitDelay)
			return
		}
		w.skip(ctx, entry, ErrPageLimitReached)
		return
	}
	kept := false
	defer func() {
		if !kept {
			w.run.releasePage()
		}
	}()

	host, _ := util.Host(entry.URL)
	var crawlDelay time.Duration
	if w.run.cfg.RespectRobots {
		crawlDelay = w.run.robots.CrawlDelay(ctx, entry.URL)
	}
	if err := w.run.limiter.Wait(ctx, host, crawlDelay); err != nil {
		return
	}

	start := time.Now()
	page, err := w.run.fetcher.Fetch(ctx, entry.URL, w.run.opts)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.log.Warn().
			Err(err).
			Str("url", entry.URL).
			Msg("Error crawling URL")
		var netErr net.Error
		if !errors.As(err, &netErr) {
			sentry.CaptureException(err)
		}
		w.recordFailure(ctx, entry, 500, "Error: "+err.Error(), "", time.Since(start), OutcomeFetchError)
		return
	}

	observability.RecordFetch(ctx, page.StatusCode, page.ResponseTime)
	kept = w.handlePage(ctx, entry, page)
}

// checkCrawlable returns the reason entry must not be fetched, or nil.
func (w *Worker) checkCrawlable(ctx context.Context, entry frontier.Entry) error {
	if w.run.results.Has(entry.URL) {
		return ErrAlreadyProcessed
	}
	if w.run.pageLimitReached() {
		return ErrPageLimitReached
	}
	if !util.SameHost(entry.URL, w.run.seedURL) {
		return ErrDomainMismatch
	}
	if w.run.cfg.RespectRobots && !w.run.robots.IsAllowed(ctx, entry.URL) {
		return ErrRobotsDisallowed
	}
	return nil
}

func (w *Worker) skip(ctx context.Context, entry frontier.Entry, reason error) {
	w.log.Debug().
		Str("url", entry.URL).
		Str("reason", reason.Error()).
		Msg("Skipping URL")

	// Hosts and robots rules do not change during a run, so these URLs are
	// finished. A page-limit skip leaves the URL queued for stats.
	if errors.Is(reason, ErrDomainMismatch) || errors.Is(reason, ErrRobotsDisallowed) {
		w.run.frontier.MarkCrawled(entry.URL)
	}
	observability.RecordPage(ctx, w.run.id, OutcomeSkipped)
}

// handlePage classifies a completed HTTP exchange and reports whether it
// was stored as a crawled page.
func (w *Worker) handlePage(ctx context.Context, entry frontier.Entry, page *crawler.Page) bool {
	retry := w.run.retry
	status := page.StatusCode

	if retry.IsRedirect(status) && w.run.opts.FollowRedirects && page.Location() != "" {
		if w.followRedirect(ctx, entry, page) {
			return false
		}
	}

	// Error and redirect responses often carry no content type, so only
	// 2xx pages are held to the content-type allow-list.
	if !retry.IsSuccess(status) {
		if retry.ShouldRetry(entry.URL, status) && w.scheduleRetry(ctx, entry, status) {
			return false
		}
		if retry.IsServerError(status) || retry.IsRateLimited(status) {
			w.log.Warn().
				Err(crawler.ErrRetryBudgetExhausted).
				Str("url", entry.URL).
				Int("status", status).
				Int("attempts", retry.Attempts(entry.URL)).
				Msg("Giving up on URL after retries")
		}
		w.recordFailure(ctx, entry, status, "HTTP Error: "+retry.StatusDescription(status),
			page.ContentType, page.ResponseTime, OutcomeHTTPError)
		return false
	}

	if w.run.cfg.ValidateContentType && !retry.IsCrawlableContentType(page.ContentType) {
		w.log.Debug().
			Err(crawler.ErrUnsupportedContentType).
			Str("url", entry.URL).
			Str("content_type", page.ContentType).
			Msg("Skipping non-crawlable content type")
		w.recordFailure(ctx, entry, status, "Non-crawlable content type: "+page.ContentType,
			page.ContentType, page.ResponseTime, OutcomeContentType)
		return false
	}

	return w.recordSuccess(ctx, entry, page)
}

// followRedirect queues the Location target one level deeper. It returns
// false when the chain is too long or the target is unusable, leaving the
// response to be recorded as an HTTP error.
func (w *Worker) followRedirect(ctx context.Context, entry frontier.Entry, page *crawler.Page) bool {
	retry := w.run.retry

	if !retry.ShouldFollowRedirect(entry.URL) {
		w.log.Warn().
			Str("url", entry.URL).
			Int("max_chain", crawler.MaxRedirectChain).
			Msg("Redirect chain too long, not following")
		return false
	}

	target, err := util.ResolveReference(entry.URL, page.Location())
	if err == nil {
		target, err = util.NormaliseURL(target)
	}
	if err != nil {
		w.log.Debug().
			Err(err).
			Str("url", entry.URL).
			Str("location", page.Location()).
			Msg("Ignoring malformed redirect target")
		return false
	}

	switch {
	case !util.SameHost(target, w.run.seedURL):
		w.log.Debug().
			Str("url", entry.URL).
			Str("target", target).
			Msg("Redirect leaves the seed host, not following")
	case entry.Depth >= w.run.cfg.MaxDepth:
		w.log.Debug().
			Str("url", entry.URL).
			Str("target", target).
			Int("depth", entry.Depth).
			Msg("Redirect target beyond max depth, not following")
	default:
		if err := w.run.frontier.Enqueue(target, entry.Depth+1); err != nil {
			observability.RecordFrontierRejection(ctx, rejectionReason(err))
		} else {
			hops := retry.RecordRedirect(entry.URL, target)
			w.log.Debug().
				Str("url", entry.URL).
				Str("target", target).
				Int("status", page.StatusCode).
				Int("hops", hops).
				Msg("Following redirect")
		}
	}

	w.run.frontier.MarkCrawled(entry.URL)
	observability.RecordPage(ctx, w.run.id, OutcomeRedirect)
	return true
}

// scheduleRetry puts entry back on the frontier and sleeps its backoff.
// It returns false when the frontier has no room for it.
func (w *Worker) scheduleRetry(ctx context.Context, entry frontier.Entry, status int) bool {
	retry := w.run.retry
	delay := retry.RetryDelay(entry.URL)

	// Count the attempt before the entry is visible to other workers.
	attempt := retry.RecordAttempt(entry.URL)
	if !w.run.frontier.Requeue(entry) {
		w.log.Warn().
			Str("url", entry.URL).
			Int("status", status).
			Msg("Frontier full, cannot requeue URL for retry")
		return false
	}

	if host, err := util.Host(entry.URL); err == nil {
		w.run.limiter.Penalise(host, min(retry.RecommendedDelay(status), delay))
	}

	w.log.Info().
		Str("url", entry.URL).
		Int("status", status).
		Int("attempt", attempt).
		Int("max_retries", retry.MaxRetries()).
		Dur("delay", delay).
		Msg("Retrying URL after backoff")
	observability.RecordPage(ctx, w.run.id, OutcomeRetry)

	sleepCtx(ctx, delay)
	return true
}

func (w *Worker) recordSuccess(ctx context.Context, entry frontier.Entry, page *crawler.Page) bool {
	links := w.filterLinks(page.Links)

	result := &crawler.CrawlResult{
		URL:          entry.URL,
		Title:        page.Title,
		Content:      page.Text,
		StatusCode:   page.StatusCode,
		ContentType:  page.ContentType,
		ResponseTime: page.ResponseTime.Milliseconds(),
		Links:        links,
		Depth:        entry.Depth,
		Timestamp:    time.Now(),
	}
	if w.run.cfg.DetectTechnologies && w.run.detector != nil {
		result.Technologies = w.run.detector.DetectNames(page.Headers, page.Body)
	}

	if !w.run.storeResult(result) {
		return false
	}
	pages := w.run.pagesCrawled.Add(1)
	w.run.frontier.MarkCrawled(entry.URL)
	w.run.retry.Reset(entry.URL)
	observability.RecordPage(ctx, w.run.id, OutcomeSuccess)

	enqueued := w.enqueueLinks(ctx, entry, links)

	w.log.Info().
		Str("url", entry.URL).
		Int("depth", entry.Depth).
		Int("status", page.StatusCode).
		Int("links_found", len(links)).
		Int("links_queued", enqueued).
		Int64("pages_crawled", pages).
		Msg("Crawled page")
	return true
}

// filterLinks returns the link URLs kept for the result, in document order.
// Navigation chrome is dropped here; non-content URLs are still recorded
// and only kept off the frontier.
func (w *Worker) filterLinks(links []crawler.Link) []string {
	out := make([]string, 0, len(links))
	for _, link := range links {
		if w.run.cfg.FilterNonContent && crawler.IsUILink(link.Element) {
			continue
		}
		out = append(out, link.URL)
	}
	return out
}

// enqueueLinks queues same-host links one level deeper and returns how many
// the frontier accepted.
func (w *Worker) enqueueLinks(ctx context.Context, entry frontier.Entry, links []string) int {
	if entry.Depth >= w.run.cfg.MaxDepth {
		return 0
	}

	enqueued := 0
	for _, link := range links {
		if enqueued >= w.run.cfg.MaxLinksPerPage {
			break
		}
		if !util.SameHost(link, w.run.seedURL) {
			continue
		}
		if w.run.cfg.FilterNonContent && crawler.IsNonContentURL(link) {
			continue
		}
		if err := w.run.frontier.Enqueue(link, entry.Depth+1); err != nil {
			if !errors.Is(err, frontier.ErrSeen) {
				observability.RecordFrontierRejection(ctx, rejectionReason(err))
			}
			continue
		}
		enqueued++
	}
	return enqueued
}

// recordFailure stores a terminal result for a URL that produced no page.
func (w *Worker) recordFailure(ctx context.Context, entry frontier.Entry, status int, content, contentType string, responseTime time.Duration, outcome string) {
	result := &crawler.CrawlResult{
		URL:          entry.URL,
		Content:      content,
		StatusCode:   status,
		ContentType:  contentType,
		ResponseTime: responseTime.Milliseconds(),
		Depth:        entry.Depth,
		Timestamp:    time.Now(),
	}

	if w.run.storeResult(result) {
		w.run.failures.Add(1)
	}
	w.run.frontier.MarkCrawled(entry.URL)
	w.run.retry.Reset(entry.URL)
	observability.RecordPage(ctx, w.run.id, outcome)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, frontier.ErrSeen):
		return "seen"
	case errors.Is(err, frontier.ErrQueueFull):
		return "queue_full"
	case errors.Is(err, frontier.ErrPageLimit):
		return "page_limit"
	case errors.Is(err, util.ErrMalformedURL):
		return "malformed"
	default:
		return "other"
	}
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
