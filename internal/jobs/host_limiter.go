package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// HostLimiter paces requests per host across all workers of a run. The
// robots.txt crawl-delay sets the interval between requests, and hosts that
// answer with 429/503 or 5xx can be pushed back with Penalise.
type HostLimiter struct {
	mu    sync.Mutex
	hosts map[string]*hostState

	now func() time.Time
}

type hostState struct {
	limiter      *rate.Limiter
	interval     time.Duration
	backoffUntil time.Time
}

// NewHostLimiter creates an empty HostLimiter.
func NewHostLimiter() *HostLimiter {
	return &HostLimiter{
		hosts: make(map[string]*hostState),
		now:   time.Now,
	}
}

func (hl *HostLimiter) getOrCreateState(host string) *hostState {
	state, ok := hl.hosts[host]
	if !ok {
		state = &hostState{limiter: rate.NewLimiter(rate.Inf, 1)}
		hl.hosts[host] = state
	}
	return state
}

// Wait blocks until a request to host may start, honouring crawlDelay as
// the minimum spacing between requests. It returns ctx's error if ctx ends first.
func (hl *HostLimiter) Wait(ctx context.Context, host string, crawlDelay time.Duration) error {
	if host == "" {
		return nil
	}

	hl.mu.Lock()
	state := hl.getOrCreateState(host)
	if crawlDelay != state.interval {
		state.interval = crawlDelay
		if crawlDelay > 0 {
			state.limiter.SetLimit(rate.Every(crawlDelay))
		} else {
			state.limiter.SetLimit(rate.Inf)
		}
	}
	backoff := state.backoffUntil.Sub(hl.now())
	limiter := state.limiter
	hl.mu.Unlock()

	if backoff > 0 {
		timer := time.NewTimer(backoff)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return limiter.Wait(ctx)
}

// Penalise holds back every request to host for d. A longer existing
// penalty is kept.
func (hl *HostLimiter) Penalise(host string, d time.Duration) {
	if host == "" || d <= 0 {
		return
	}

	hl.mu.Lock()
	defer hl.mu.Unlock()

	state := hl.getOrCreateState(host)
	until := hl.now().Add(d)
	if until.After(state.backoffUntil) {
		state.backoffUntil = until
		log.Debug().
			Str("host", host).
			Dur("backoff", d).
			Msg("Host penalised after error response")
	}
}

// Backoff returns how long requests to host are still held back.
func (hl *HostLimiter) Backoff(host string) time.Duration {
	hl.mu.Lock()
	defer hl.mu.Unlock()

	state, ok := hl.hosts[host]
	if !ok {
		return 0
	}
	return max(0, state.backoffUntil.Sub(hl.now()))
}

// Reset forgets every host.
func (hl *HostLimiter) Reset() {
	hl.mu.Lock()
	defer hl.mu.Unlock()
	hl.hosts = make(map[string]*hostState)
}
