// Package frontier holds the bounded, deduplicating work queue shared by crawl workers.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Harvey-AU/bee-crawler/internal/util"
)

// DequeueTimeout is the default bounded wait used by workers.
const DequeueTimeout = time.Second

// Rejection reasons returned by Enqueue.
var (
	ErrSeen      = errors.New("url already seen")
	ErrQueueFull = errors.New("frontier at capacity")
	ErrPageLimit = errors.New("page limit reached")
)

// State is the lifecycle of a URL in the seen-set.
type State int

const (
	StateQueued State = iota + 1
	StateCrawled
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateCrawled:
		return "crawled"
	default:
		return "unknown"
	}
}

// Entry is a normalised URL waiting to be crawled at a given depth.
type Entry struct {
	URL   string
	Depth int
}

// Frontier pairs a bounded FIFO with a seen-set oracle.
// The seen-set insert-if-absent is the only synchronisation point between
// concurrent producers; the queue itself is a buffered channel.
type Frontier struct {
	queue        chan Entry
	seen         sync.Map // normalised url -> State
	seenCount    atomic.Int64
	limitReached func() bool
}

// New creates a Frontier holding at most capacity entries.
// limitReached is consulted on every enqueue; nil means no page ceiling.
func New(capacity int, limitReached func() bool) *Frontier {
	if capacity < 1 {
		capacity = 1
	}
	if limitReached == nil {
		limitReached = func() bool { return false }
	}
	return &Frontier{
		queue:        make(chan Entry, capacity),
		limitReached: limitReached,
	}
}

// TryEnqueue normalises rawURL and queues it at depth.
// It returns false, leaving no trace in the seen-set, when the URL is
// malformed, already seen, the page ceiling is reached or the queue is full.
func (f *Frontier) TryEnqueue(rawURL string, depth int) bool {
	return f.Enqueue(rawURL, depth) == nil
}

// Enqueue is TryEnqueue with the rejection reason.
func (f *Frontier) Enqueue(rawURL string, depth int) error {
	key, err := util.NormaliseURL(rawURL)
	if err != nil {
		return err
	}
	if depth < 0 {
		return fmt.Errorf("%w: negative depth %d", util.ErrMalformedURL, depth)
	}

	if _, loaded := f.seen.LoadOrStore(key, StateQueued); loaded {
		return ErrSeen
	}
	f.seenCount.Add(1)

	if f.limitReached() {
		f.rollback(key)
		return ErrPageLimit
	}

	select {
	case f.queue <- Entry{URL: key, Depth: depth}:
		return nil
	default:
		f.rollback(key)
		return ErrQueueFull
	}
}

// Requeue puts an entry that is still Queued back on the queue without
// consulting the seen-set. Used by the retry path.
func (f *Frontier) Requeue(e Entry) bool {
	select {
	case f.queue <- e:
		return true
	default:
		return false
	}
}

// Dequeue waits up to timeout for an entry. It returns false on timeout or
// when ctx is done so the caller can re-check its stop conditions.
func (f *Frontier) Dequeue(ctx context.Context, timeout time.Duration) (Entry, bool) {
	select {
	case e := <-f.queue:
		return e, true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e := <-f.queue:
		return e, true
	case <-timer.C:
		return Entry{}, false
	case <-ctx.Done():
		return Entry{}, false
	}
}

// MarkCrawled moves rawURL to Crawled. Repeated calls are no-ops.
func (f *Frontier) MarkCrawled(rawURL string) {
	key, err := util.NormaliseURL(rawURL)
	if err != nil {
		return
	}
	if f.seen.CompareAndSwap(key, StateQueued, StateCrawled) {
		return
	}
	if _, loaded := f.seen.LoadOrStore(key, StateCrawled); !loaded {
		f.seenCount.Add(1)
	}
}

// StateOf returns the seen-set state for rawURL.
func (f *Frontier) StateOf(rawURL string) (State, bool) {
	key, err := util.NormaliseURL(rawURL)
	if err != nil {
		return 0, false
	}
	v, ok := f.seen.Load(key)
	if !ok {
		return 0, false
	}
	return v.(State), true
}

// IsSeen reports whether rawURL is Queued or Crawled.
func (f *Frontier) IsSeen(rawURL string) bool {
	_, ok := f.StateOf(rawURL)
	return ok
}

// Size returns the number of queued entries.
func (f *Frontier) Size() int {
	return len(f.queue)
}

// Capacity returns the queue bound.
func (f *Frontier) Capacity() int {
	return cap(f.queue)
}

// SeenCount returns the number of URLs in the seen-set.
func (f *Frontier) SeenCount() int {
	return int(f.seenCount.Load())
}

// Clear drains the queue and empties the seen-set.
func (f *Frontier) Clear() {
	f.Drain()
	f.seen.Clear()
	f.seenCount.Store(0)
}

// Drain empties the queue but keeps the seen-set, returning how many entries were dropped.
func (f *Frontier) Drain() int {
	dropped := 0
	for {
		select {
		case <-f.queue:
			dropped++
		default:
			return dropped
		}
	}
}

func (f *Frontier) rollback(key string) {
	if f.seen.CompareAndDelete(key, StateQueued) {
		f.seenCount.Add(-1)
	}
}
