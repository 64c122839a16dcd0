//go:build unit || !integration

package frontier

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Harvey-AU/bee-crawler/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryEnqueueNormalisesAndDeduplicates(t *testing.T) {
	f := New(10, nil)

	assert.True(t, f.TryEnqueue("https://example.com/page#top", 0))
	assert.False(t, f.TryEnqueue("https://example.com/page", 1), "fragment variant is the same url")
	assert.False(t, f.TryEnqueue("HTTPS://EXAMPLE.com/page#other", 2))

	assert.Equal(t, 1, f.Size())
	assert.Equal(t, 1, f.SeenCount())

	e, ok := f.Dequeue(context.Background(), 10*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, Entry{URL: "https://example.com/page", Depth: 0}, e)

	state, ok := f.StateOf("https://example.com/page")
	require.True(t, ok)
	assert.Equal(t, StateQueued, state)
}

func TestEnqueueRejectionReasons(t *testing.T) {
	limit := atomic.Bool{}
	f := New(1, limit.Load)

	assert.ErrorIs(t, f.Enqueue("javascript:void(0)", 0), util.ErrMalformedURL)
	assert.ErrorIs(t, f.Enqueue("https://example.com/a", -1), util.ErrMalformedURL)

	require.NoError(t, f.Enqueue("https://example.com/a", 0))
	assert.ErrorIs(t, f.Enqueue("https://example.com/a", 0), ErrSeen)
	assert.ErrorIs(t, f.Enqueue("https://example.com/b", 0), ErrQueueFull)
	assert.False(t, f.IsSeen("https://example.com/b"))

	f.Drain()
	limit.Store(true)
	assert.ErrorIs(t, f.Enqueue("https://example.com/c", 0), ErrPageLimit)
	assert.False(t, f.IsSeen("https://example.com/c"))
}

func TestConcurrentEnqueueSameURL(t *testing.T) {
	f := New(100, nil)
	const attempts = 50

	var wg sync.WaitGroup
	var accepted, rejected atomic.Int32
	start := make(chan struct{})

	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			<-start
			if f.TryEnqueue("https://example.com/same", 1) {
				accepted.Add(1)
			} else {
				rejected.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(attempts-1), rejected.Load())
	assert.Equal(t, 1, f.Size())
	assert.Equal(t, 1, f.SeenCount())
}

func TestCapacityBackpressure(t *testing.T) {
	const capacity = 5
	f := New(capacity, nil)
	assert.Equal(t, capacity, f.Capacity())

	accepted := 0
	for i := 0; i <= capacity; i++ {
		if f.TryEnqueue(fmt.Sprintf("https://example.com/p%d", i), 1) {
			accepted++
		}
	}

	assert.Equal(t, capacity, accepted)
	assert.Equal(t, capacity, f.SeenCount())
	rejected := fmt.Sprintf("https://example.com/p%d", capacity)
	assert.False(t, f.IsSeen(rejected))

	_, ok := f.Dequeue(context.Background(), 10*time.Millisecond)
	require.True(t, ok)
	assert.True(t, f.TryEnqueue(rejected, 1), "rolled back url can be retried once there is room")
}

func TestDequeueTimesOut(t *testing.T) {
	f := New(1, nil)

	start := time.Now()
	_, ok := f.Dequeue(context.Background(), 50*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestDequeueReturnsOnCancel(t *testing.T) {
	f := New(1, nil)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, ok := f.Dequeue(ctx, 5*time.Second)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestMarkCrawledIsIdempotent(t *testing.T) {
	f := New(5, nil)
	require.True(t, f.TryEnqueue("https://example.com/x", 0))

	f.MarkCrawled("https://example.com/x")
	f.MarkCrawled("https://example.com/x#again")

	state, ok := f.StateOf("https://example.com/x")
	require.True(t, ok)
	assert.Equal(t, StateCrawled, state)
	assert.Equal(t, 1, f.SeenCount())

	// Marking an unseen url records it as crawled
	f.MarkCrawled("https://example.com/y")
	assert.Equal(t, 2, f.SeenCount())
}

func TestRequeueBypassesSeenSet(t *testing.T) {
	f := New(2, nil)
	require.True(t, f.TryEnqueue("https://example.com/retry", 2))

	e, ok := f.Dequeue(context.Background(), 10*time.Millisecond)
	require.True(t, ok)

	assert.True(t, f.Requeue(e))
	again, ok := f.Dequeue(context.Background(), 10*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, e, again)
}

func TestClear(t *testing.T) {
	f := New(5, nil)
	require.True(t, f.TryEnqueue("https://example.com/a", 0))
	require.True(t, f.TryEnqueue("https://example.com/b", 0))
	assert.Equal(t, 2, f.SeenCount())

	f.Clear()
	assert.Equal(t, 0, f.Size())
	assert.Equal(t, 0, f.SeenCount())
	assert.True(t, f.TryEnqueue("https://example.com/b", 0))
}
