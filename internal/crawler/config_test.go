//go:build unit || !integration

package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withCPUs(t *testing.T, n int) {
	t.Helper()
	orig := numCPU
	numCPU = func() int { return n }
	t.Cleanup(func() { numCPU = orig })
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 10, cfg.ThreadCount)
	assert.Equal(t, 3, cfg.MaxDepth)
	assert.Equal(t, 100, cfg.MaxPages)
	assert.Equal(t, 500*time.Millisecond, cfg.Delay)
	assert.Equal(t, 10*time.Second, cfg.ConnectionTimeout)
	assert.Equal(t, DefaultUserAgent, cfg.UserAgent)
	assert.True(t, cfg.FollowRedirects)
	assert.True(t, cfg.RespectRobots)
	assert.Equal(t, 500, cfg.MaxQueueSize)
	assert.True(t, cfg.FilterNonContent)
	assert.Equal(t, 50, cfg.MaxLinksPerPage)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 5, cfg.MaxRedirects)
	assert.True(t, cfg.ValidateContentType)
	assert.Equal(t, 10*time.Second, cfg.RobotsTimeout)
	assert.False(t, cfg.DetectTechnologies)
}

func TestSetThreadCount(t *testing.T) {
	withCPUs(t, 8) // bounds [4, 16]

	tests := []struct {
		name     string
		input    int
		expected int
	}{
		{"inside_range", 6, 6},
		{"lower_bound", 4, 4},
		{"upper_bound", 16, 16},
		{"below_range_uses_cpu", 2, 8},
		{"above_range_uses_cpu", 64, 8},
		{"zero_uses_cpu", 0, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			require.NoError(t, cfg.SetThreadCount(tt.input))
			assert.Equal(t, tt.expected, cfg.ThreadCount)
		})
	}
}

func TestThreadBoundsCapAt32(t *testing.T) {
	withCPUs(t, 64)
	lower, upper := ThreadBounds()
	assert.Equal(t, 32, lower)
	assert.Equal(t, 32, upper)

	withCPUs(t, 1)
	lower, upper = ThreadBounds()
	assert.Equal(t, 1, lower)
	assert.Equal(t, 2, upper)
}

func TestSettersClamp(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.SetMaxDepth(0))
	assert.Equal(t, 1, cfg.MaxDepth)

	require.NoError(t, cfg.SetMaxPages(0))
	assert.Equal(t, 1, cfg.MaxPages)

	require.NoError(t, cfg.SetConnectionTimeout(10*time.Millisecond))
	assert.Equal(t, time.Second, cfg.ConnectionTimeout)

	require.NoError(t, cfg.SetMaxQueueSize(10))
	assert.Equal(t, 50, cfg.MaxQueueSize)

	require.NoError(t, cfg.SetMaxLinksPerPage(0))
	assert.Equal(t, 1, cfg.MaxLinksPerPage)

	require.NoError(t, cfg.SetRetryBaseDelay(time.Millisecond))
	assert.Equal(t, 100*time.Millisecond, cfg.RetryBaseDelay)

	require.NoError(t, cfg.SetMaxRedirects(0))
	assert.Equal(t, 1, cfg.MaxRedirects)
	require.NoError(t, cfg.SetMaxRedirects(50))
	assert.Equal(t, 10, cfg.MaxRedirects)

	require.NoError(t, cfg.SetRobotsTimeout(0))
	assert.Equal(t, time.Second, cfg.RobotsTimeout)

	require.NoError(t, cfg.SetDelay(0))
	assert.Equal(t, time.Duration(0), cfg.Delay)
}

func TestSettersRejectNegative(t *testing.T) {
	cfg := DefaultConfig()

	assert.ErrorIs(t, cfg.SetThreadCount(-1), ErrInvalidConfig)
	assert.ErrorIs(t, cfg.SetMaxDepth(-1), ErrInvalidConfig)
	assert.ErrorIs(t, cfg.SetMaxPages(-5), ErrInvalidConfig)
	assert.ErrorIs(t, cfg.SetDelay(-time.Second), ErrInvalidConfig)
	assert.ErrorIs(t, cfg.SetConnectionTimeout(-time.Second), ErrInvalidConfig)
	assert.ErrorIs(t, cfg.SetMaxQueueSize(-1), ErrInvalidConfig)
	assert.ErrorIs(t, cfg.SetMaxLinksPerPage(-1), ErrInvalidConfig)
	assert.ErrorIs(t, cfg.SetMaxRetries(-1), ErrInvalidConfig)
	assert.ErrorIs(t, cfg.SetRetryBaseDelay(-time.Second), ErrInvalidConfig)
	assert.ErrorIs(t, cfg.SetMaxRedirects(-1), ErrInvalidConfig)
	assert.ErrorIs(t, cfg.SetRobotsTimeout(-time.Second), ErrInvalidConfig)
	assert.ErrorIs(t, cfg.SetMaxBodySize(-1), ErrInvalidConfig)
	assert.ErrorIs(t, cfg.SetUserAgent("   "), ErrInvalidConfig)

	// Rejected values leave the previous setting untouched
	assert.Equal(t, DefaultConfig().MaxPages, cfg.MaxPages)
}

func TestNormalise(t *testing.T) {
	withCPUs(t, 4)

	cfg := &Config{
		ThreadCount:       100,
		MaxDepth:          0,
		MaxPages:          0,
		ConnectionTimeout: 0,
		UserAgent:         "TestBot/1.0",
		MaxQueueSize:      1,
		MaxRedirects:      99,
	}
	require.NoError(t, cfg.Normalise())

	assert.Equal(t, 4, cfg.ThreadCount)
	assert.Equal(t, 1, cfg.MaxDepth)
	assert.Equal(t, 1, cfg.MaxPages)
	assert.Equal(t, time.Second, cfg.ConnectionTimeout)
	assert.Equal(t, 50, cfg.MaxQueueSize)
	assert.Equal(t, 10, cfg.MaxRedirects)

	bad := DefaultConfig()
	bad.MaxRetries = -1
	bad.UserAgent = ""
	err := bad.Normalise()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigFromEnv(t *testing.T) {
	withCPUs(t, 8)

	t.Setenv("CRAWLER_THREADS", "6")
	t.Setenv("CRAWLER_MAX_PAGES", "25")
	t.Setenv("CRAWLER_DELAY_MS", "0")
	t.Setenv("CRAWLER_MAX_QUEUE_SIZE", "10")
	t.Setenv("CRAWLER_RESPECT_ROBOTS", "false")
	t.Setenv("CRAWLER_USER_AGENT", "EnvBot/2.0")
	t.Setenv("CRAWLER_MAX_DEPTH", "not-a-number")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.ThreadCount)
	assert.Equal(t, 25, cfg.MaxPages)
	assert.Equal(t, time.Duration(0), cfg.Delay)
	assert.Equal(t, 50, cfg.MaxQueueSize)
	assert.False(t, cfg.RespectRobots)
	assert.Equal(t, "EnvBot/2.0", cfg.UserAgent)
	assert.Equal(t, 3, cfg.MaxDepth, "invalid values fall back to the default")
}

func TestConfigFromEnvRejectsNegative(t *testing.T) {
	t.Setenv("CRAWLER_MAX_RETRIES", "-2")

	_, err := ConfigFromEnv()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
