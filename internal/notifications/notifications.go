package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Summary describes a finished crawl run.
type Summary struct {
	RunID        string    `json:"run_id"`
	SeedURL      string    `json:"seed_url"`
	PagesCrawled int       `json:"pages_crawled"`
	TotalSeen    int       `json:"total_seen"`
	Results      int       `json:"results"`
	Errors       int       `json:"errors"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Reason       string    `json:"reason"`
}

// Duration is the wall-clock length of the run.
func (s Summary) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.Before(s.StartedAt) {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Notifier delivers run summaries somewhere.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, s Summary) error
}

// Service fans a summary out to every registered Notifier.
type Service struct {
	channels []Notifier
}

// NewService creates a notification service with the given channels.
func NewService(channels ...Notifier) *Service {
	return &Service{channels: channels}
}

// AddChannel adds a delivery channel to the service
func (s *Service) AddChannel(ch Notifier) {
	s.channels = append(s.channels, ch)
}

// Channels returns how many channels are registered.
func (s *Service) Channels() int {
	return len(s.channels)
}

// NotifyRunComplete delivers s to every channel. Delivery failures are
// logged and never returned: a broken channel must not affect the run.
func (s *Service) NotifyRunComplete(ctx context.Context, summary Summary) {
	for _, ch := range s.channels {
		if err := ch.Notify(ctx, summary); err != nil {
			log.Warn().
				Err(err).
				Str("channel", ch.Name()).
				Str("run_id", summary.RunID).
				Msg("Failed to deliver run notification")
		}
	}
}

// LogNotifier writes the summary to the application log.
type LogNotifier struct{}

func (LogNotifier) Name() string { return "log" }

func (LogNotifier) Notify(_ context.Context, s Summary) error {
	log.Info().
		Str("run_id", s.RunID).
		Str("seed_url", s.SeedURL).
		Int("pages_crawled", s.PagesCrawled).
		Int("total_seen", s.TotalSeen).
		Int("results", s.Results).
		Int("errors", s.Errors).
		Str("duration", formatDuration(s.Duration())).
		Str("reason", s.Reason).
		Msg("Crawl run finished")
	return nil
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "N/A"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
