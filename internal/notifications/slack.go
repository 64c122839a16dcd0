package notifications

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
)

// ErrNoWebhook is returned when a SlackNotifier has no webhook URL.
var ErrNoWebhook = errors.New("slack webhook URL not configured")

// SlackNotifier posts run summaries to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewSlackNotifier creates a SlackNotifier. A nil client uses http.DefaultClient.
func NewSlackNotifier(webhookURL string, client *http.Client) (*SlackNotifier, error) {
	if webhookURL == "" {
		return nil, ErrNoWebhook
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &SlackNotifier{webhookURL: webhookURL, client: client}, nil
}

// Name returns the channel name
func (n *SlackNotifier) Name() string {
	return "slack"
}

// Notify sends the summary as a block message.
func (n *SlackNotifier) Notify(ctx context.Context, s Summary) error {
	msg := &slack.WebhookMessage{
		Text:   fallbackText(s),
		Blocks: &slack.Blocks{BlockSet: buildMessageBlocks(s)},
	}

	if err := slack.PostWebhookCustomHTTPContext(ctx, n.webhookURL, n.client, msg); err != nil {
		return fmt.Errorf("failed to post Slack webhook: %w", err)
	}

	log.Info().
		Str("run_id", s.RunID).
		Msg("Slack run notification sent")
	return nil
}

func fallbackText(s Summary) string {
	return fmt.Sprintf("Crawl complete: %s (%d pages in %s)", s.SeedURL, s.PagesCrawled, formatDuration(s.Duration()))
}

func buildMessageBlocks(s Summary) []slack.Block {
	emoji := ":white_check_mark:"
	if s.Errors > 0 {
		emoji = ":warning:"
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(
				"mrkdwn",
				fmt.Sprintf("%s *Crawl complete: %s*", emoji, s.SeedURL),
				false,
				false,
			),
			nil,
			nil,
		),
		slack.NewSectionBlock(
			nil,
			[]*slack.TextBlockObject{
				slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Pages crawled*\n%d", s.PagesCrawled), false, false),
				slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*URLs seen*\n%d", s.TotalSeen), false, false),
				slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Errors*\n%d", s.Errors), false, false),
				slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Duration*\n%s", formatDuration(s.Duration())), false, false),
			},
			nil,
		),
	}

	if s.Reason != "" || s.RunID != "" {
		blocks = append(blocks, slack.NewContextBlock(
			"",
			slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Run `%s` stopped: %s", s.RunID, s.Reason), false, false),
		))
	}

	return blocks
}
