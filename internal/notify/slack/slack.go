// Package slack forwards notifications to a Slack channel.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/notify"
)

// maxRetries is the max number of retries for rate-limited API calls.
const maxRetries = 3

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Sink posts each notification as an attachment.
type Sink struct {
	client    slackClient
	channelID string
}

// Opts holds parameters for creating a Slack Sink.
type Opts struct {
	BotToken  string // xoxb-... Slack bot token
	ChannelID string
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// New creates a Slack Sink.
func New(opts Opts) (*Sink, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("slack: channel is required")
	}
	client := opts.Client
	if client == nil {
		client = slackapi.New(opts.BotToken)
	}
	return &Sink{client: client, channelID: opts.ChannelID}, nil
}

func (s *Sink) Name() string { return "slack" }

// Send posts n to the configured channel.
func (s *Sink) Send(ctx context.Context, n *models.Notification) error {
	att := notificationToAttachment(n)
	err := retryOnRateLimit(ctx, func() error {
		_, _, postErr := s.client.PostMessage(s.channelID,
			slackapi.MsgOptionText(n.Title, false),
			slackapi.MsgOptionAttachments(att))
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// notificationToAttachment converts a notification to a Slack Attachment.
func notificationToAttachment(n *models.Notification) slackapi.Attachment {
	att := slackapi.Attachment{
		Title:    n.Title,
		Text:     n.Message,
		Color:    notify.SeverityColor(n.Severity),
		Fallback: n.Title,
	}
	if n.OrgID != "" {
		att.Fields = append(att.Fields, slackapi.AttachmentField{Title: "Organization", Value: n.OrgID, Short: true})
	}
	if n.ServiceID != "" {
		att.Fields = append(att.Fields, slackapi.AttachmentField{Title: "Service", Value: n.ServiceID, Short: true})
	}
	return att
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}
