// Package discord forwards notifications to a Discord channel over the REST
// API. No gateway connection is opened.
package discord

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/notify"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Sink posts each notification as an embed.
type Sink struct {
	sess        session
	channelID   string
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// Opts holds parameters for creating a Discord Sink.
type Opts struct {
	BotToken  string
	ChannelID string
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// New creates a Discord Sink.
func New(opts Opts) (*Sink, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("discord: channel is required")
	}
	sess := opts.Session
	if sess == nil {
		dg, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		sess = dg
	}
	return &Sink{
		sess:        sess,
		channelID:   opts.ChannelID,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}, nil
}

func (s *Sink) Name() string { return "discord" }

// Send posts n to the configured channel.
func (s *Sink) Send(ctx context.Context, n *models.Notification) error {
	data := &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{notificationToEmbed(n)},
	}
	err := s.retryOnRateLimit(ctx, func() error {
		_, sendErr := s.sess.ChannelMessageSendComplex(s.channelID, data)
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// notificationToEmbed converts a notification to a Discord Embed.
func notificationToEmbed(n *models.Notification) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       n.Title,
		Description: n.Message,
		Color:       parseHexColor(notify.SeverityColor(n.Severity)),
	}
	if !n.CreatedAt.IsZero() {
		embed.Timestamp = n.CreatedAt.Format(time.RFC3339)
	}
	if n.OrgID != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Organization", Value: n.OrgID, Inline: true})
	}
	if n.ServiceID != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Service", Value: n.ServiceID, Inline: true})
	}
	return embed
}

// parseHexColor converts a hex color string (e.g. "#36a64f") to an int.
func parseHexColor(hex string) int {
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	var color int
	for _, c := range hex {
		color <<= 4
		switch {
		case c >= '0' && c <= '9':
			color |= int(c - '0')
		case c >= 'a' && c <= 'f':
			color |= int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			color |= int(c-'A') + 10
		}
	}
	return color
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (s *Sink) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != 429 {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * s.baseBackoff
		if wait > s.maxBackoff {
			wait = s.maxBackoff
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}
