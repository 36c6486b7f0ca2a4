package discord

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/almanac/internal/models"
)

type mockSession struct {
	sent     []*discordgo.MessageSend
	errs     []error
	attempts int
}

func (m *mockSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.attempts++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	m.sent = append(m.sent, data)
	return &discordgo.Message{ChannelID: channelID}, nil
}

func rateLimited() error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Opts{ChannelID: "1"}); err == nil || err.Error() != "discord: bot token is required" {
		t.Errorf("missing token: %v", err)
	}
	if _, err := New(Opts{BotToken: "tok"}); err == nil || err.Error() != "discord: channel is required" {
		t.Errorf("missing channel: %v", err)
	}
}

func TestSend_Embed(t *testing.T) {
	sess := &mockSession{}
	s, err := New(Opts{ChannelID: "chan", Session: sess})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n := &models.Notification{Title: "Fetch failed: tokyo", Message: "timeout", Severity: models.SeverityError, OrgID: "tokyo"}
	if err := s.Send(context.Background(), n); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(sess.sent) != 1 {
		t.Fatalf("sent = %d", len(sess.sent))
	}
	embed := sess.sent[0].Embeds[0]
	if embed.Title != n.Title || embed.Color != 0xe53935 {
		t.Errorf("embed = %+v", embed)
	}
	if len(embed.Fields) != 1 || embed.Fields[0].Value != "tokyo" {
		t.Errorf("fields = %+v", embed.Fields)
	}
}

func TestSend_RetriesRateLimit(t *testing.T) {
	sess := &mockSession{errs: []error{rateLimited()}}
	s, _ := New(Opts{ChannelID: "chan", Session: sess})
	s.baseBackoff = time.Millisecond

	if err := s.Send(context.Background(), &models.Notification{Title: "x"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sess.attempts != 2 {
		t.Errorf("attempts = %d, want 2", sess.attempts)
	}
}

func TestSend_GivesUpAfterMaxRetries(t *testing.T) {
	sess := &mockSession{errs: []error{rateLimited(), rateLimited(), rateLimited(), rateLimited()}}
	s, _ := New(Opts{ChannelID: "chan", Session: sess})
	s.baseBackoff = time.Millisecond

	if err := s.Send(context.Background(), &models.Notification{Title: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if sess.attempts != maxRetries+1 {
		t.Errorf("attempts = %d, want %d", sess.attempts, maxRetries+1)
	}
}

func TestSend_OtherError(t *testing.T) {
	sess := &mockSession{errs: []error{errors.New("missing access")}}
	s, _ := New(Opts{ChannelID: "chan", Session: sess})

	err := s.Send(context.Background(), &models.Notification{Title: "x"})
	if err == nil || err.Error() != "discord: send message: missing access" {
		t.Errorf("err = %v", err)
	}
}

func TestParseHexColor(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"#36a64f", 0x36a64f},
		{"2196F3", 0x2196f3},
		{"", 0},
	}
	for _, tt := range tests {
		if got := parseHexColor(tt.in); got != tt.want {
			t.Errorf("parseHexColor(%q) = %x, want %x", tt.in, got, tt.want)
		}
	}
}
