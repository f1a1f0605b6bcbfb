// Package chat abstracts the outbound chat platform behind a single
// send-message primitive.
package chat

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// Sender delivers one message to a channel, optionally into a thread.
type Sender interface {
	SendMessage(ctx context.Context, channelID, threadID, text string) error
}

// SlackSender delivers messages through the Slack Web API.
type SlackSender struct {
	client *slack.Client
}

// NewSlackSender creates a sender over an authenticated Slack client.
func NewSlackSender(client *slack.Client) *SlackSender {
	return &SlackSender{client: client}
}

// SendMessage posts text to channelID; a non-empty threadID posts into
// that thread.
func (s *SlackSender) SendMessage(ctx context.Context, channelID, threadID, text string) error {
	opts := []slack.MsgOption{
		slack.MsgOptionText(text, false),
	}
	if threadID != "" {
		opts = append(opts, slack.MsgOptionTS(threadID))
	}

	_, _, err := s.client.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return fmt.Errorf("failed to post message to %s: %w", channelID, err)
	}
	return nil
}
