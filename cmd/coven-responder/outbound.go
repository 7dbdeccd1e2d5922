// ABOUTME: Sends responder output to Matrix as chunked markdown messages
// ABOUTME: Implements responder.Outbound and responder.Typer for the bridge

package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-responder/internal/chunk"
)

const (
	// typingTimeout is how long the homeserver shows the indicator unless cleared.
	typingTimeout = 30 * time.Second
	// networkTimeout bounds typing calls.
	networkTimeout = 10 * time.Second
	// sendTimeout bounds each message send; replies can be large.
	sendTimeout = 30 * time.Second
)

// Send delivers text to the room, split into chunks of at most
// responder.max_message_length characters.
func (b *Bridge) Send(ctx context.Context, channelID, text string) error {
	roomID := id.RoomID(channelID)
	for i, part := range chunk.Split(text, b.config.Responder.MaxMessageLength) {
		content := renderMessage(part)

		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		resp, err := b.matrix.SendMessageEvent(sendCtx, roomID, event.EventMessage, content)
		cancel()
		if err != nil {
			return fmt.Errorf("sending chunk %d: %w", i+1, err)
		}
		b.sent.Add(resp.EventID.String())
	}
	return nil
}

// SetTyping toggles the typing indicator when enabled in config.
func (b *Bridge) SetTyping(ctx context.Context, channelID string, typing bool) error {
	if !b.config.Responder.TypingIndicator {
		return nil
	}

	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	_, err := b.matrix.UserTyping(ctx, id.RoomID(channelID), typing, timeout)
	return err
}

// renderMessage builds a text message with an HTML body rendered from
// markdown. Plain text without markup gets no formatted body.
func renderMessage(text string) *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	}

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(text), &buf); err != nil {
		return content
	}
	html := strings.TrimSpace(buf.String())
	if html == "<p>"+text+"</p>" {
		return content
	}

	content.Format = event.FormatHTML
	content.FormattedBody = html
	return content
}
