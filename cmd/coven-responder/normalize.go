// ABOUTME: Turns Matrix message events into transport-neutral responder events
// ABOUTME: Resolves mentions, reply targets and sender display names

package main

import (
	"context"
	"regexp"
	"strings"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-responder/internal/conversation"
	"github.com/2389/coven-responder/internal/responder"
)

// lookupTimeout bounds profile and event lookups made while normalising.
const lookupTimeout = 5 * time.Second

// toEvent builds a responder.Event from a Matrix text message.
func (b *Bridge) toEvent(ctx context.Context, evt *event.Event, content *event.MessageEventContent) responder.Event {
	ev := responder.Event{
		ChannelID:         evt.RoomID.String(),
		MessageID:         evt.ID.String(),
		AuthorID:          evt.Sender.String(),
		AuthorName:        b.displayName(ctx, evt.Sender),
		Content:           stripReplyFallback(content.Body),
		Timestamp:         time.UnixMilli(evt.Timestamp),
		MentionsResponder: mentionsUser(content, b.userID, b.ownName),
	}

	if target := replyTarget(content); target != "" {
		ev.ReplyTo = &conversation.ReplyRef{
			MessageID: target.String(),
			AuthorID:  b.replyAuthor(ctx, evt.RoomID, target),
		}
	}
	return ev
}

// replyTarget returns the event content replies to, if any.
func replyTarget(content *event.MessageEventContent) id.EventID {
	if content.RelatesTo == nil || content.RelatesTo.InReplyTo == nil {
		return ""
	}
	return content.RelatesTo.InReplyTo.EventID
}

// replyAuthor resolves who wrote the target of a reply. Our own recent
// replies are known without a round trip.
func (b *Bridge) replyAuthor(ctx context.Context, roomID id.RoomID, target id.EventID) string {
	if b.sent.Contains(target.String()) {
		return b.userID.String()
	}

	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	original, err := b.matrix.GetEvent(ctx, roomID, target)
	if err != nil {
		b.logger.Debug("could not resolve reply target", "room", roomID.String(), "event", target.String(), "error", err)
		return ""
	}
	return original.Sender.String()
}

// displayName returns a cached profile name, falling back to the localpart.
func (b *Bridge) displayName(ctx context.Context, userID id.UserID) string {
	if name, ok := b.names.Load(userID); ok {
		return name.(string)
	}

	name := userID.Localpart()
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	if resp, err := b.matrix.GetDisplayName(ctx, userID); err == nil && resp.DisplayName != "" {
		name = resp.DisplayName
	}
	b.names.Store(userID, name)
	return name
}

// mentionsUser reports whether content addresses userID, either through
// m.mentions, a matrix.to pill, the raw user ID or the display name.
func mentionsUser(content *event.MessageEventContent, userID id.UserID, displayName string) bool {
	if content.Mentions != nil {
		for _, uid := range content.Mentions.UserIDs {
			if uid == userID {
				return true
			}
		}
	}

	if strings.Contains(content.FormattedBody, "https://matrix.to/#/"+userID.String()) {
		return true
	}
	if strings.Contains(content.Body, userID.String()) {
		return true
	}
	if displayName == "" {
		return false
	}
	re := regexp.MustCompile(`(?i)(^|[^\pL\pN])@?` + regexp.QuoteMeta(displayName) + `($|[^\pL\pN])`)
	return re.MatchString(stripReplyFallback(content.Body))
}

// stripReplyFallback removes the quoted "> " block some clients prepend to
// replies.
func stripReplyFallback(body string) string {
	if !strings.HasPrefix(body, ">") {
		return body
	}
	lines := strings.Split(body, "\n")
	i := 0
	for i < len(lines) && strings.HasPrefix(lines[i], ">") {
		i++
	}
	if i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	return strings.Join(lines[i:], "\n")
}
