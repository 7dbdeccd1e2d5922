// ABOUTME: Recent room history for seeding new conversations
// ABOUTME: Implements responder.HistorySource over the Matrix /messages API

package main

import (
	"context"
	"fmt"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-responder/internal/conversation"
)

// Recent returns up to limit text messages sent at or after since, oldest
// first. Messages that cannot be decrypted are skipped.
func (b *Bridge) Recent(ctx context.Context, channelID string, since time.Time, limit int) ([]conversation.MessageRecord, error) {
	roomID := id.RoomID(channelID)
	resp, err := b.matrix.Messages(ctx, roomID, "", "", mautrix.DirectionBackward, nil, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching room messages: %w", err)
	}

	// Chunk is newest first.
	var records []conversation.MessageRecord
	for _, evt := range resp.Chunk {
		evt.RoomID = roomID
		if time.UnixMilli(evt.Timestamp).Before(since) {
			break
		}

		content := b.historyContent(ctx, evt)
		if content == nil || content.MsgType != event.MsgText {
			continue
		}
		records = append(records, conversation.MessageRecord{
			ID:          evt.ID.String(),
			AuthorID:    evt.Sender.String(),
			AuthorName:  b.displayName(ctx, evt.Sender),
			Content:     stripReplyFallback(content.Body),
			Timestamp:   time.UnixMilli(evt.Timestamp),
			IsResponder: evt.Sender == b.userID,
		})
	}

	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// historyContent parses (and if needed decrypts) a /messages event.
func (b *Bridge) historyContent(ctx context.Context, evt *event.Event) *event.MessageEventContent {
	if evt.Type == event.EventEncrypted {
		if b.matrix.Crypto == nil {
			return nil
		}
		if err := evt.Content.ParseRaw(evt.Type); err != nil {
			return nil
		}
		decrypted, err := b.matrix.Crypto.Decrypt(ctx, evt)
		if err != nil {
			b.logger.Debug("skipping undecryptable history event", "event", evt.ID.String(), "error", err)
			return nil
		}
		evt = decrypted
	}

	if evt.Type != event.EventMessage {
		return nil
	}
	if evt.Content.Parsed == nil {
		if err := evt.Content.ParseRaw(evt.Type); err != nil {
			return nil
		}
	}
	content, _ := evt.Content.Parsed.(*event.MessageEventContent)
	return content
}
