// ABOUTME: Tests for Matrix event normalisation and bridge filtering
// ABOUTME: Mentions, reply fallbacks, reply authors, own/backlog/duplicate/room filters

package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-responder/internal/config"
	"github.com/2389/coven-responder/internal/responder"
)

const (
	testBot  = id.UserID("@responder:example.org")
	testRoom = id.RoomID("!room:example.org")
)

func TestMentionsUser(t *testing.T) {
	tests := []struct {
		name    string
		content *event.MessageEventContent
		want    bool
	}{
		{
			name:    "m.mentions",
			content: &event.MessageEventContent{Body: "hey", Mentions: &event.Mentions{UserIDs: []id.UserID{testBot}}},
			want:    true,
		},
		{
			name:    "m.mentions for someone else",
			content: &event.MessageEventContent{Body: "hey", Mentions: &event.Mentions{UserIDs: []id.UserID{"@bob:example.org"}}},
			want:    false,
		},
		{
			name:    "pill",
			content: &event.MessageEventContent{Body: "Responder: hi", FormattedBody: `<a href="https://matrix.to/#/@responder:example.org">Responder</a>: hi`},
			want:    true,
		},
		{
			name:    "raw user id",
			content: &event.MessageEventContent{Body: "@responder:example.org what happened?"},
			want:    true,
		},
		{
			name:    "display name",
			content: &event.MessageEventContent{Body: "Responder, what happened here?"},
			want:    true,
		},
		{
			name:    "display name inside a word",
			content: &event.MessageEventContent{Body: "the responders were late"},
			want:    false,
		},
		{
			name:    "name only in reply fallback",
			content: &event.MessageEventContent{Body: "> <@responder:example.org> Responder said this\n\nthanks"},
			want:    true, // raw user ID is still in the body
		},
		{
			name:    "no mention",
			content: &event.MessageEventContent{Body: "lunch?"},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mentionsUser(tt.content, testBot, "Responder"))
		})
	}
}

func TestMentionsUser_NoDisplayName(t *testing.T) {
	assert.False(t, mentionsUser(&event.MessageEventContent{Body: "responder hi"}, testBot, ""))
}

func TestStripReplyFallback(t *testing.T) {
	assert.Equal(t, "thanks", stripReplyFallback("> <@bob:example.org> original\n> more\n\nthanks"))
	assert.Equal(t, "plain", stripReplyFallback("plain"))
	assert.Equal(t, "", stripReplyFallback("> only quote"))
}

func TestReplyTarget(t *testing.T) {
	assert.Equal(t, id.EventID(""), replyTarget(&event.MessageEventContent{}))
	content := &event.MessageEventContent{
		RelatesTo: &event.RelatesTo{InReplyTo: &event.InReplyTo{EventID: "$orig"}},
	}
	assert.Equal(t, id.EventID("$orig"), replyTarget(content))
}

type recordingHandler struct {
	mu     sync.Mutex
	events []responder.Event
	done   chan struct{}
}

func (h *recordingHandler) HandleMessage(_ context.Context, ev responder.Event) (responder.Result, error) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
	h.done <- struct{}{}
	return responder.Result{}, nil
}

func newTestBridge(t *testing.T, allowed ...string) (*Bridge, *recordingHandler) {
	t.Helper()
	cfg := config.Default()
	cfg.Matrix.Homeserver = "https://matrix.example.org"
	cfg.Matrix.AllowedRooms = allowed

	b, err := NewBridge(cfg, discardLogger())
	require.NoError(t, err)
	b.userID = testBot
	b.ownName = "Responder"
	b.startedAt = time.Now()
	// Pre-resolved names keep the test off the network.
	b.names.Store(id.UserID("@alice:example.org"), "Alice")

	h := &recordingHandler{done: make(chan struct{}, 10)}
	b.SetHandler(h)
	return b, h
}

func textEvent(eventID, body string, at time.Time) *event.Event {
	return &event.Event{
		ID:        id.EventID(eventID),
		RoomID:    testRoom,
		Sender:    "@alice:example.org",
		Type:      event.EventMessage,
		Timestamp: at.UnixMilli(),
		Content:   event.Content{Parsed: &event.MessageEventContent{MsgType: event.MsgText, Body: body}},
	}
}

func waitHandled(t *testing.T, h *recordingHandler) {
	t.Helper()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not handled")
	}
}

func assertNotHandled(t *testing.T, h *recordingHandler) {
	t.Helper()
	select {
	case <-h.done:
		t.Fatal("event should have been filtered")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBridge_DeliversNormalisedEvent(t *testing.T) {
	b, h := newTestBridge(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A reply to one of our own messages resolves without a lookup.
	b.sent.Add("$ours")
	evt := textEvent("$1", "Responder, what happened here?", time.Now())
	content := evt.Content.Parsed.(*event.MessageEventContent)
	content.RelatesTo = &event.RelatesTo{InReplyTo: &event.InReplyTo{EventID: "$ours"}}

	b.handleMessageEvent(ctx, evt)
	waitHandled(t, h)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.events, 1)
	ev := h.events[0]
	assert.Equal(t, testRoom.String(), ev.ChannelID)
	assert.Equal(t, "$1", ev.MessageID)
	assert.Equal(t, "Alice", ev.AuthorName)
	assert.True(t, ev.MentionsResponder)
	require.NotNil(t, ev.ReplyTo)
	assert.Equal(t, testBot.String(), ev.ReplyTo.AuthorID)
}

func TestBridge_Filters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	t.Run("own message is remembered, not handled", func(t *testing.T) {
		b, h := newTestBridge(t)
		evt := textEvent("$own", "hello", time.Now())
		evt.Sender = testBot
		b.handleMessageEvent(ctx, evt)
		assertNotHandled(t, h)
		assert.True(t, b.sent.Contains("$own"))
	})

	t.Run("notice", func(t *testing.T) {
		b, h := newTestBridge(t)
		evt := textEvent("$n", "beep", time.Now())
		evt.Content.Parsed.(*event.MessageEventContent).MsgType = event.MsgNotice
		b.handleMessageEvent(ctx, evt)
		assertNotHandled(t, h)
	})

	t.Run("room not allowed", func(t *testing.T) {
		b, h := newTestBridge(t, "!other:example.org")
		b.handleMessageEvent(ctx, textEvent("$r", "hi", time.Now()))
		assertNotHandled(t, h)
	})

	t.Run("backlog", func(t *testing.T) {
		b, h := newTestBridge(t)
		b.handleMessageEvent(ctx, textEvent("$old", "hi", time.Now().Add(-time.Hour)))
		assertNotHandled(t, h)
	})

	t.Run("redelivery", func(t *testing.T) {
		b, h := newTestBridge(t)
		evt := textEvent("$dup", "hi", time.Now())
		b.handleMessageEvent(ctx, evt)
		waitHandled(t, h)
		b.handleMessageEvent(ctx, evt)
		assertNotHandled(t, h)
	})
}

func TestBridge_MentionTokens(t *testing.T) {
	b, _ := newTestBridge(t)
	assert.Equal(t, []string{"@responder:example.org", "responder", "Responder"}, b.MentionTokens())
}
