// ABOUTME: Matrix bridge core for coven-responder
// ABOUTME: Logs in, syncs, filters events and hands them to the responder per room

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-responder/internal/config"
	"github.com/2389/coven-responder/internal/dedupe"
	"github.com/2389/coven-responder/internal/responder"
)

// backlogGrace admits events sent shortly before startup, which the first
// sync delivers together with older history.
const backlogGrace = 30 * time.Second

// deviceName is shown in the account's session list.
const deviceName = "coven-responder"

// messageHandler is the part of *responder.Responder the bridge drives.
type messageHandler interface {
	HandleMessage(ctx context.Context, ev responder.Event) (responder.Result, error)
}

// Bridge connects Matrix rooms to the responder.
type Bridge struct {
	config  *config.Config
	matrix  *mautrix.Client
	handler messageHandler
	logger  *slog.Logger

	userID  id.UserID
	ownName string

	seen    *dedupe.Cache // inbound event IDs already handled
	sent    *dedupe.Cache // event IDs of our own replies
	names   sync.Map      // id.UserID -> display name
	workers *roomWorkers

	allowed   map[string]bool
	startedAt time.Time
}

// NewBridge creates a new Matrix bridge. Call Login before Run.
func NewBridge(cfg *config.Config, logger *slog.Logger) (*Bridge, error) {
	client, err := mautrix.NewClient(cfg.Matrix.Homeserver, "", "")
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	logger = logger.With("component", "matrix")
	b := &Bridge{
		config:  cfg,
		matrix:  client,
		logger:  logger,
		seen:    dedupe.New(dedupe.Options{TTL: time.Hour}),
		sent:    dedupe.New(dedupe.Options{TTL: 24 * time.Hour}),
		workers: newRoomWorkers(logger),
		allowed: make(map[string]bool, len(cfg.Matrix.AllowedRooms)),
	}
	for _, room := range cfg.Matrix.AllowedRooms {
		b.allowed[room] = true
	}
	return b, nil
}

// SetHandler sets the responder events are delivered to.
func (b *Bridge) SetHandler(h messageHandler) {
	b.handler = h
}

// Login authenticates with username and password.
func (b *Bridge) Login(ctx context.Context) error {
	resp, err := b.matrix.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: b.config.Matrix.Username,
		},
		Password:                 b.config.Matrix.Password,
		InitialDeviceDisplayName: deviceName,
		StoreCredentials:         true,
	})
	if err != nil {
		return fmt.Errorf("password login: %w", err)
	}
	b.userID = resp.UserID

	if name, err := b.matrix.GetOwnDisplayName(ctx); err == nil {
		b.ownName = name.DisplayName
	}

	b.logger.Info("logged in",
		"user_id", b.userID.String(),
		"device_id", resp.DeviceID.String(),
		"display_name", b.ownName)
	return nil
}

// UserID returns the logged-in user ID.
func (b *Bridge) UserID() string {
	return b.userID.String()
}

// MentionTokens returns the strings that address the responder in text.
func (b *Bridge) MentionTokens() []string {
	tokens := []string{b.userID.String(), b.userID.Localpart()}
	if b.ownName != "" {
		tokens = append(tokens, b.ownName)
	}
	return tokens
}

// Run syncs and dispatches messages until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	if b.handler == nil {
		return errors.New("bridge has no message handler")
	}

	b.logger.Info("starting matrix bridge",
		"homeserver", b.config.Matrix.Homeserver,
		"user_id", b.userID.String(),
		"allowed_rooms", len(b.allowed))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	b.startedAt = time.Now()

	syncer, ok := b.matrix.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.matrix.Syncer)
	}
	syncer.OnEventType(event.EventMessage, func(_ context.Context, evt *event.Event) {
		b.handleMessageEvent(ctx, evt)
	})

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.matrix.SyncWithContext(ctx)
	}()

	b.logger.Info("matrix bridge running")

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
		cancel()
		b.workers.Wait()
		return nil
	case err := <-syncErr:
		cancel()
		b.workers.Wait()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// handleMessageEvent filters a synced message and queues it for its room.
func (b *Bridge) handleMessageEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == b.userID {
		b.sent.Add(evt.ID.String())
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}

	roomID := evt.RoomID.String()
	if !b.isRoomAllowed(roomID) {
		b.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return
	}

	if time.UnixMilli(evt.Timestamp).Before(b.startedAt.Add(-backlogGrace)) {
		return
	}

	if b.seen.Seen(evt.ID.String()) {
		b.logger.Debug("dropping redelivered event", "room", roomID, "event", evt.ID.String())
		return
	}

	b.logger.Debug("received message",
		"room", roomID,
		"sender", evt.Sender.String(),
		"content", truncate(content.Body, 50))

	b.workers.Submit(ctx, roomID, func(ctx context.Context) {
		b.process(ctx, evt, content)
	})
}

func (b *Bridge) process(ctx context.Context, evt *event.Event, content *event.MessageEventContent) {
	ev := b.toEvent(ctx, evt, content)
	res, err := b.handler.HandleMessage(ctx, ev)

	var malformed *responder.MalformedEventError
	switch {
	case errors.As(err, &malformed):
		b.logger.Warn("malformed event", "room", ev.ChannelID, "event", ev.MessageID, "error", err)
	case err != nil:
		b.logger.Error("handling message failed",
			"room", ev.ChannelID,
			"event", ev.MessageID,
			"conversation_id", res.ConversationID,
			"error", err)
	}
}

// isRoomAllowed checks if the room is in the allowed list.
func (b *Bridge) isRoomAllowed(roomID string) bool {
	if len(b.allowed) == 0 {
		return true
	}
	return b.allowed[roomID]
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
