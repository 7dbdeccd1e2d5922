// ABOUTME: Registry owns the channel -> conversation map with per-channel locking
// ABOUTME: Enforces one live conversation per channel and expires idle ones lazily on access

package conversation

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout is how long a conversation survives without inbound messages.
const DefaultTimeout = 120 * time.Second

// Options configures a Registry.
type Options struct {
	Timeout time.Duration
	Now     func() time.Time // defaults to time.Now
	Logger  *slog.Logger
}

// entry is the per-channel exclusive region. dead is set once the entry has
// been unlinked from the map; holders of a dead entry must look it up again.
type entry struct {
	mu   sync.Mutex
	conv *Conversation
	dead bool
}

// Stats summarises registry residency.
type Stats struct {
	Channels int // entries currently held in the map
	Active   int // conversations that are alive right now
}

// Registry tracks the active conversation of every channel.
type Registry struct {
	mu       sync.Mutex
	channels map[string]*entry
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		channels: make(map[string]*entry),
		timeout:  opts.Timeout,
		now:      opts.Now,
		logger:   opts.Logger.With("component", "conversation"),
	}
}

// Timeout returns the inactivity timeout.
func (r *Registry) Timeout() time.Duration {
	return r.timeout
}

// lock returns the channel's entry with its lock held. When create is false
// and the channel is unknown, nil is returned and nothing is locked.
func (r *Registry) lock(channelID string, create bool) *entry {
	for {
		r.mu.Lock()
		e, ok := r.channels[channelID]
		if !ok {
			if !create {
				r.mu.Unlock()
				return nil
			}
			e = &entry{}
			r.channels[channelID] = e
		}
		r.mu.Unlock()

		e.mu.Lock()
		if !e.dead {
			return e
		}
		// Swept between lookup and lock; retry against the current map.
		e.mu.Unlock()
	}
}

// expireLocked drops the entry's conversation if it has timed out.
// Must be called with e.mu held. Returns true if a conversation was dropped.
func (r *Registry) expireLocked(channelID string, e *entry) bool {
	if e.conv == nil {
		return false
	}
	idle := r.now().Sub(e.conv.LastActivity)
	if idle <= r.timeout {
		return false
	}
	r.logger.Debug("conversation expired",
		"channel", channelID,
		"conversation_id", e.conv.ID,
		"idle", idle)
	e.conv = nil
	return true
}

// Get returns a snapshot of the channel's live conversation. An expired
// conversation is removed and reported as absent.
func (r *Registry) Get(channelID string) (*Conversation, bool) {
	e := r.lock(channelID, false)
	if e == nil {
		return nil, false
	}
	defer e.mu.Unlock()

	r.expireLocked(channelID, e)
	if e.conv == nil {
		return nil, false
	}
	return e.conv.clone(), true
}

// Start creates a conversation for the channel, seeded with recent history
// followed by the triggering message. The trigger's author becomes the only
// participant. Returns a *ConflictError if the channel already has a live
// conversation.
func (r *Registry) Start(channelID string, trigger MessageRecord, seed []MessageRecord) (*Conversation, error) {
	e := r.lock(channelID, true)
	defer e.mu.Unlock()

	r.expireLocked(channelID, e)
	if e.conv != nil {
		return nil, &ConflictError{ChannelID: channelID, ConversationID: e.conv.ID}
	}

	now := r.now()
	conv := &Conversation{
		ID:           uuid.New().String(),
		ChannelID:    channelID,
		StartedAt:    now,
		LastActivity: now,
		Messages:     make([]MessageRecord, 0, len(seed)+1),
		Participants: make(map[string]struct{}, 1),
	}
	for _, m := range seed {
		if trigger.ID != "" && m.ID == trigger.ID {
			continue
		}
		conv.Messages = append(conv.Messages, m)
	}
	conv.Messages = append(conv.Messages, trigger)
	if !trigger.IsResponder && trigger.AuthorID != "" {
		conv.Participants[trigger.AuthorID] = struct{}{}
	}
	e.conv = conv

	r.logger.Debug("conversation started",
		"channel", channelID,
		"conversation_id", conv.ID,
		"seeded", len(conv.Messages)-1)
	return conv.clone(), nil
}

// RecordMessage appends an inbound message to the channel's live
// conversation and re-arms its timeout. Returns a *StaleRecordError if the
// channel has no live conversation; nothing is mutated in that case.
func (r *Registry) RecordMessage(channelID string, record MessageRecord) (*Conversation, error) {
	e := r.lock(channelID, false)
	if e == nil {
		return nil, &StaleRecordError{ChannelID: channelID, Op: "record_message"}
	}
	defer e.mu.Unlock()

	r.expireLocked(channelID, e)
	if e.conv == nil {
		return nil, &StaleRecordError{ChannelID: channelID, Op: "record_message"}
	}

	conv := e.conv
	conv.Messages = append(conv.Messages, record)
	if !record.IsResponder && record.AuthorID != "" {
		conv.Participants[record.AuthorID] = struct{}{}
	}
	// Out-of-order delivery must not move LastActivity backwards.
	if record.Timestamp.After(conv.LastActivity) {
		conv.LastActivity = record.Timestamp
	}
	return conv.clone(), nil
}

// RecordResponse appends a responder turn to the conversation identified by
// conversationID. The timeout is not re-armed. A *StaleRecordError is
// returned when the channel's live conversation is gone or has been replaced,
// so late results are never applied to a newer conversation.
func (r *Registry) RecordResponse(channelID, conversationID string, turn Turn) error {
	e := r.lock(channelID, false)
	if e == nil {
		return &StaleRecordError{ChannelID: channelID, ConversationID: conversationID, Op: "record_response"}
	}
	defer e.mu.Unlock()

	r.expireLocked(channelID, e)
	if e.conv == nil || (conversationID != "" && e.conv.ID != conversationID) {
		return &StaleRecordError{ChannelID: channelID, ConversationID: conversationID, Op: "record_response"}
	}

	if turn.AnsweredAt.IsZero() {
		turn.AnsweredAt = r.now()
	}
	e.conv.Turns = append(e.conv.Turns, turn)
	return nil
}

// End removes the channel's conversation regardless of its state.
// Returns true if a conversation was removed.
func (r *Registry) End(channelID string) bool {
	e := r.lock(channelID, false)
	if e == nil {
		return false
	}
	defer e.mu.Unlock()

	had := e.conv != nil
	if had {
		r.logger.Debug("conversation ended", "channel", channelID, "conversation_id", e.conv.ID)
	}
	e.conv = nil
	return had
}

// snapshotEntries copies the map so callers can walk it without r.mu held.
func (r *Registry) snapshotEntries() map[string]*entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]*entry, len(r.channels))
	for id, e := range r.channels {
		out[id] = e
	}
	return out
}

// Sweep expires every timed-out conversation and unlinks channels that no
// longer hold one. Returns the number of conversations expired.
func (r *Registry) Sweep() int {
	removed := 0
	for channelID, e := range r.snapshotEntries() {
		e.mu.Lock()
		if r.expireLocked(channelID, e) {
			removed++
		}
		if e.conv == nil && !e.dead {
			r.mu.Lock()
			if r.channels[channelID] == e {
				delete(r.channels, channelID)
			}
			r.mu.Unlock()
			e.dead = true
		}
		e.mu.Unlock()
	}
	return removed
}

// Stats reports how many channels are tracked and how many are alive.
func (r *Registry) Stats() Stats {
	entries := r.snapshotEntries()
	stats := Stats{Channels: len(entries)}
	now := r.now()
	for _, e := range entries {
		e.mu.Lock()
		if e.conv != nil && now.Sub(e.conv.LastActivity) <= r.timeout {
			stats.Active++
		}
		e.mu.Unlock()
	}
	return stats
}
