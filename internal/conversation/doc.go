// Package conversation tracks short-lived, per-channel conversations between
// chat participants and the responder.
//
// # Overview
//
// A Conversation begins when the responder is explicitly addressed in a
// channel that has no live conversation, and lives for as long as humans keep
// talking in that channel. Every inbound message re-arms the timeout; the
// responder's own turns do not.
//
//	reg := conversation.NewRegistry(conversation.Options{Timeout: 2 * time.Minute})
//	conv, err := reg.Start(channelID, trigger, seed)
//
// # Registry
//
// The Registry owns the channel -> Conversation map:
//
//   - Get(channel): snapshot of the live conversation, expiring it lazily
//   - Start(channel, trigger, seed): create a conversation, ErrConflict if live
//   - RecordMessage(channel, record): append an inbound message
//   - RecordResponse(channel, conversationID, turn): append a responder turn
//   - End(channel): drop the conversation
//   - Sweep(): expire every dead conversation
//
// Operations on one channel are serialised by that channel's lock. The map
// lock is only held long enough to find the channel's entry, so channels
// never contend with each other.
//
// # Expiry
//
// A conversation is alive while now - LastActivity <= Timeout. Expiry is
// observed lazily by any access; the Sweeper runs Sweep on an interval so
// channels that go silent do not stay resident forever.
//
// # Snapshots
//
// Callers never receive the registry's live state. Get, Start and
// RecordMessage return deep copies that are safe to read without locks.
package conversation
