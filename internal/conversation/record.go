// ABOUTME: Value types for conversation tracking: inbound messages and responder turns
// ABOUTME: MessageRecord and Turn are immutable once created; Conversation is snapshot-copied

package conversation

import (
	"fmt"
	"time"
)

// ReplyRef identifies the message an inbound message replies to.
type ReplyRef struct {
	MessageID string
	AuthorID  string // empty when the transport could not resolve the author
}

// MessageRecord captures the facts of one chat message.
type MessageRecord struct {
	ID                string
	AuthorID          string
	AuthorName        string
	Content           string
	Timestamp         time.Time
	IsResponder       bool      // authored by the responder itself
	MentionsResponder bool      // normalised by the transport
	ReplyTo           *ReplyRef // nil when not a reply
}

// RepliesTo reports whether the message replies to a message authored by authorID.
func (m MessageRecord) RepliesTo(authorID string) bool {
	return m.ReplyTo != nil && authorID != "" && m.ReplyTo.AuthorID == authorID
}

// String formats the record the way it is shown to language models.
func (m MessageRecord) String() string {
	return fmt.Sprintf("[%s] %s: %s", m.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"), m.AuthorName, m.Content)
}

// Turn is one question/answer exchange produced by the responder.
type Turn struct {
	MessageID  string // message that triggered the response
	Question   string
	Answer     string
	Reason     string
	AnsweredAt time.Time
}

// Conversation is the state of one channel's active conversation.
type Conversation struct {
	ID           string
	ChannelID    string
	StartedAt    time.Time
	LastActivity time.Time
	Messages     []MessageRecord
	Turns        []Turn
	Participants map[string]struct{}
}

// HasParticipant reports whether authorID has taken part in the conversation.
func (c *Conversation) HasParticipant(authorID string) bool {
	_, ok := c.Participants[authorID]
	return ok
}

// LastTurn returns the most recent responder turn, if any.
func (c *Conversation) LastTurn() (Turn, bool) {
	if len(c.Turns) == 0 {
		return Turn{}, false
	}
	return c.Turns[len(c.Turns)-1], true
}

// clone returns a deep copy safe to hand out to callers.
func (c *Conversation) clone() *Conversation {
	out := *c
	out.Messages = append([]MessageRecord(nil), c.Messages...)
	out.Turns = append([]Turn(nil), c.Turns...)
	out.Participants = make(map[string]struct{}, len(c.Participants))
	for id := range c.Participants {
		out.Participants[id] = struct{}{}
	}
	return &out
}
