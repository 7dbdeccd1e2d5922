// ABOUTME: Transport-neutral inbound message event and its validation
// ABOUTME: Events missing a channel or timestamp are rejected before touching state

package responder

import (
	"fmt"
	"time"

	"github.com/2389/coven-responder/internal/conversation"
)

// Event is one inbound chat message, already normalised by the transport.
type Event struct {
	ChannelID         string
	MessageID         string
	AuthorID          string
	AuthorName        string
	IsBot             bool
	Content           string
	Timestamp         time.Time
	ReplyTo           *conversation.ReplyRef
	MentionsResponder bool
}

// MalformedEventError reports an event that cannot be processed.
type MalformedEventError struct {
	MessageID string
	Field     string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed event %q: missing %s", e.MessageID, e.Field)
}

// Validate checks the fields the registry depends on.
func (e Event) Validate() error {
	if e.ChannelID == "" {
		return &MalformedEventError{MessageID: e.MessageID, Field: "channel id"}
	}
	if e.Timestamp.IsZero() {
		return &MalformedEventError{MessageID: e.MessageID, Field: "timestamp"}
	}
	return nil
}

// Record converts the event into a MessageRecord. responderID marks the
// responder's own messages.
func (e Event) Record(responderID string) conversation.MessageRecord {
	name := e.AuthorName
	if name == "" {
		name = e.AuthorID
	}
	return conversation.MessageRecord{
		ID:                e.MessageID,
		AuthorID:          e.AuthorID,
		AuthorName:        name,
		Content:           e.Content,
		Timestamp:         e.Timestamp,
		IsResponder:       responderID != "" && e.AuthorID == responderID,
		MentionsResponder: e.MentionsResponder,
		ReplyTo:           e.ReplyTo,
	}
}
