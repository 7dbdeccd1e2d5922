// ABOUTME: Error types returned by the conversation registry
// ABOUTME: ConflictError for start races, StaleRecordError for writes without a live conversation

package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict matches a ConflictError via errors.Is.
	ErrConflict = errors.New("conversation already active")

	// ErrStaleRecord matches a StaleRecordError via errors.Is.
	ErrStaleRecord = errors.New("no live conversation")
)

// ConflictError is returned by Start when the channel already has a live
// conversation. Callers join the existing conversation instead.
type ConflictError struct {
	ChannelID      string
	ConversationID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("channel %s: %v (%s)", e.ChannelID, ErrConflict, e.ConversationID)
}

// Is makes errors.Is(err, ErrConflict) work.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// StaleRecordError is returned by RecordMessage and RecordResponse when the
// target channel has no live conversation, or a different one than expected.
type StaleRecordError struct {
	ChannelID      string
	ConversationID string // expected conversation, empty for RecordMessage
	Op             string // "record_message", "record_response"
}

func (e *StaleRecordError) Error() string {
	if e.ConversationID != "" {
		return fmt.Sprintf("%s on channel %s: %v (wanted %s)", e.Op, e.ChannelID, ErrStaleRecord, e.ConversationID)
	}
	return fmt.Sprintf("%s on channel %s: %v", e.Op, e.ChannelID, ErrStaleRecord)
}

// Is makes errors.Is(err, ErrStaleRecord) work.
func (e *StaleRecordError) Is(target error) bool {
	return target == ErrStaleRecord
}
