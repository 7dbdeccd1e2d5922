// ABOUTME: Interfaces the Responder consumes: history, generation, output, audit
// ABOUTME: Implemented by the Matrix bridge, the gateway client and the store

package responder

import (
	"context"
	"time"

	"github.com/2389/coven-responder/internal/conversation"
	"github.com/2389/coven-responder/internal/decider"
	"github.com/2389/coven-responder/internal/store"
)

// HistorySource returns a channel's messages at or after since, oldest
// first, at most limit of them.
type HistorySource interface {
	Recent(ctx context.Context, channelID string, since time.Time, limit int) ([]conversation.MessageRecord, error)
}

// GenerateRequest is everything a Generator gets to produce a reply.
type GenerateRequest struct {
	Question     string
	Trigger      conversation.MessageRecord
	Conversation *conversation.Conversation // snapshot including Trigger
	Reason       decider.Reason
}

// Generator produces reply text.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Outbound delivers text to a channel.
type Outbound interface {
	Send(ctx context.Context, channelID, text string) error
}

// Typer is optionally implemented by an Outbound that can show a typing
// indicator while a reply is generated.
type Typer interface {
	SetTyping(ctx context.Context, channelID string, typing bool) error
}

// AuditSink stores decisions. *store.SQLiteStore satisfies it.
type AuditSink interface {
	AppendDecision(ctx context.Context, d *store.Decision) error
}
