// ABOUTME: Store interface and shared errors for coven-responder persistence
// ABOUTME: Only the decision audit log is persisted; conversation state stays in memory

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// DecisionStore is the audit log of response decisions.
type DecisionStore interface {
	AppendDecision(ctx context.Context, d *Decision) error
	GetDecision(ctx context.Context, id string) (*Decision, error)
	ListDecisions(ctx context.Context, f DecisionFilter) ([]Decision, error)
	PruneDecisions(ctx context.Context, before time.Time) (int64, error)
}

// Store is everything the responder persists.
type Store interface {
	DecisionStore
	Close() error
}
