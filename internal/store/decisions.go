// ABOUTME: Decision audit log entity and store methods
// ABOUTME: Records every start/respond decision with its reason for later review

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage says which question a decision answered.
type Stage string

const (
	StageStart   Stage = "start"   // no live conversation: should one begin?
	StageRespond Stage = "respond" // live conversation: should the responder answer?
)

// Decision is a single audit log entry.
type Decision struct {
	ID             string         // UUID v4
	ChannelID      string         // room the message arrived in
	MessageID      string         // transport message ID
	AuthorID       string         // who sent the message
	ConversationID *string        // nil when no conversation was involved
	Stage          Stage          // start or respond
	Respond        bool           // outcome
	Reason         string         // decider reason, e.g. "explicit_trigger"
	Timestamp      time.Time      // when the decision was made
	Detail         map[string]any // additional context (latency, errors)
}

// DecisionFilter specifies filtering options for listing decisions.
type DecisionFilter struct {
	ChannelID *string    // filter by channel
	Reason    *string    // filter by reason
	Since     *time.Time // entries at or after this time
	Limit     int        // max results (default 100, max 1000)
}

// AppendDecision appends a decision to the audit log.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendDecision(ctx context.Context, d *Decision) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}

	var detailJSON *string
	if d.Detail != nil {
		data, err := json.Marshal(d.Detail)
		if err != nil {
			return fmt.Errorf("marshaling decision detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (decision_id, channel_id, message_id, author_id, conversation_id, stage, respond, reason, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.ID,
		d.ChannelID,
		d.MessageID,
		d.AuthorID,
		d.ConversationID,
		string(d.Stage),
		d.Respond,
		d.Reason,
		d.Timestamp.UTC().Format(time.RFC3339),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting decision: %w", err)
	}

	s.logger.Debug("appended decision",
		"id", d.ID,
		"channel", d.ChannelID,
		"stage", d.Stage,
		"respond", d.Respond,
		"reason", d.Reason,
	)
	return nil
}

// GetDecision returns a single decision by ID.
func (s *SQLiteStore) GetDecision(ctx context.Context, id string) (*Decision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT decision_id, channel_id, message_id, author_id, conversation_id, stage, respond, reason, ts, detail_json
		FROM decisions
		WHERE decision_id = ?
	`, id)

	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// normalizeDecisionLimit applies default (100) and cap (1000) to the limit.
func normalizeDecisionLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// scanDecision scans a row into a Decision.
func scanDecision(scanner interface{ Scan(dest ...any) error }) (Decision, error) {
	var d Decision
	var stageStr, tsStr string
	var detailJSON *string

	if err := scanner.Scan(
		&d.ID,
		&d.ChannelID,
		&d.MessageID,
		&d.AuthorID,
		&d.ConversationID,
		&stageStr,
		&d.Respond,
		&d.Reason,
		&tsStr,
		&detailJSON,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return d, err
		}
		return d, fmt.Errorf("scanning decision: %w", err)
	}

	d.Stage = Stage(stageStr)
	var err error
	d.Timestamp, err = time.Parse(time.RFC3339, tsStr)
	if err != nil {
		return d, fmt.Errorf("parsing timestamp: %w", err)
	}

	if detailJSON != nil {
		if err := json.Unmarshal([]byte(*detailJSON), &d.Detail); err != nil {
			return d, fmt.Errorf("unmarshaling detail: %w", err)
		}
	}
	return d, nil
}

const listDecisionsQuery = `
	SELECT decision_id, channel_id, message_id, author_id, conversation_id, stage, respond, reason, ts, detail_json
	FROM decisions
	WHERE (? IS NULL OR channel_id = ?)
	  AND (? IS NULL OR reason = ?)
	  AND (? IS NULL OR ts >= ?)
	ORDER BY ts DESC, rowid DESC
	LIMIT ?
`

// ListDecisions returns decisions matching the filter, newest first.
func (s *SQLiteStore) ListDecisions(ctx context.Context, f DecisionFilter) ([]Decision, error) {
	limit := normalizeDecisionLimit(f.Limit)

	var sinceStr *string
	if f.Since != nil {
		str := f.Since.UTC().Format(time.RFC3339)
		sinceStr = &str
	}

	rows, err := s.db.QueryContext(ctx, listDecisionsQuery,
		f.ChannelID, f.ChannelID,
		f.Reason, f.Reason,
		sinceStr, sinceStr,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var decisions []Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating decisions: %w", err)
	}

	if decisions == nil {
		decisions = []Decision{}
	}
	return decisions, nil
}

// PruneDecisions deletes decisions older than before and returns how many
// rows were removed.
func (s *SQLiteStore) PruneDecisions(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM decisions WHERE ts < ?`, before.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("pruning decisions: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		s.logger.Info("pruned decisions", "count", n, "before", before)
	}
	return n, nil
}
