package storage

import (
	"context"
	"fmt"
	"time"
)

// --- Decision log ---

func (s *Store) SaveDecision(ctx context.Context, d DecisionRecord) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	escalated := 0
	if d.Escalated {
		escalated = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decision_log (id, session_id, channel, utterance, kind, pattern, confidence, escalated, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.SessionID, d.Channel, d.Utterance, d.Kind, d.Pattern, d.Confidence, escalated, d.Reason,
		d.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// ListDecisions returns the newest decisions first. An empty sessionID lists
// decisions across all sessions.
func (s *Store) ListDecisions(ctx context.Context, sessionID string, limit int) ([]DecisionRecord, error) {
	query := `SELECT id, session_id, channel, utterance, kind, pattern, confidence, escalated, reason, created_at FROM decision_log`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []DecisionRecord
	for rows.Next() {
		var d DecisionRecord
		var escalated int
		var createdAt string
		if err := rows.Scan(&d.ID, &d.SessionID, &d.Channel, &d.Utterance, &d.Kind, &d.Pattern,
			&d.Confidence, &escalated, &d.Reason, &createdAt); err != nil {
			return nil, err
		}
		d.Escalated = escalated != 0
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		d.CreatedAt = t
		results = append(results, d)
	}
	return results, rows.Err()
}
