package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// --- Sessions ---

const sessionColumns = `id, channel, identity, current_language, previous_language, turn_count, created_at, updated_at`

// turnTimeFormat is fixed-width so created_at sorts lexically.
const turnTimeFormat = "2006-01-02T15:04:05.000000Z07:00"

const turnColumns = `id, session_id, idx, role, text, detected_language, language_confidence, rag_pattern, latency_ms, source_audio_ref, metadata, created_at`

// CreateSession inserts a session header row. Creating an existing session is
// a no-op so concurrent first turns do not race.
func (s *Store) CreateSession(ctx context.Context, rec SessionRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		rec.ID, rec.Channel, rec.Identity, rec.CurrentLanguage, rec.PreviousLanguage,
		rec.CreatedAt.UTC().Format(time.RFC3339), rec.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	rec, err := scanSession(row)
	if err == sql.ErrNoRows {
		return SessionRecord{}, ErrNotFound
	}
	return rec, err
}

// ListSessions returns the most recently active sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// SetSessionIdentity attaches a caller identity (phone number, account ID)
// to a session so later sessions can merge its history.
func (s *Store) SetSessionIdentity(ctx context.Context, id, identity string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET identity = ? WHERE id = ?`, identity, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendTurns writes turns and the updated session header in one transaction.
// rec.TurnCount must equal the stored count plus len(turns); a stale writer
// gets an error instead of a gap in the history.
func (s *Store) AppendTurns(ctx context.Context, rec SessionRecord, turns []TurnRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning append transaction: %w", err)
	}
	defer tx.Rollback()

	var stored int
	err = tx.QueryRowContext(ctx, `SELECT turn_count FROM sessions WHERE id = ?`, rec.ID).Scan(&stored)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading turn count: %w", err)
	}
	if stored+len(turns) != rec.TurnCount {
		return fmt.Errorf("turn count mismatch for session %s: stored %d + %d new != %d", rec.ID, stored, len(turns), rec.TurnCount)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO turns (`+turnColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing turn insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range turns {
		meta := t.Metadata
		if meta == "" {
			meta = "{}"
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			t.ID, rec.ID, t.Index, t.Role, t.Text, t.DetectedLanguage, t.LanguageConfidence,
			t.RAGPattern, t.LatencyMs, t.SourceAudioRef, meta, t.CreatedAt.UTC().Format(turnTimeFormat),
		); err != nil {
			return fmt.Errorf("inserting turn %d: %w", t.Index, err)
		}
	}

	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET current_language = ?, previous_language = ?, turn_count = ?, identity = ?, updated_at = ?
		WHERE id = ?`,
		rec.CurrentLanguage, rec.PreviousLanguage, rec.TurnCount, rec.Identity, updated.UTC().Format(time.RFC3339), rec.ID,
	); err != nil {
		return fmt.Errorf("updating session: %w", err)
	}

	return tx.Commit()
}

// ListTurns returns the full history of a session in index order.
func (s *Store) ListTurns(ctx context.Context, sessionID string) ([]TurnRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+turnColumns+` FROM turns WHERE session_id = ? ORDER BY idx ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTurns(rows)
}

// ListTurnsByIdentity returns up to limit of the newest turns recorded under
// identity in sessions other than excludeSessionID, oldest first.
func (s *Store) ListTurnsByIdentity(ctx context.Context, identity, excludeSessionID string, limit int) ([]TurnRecord, error) {
	if identity == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT * FROM (
			SELECT t.id, t.session_id, t.idx, t.role, t.text, t.detected_language, t.language_confidence,
				t.rag_pattern, t.latency_ms, t.source_audio_ref, t.metadata, t.created_at
			FROM turns t JOIN sessions s ON s.id = t.session_id
			WHERE s.identity = ? AND s.id != ?
			ORDER BY t.created_at DESC, t.idx DESC
			LIMIT ?
		) ORDER BY created_at ASC, idx ASC`,
		identity, excludeSessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTurns(rows)
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeIdleSessions deletes sessions with no activity since cutoff and
// returns how many were removed.
func (s *Store) PurgeIdleSessions(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (SessionRecord, error) {
	var rec SessionRecord
	var createdAt, updatedAt string
	if err := row.Scan(&rec.ID, &rec.Channel, &rec.Identity, &rec.CurrentLanguage, &rec.PreviousLanguage,
		&rec.TurnCount, &createdAt, &updatedAt); err != nil {
		return SessionRecord{}, err
	}
	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return SessionRecord{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return SessionRecord{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return rec, nil
}

func scanTurns(rows *sql.Rows) ([]TurnRecord, error) {
	var results []TurnRecord
	for rows.Next() {
		var t TurnRecord
		var createdAt string
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Index, &t.Role, &t.Text, &t.DetectedLanguage,
			&t.LanguageConfidence, &t.RAGPattern, &t.LatencyMs, &t.SourceAudioRef, &t.Metadata, &createdAt); err != nil {
			return nil, err
		}
		ts, err := time.Parse(turnTimeFormat, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing turn created_at: %w", err)
		}
		t.CreatedAt = ts
		results = append(results, t)
	}
	return results, rows.Err()
}
