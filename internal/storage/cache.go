package storage

import (
	"context"
	"database/sql"
	"time"
)

// --- Cache entries ---

// GetCacheEntry returns the stored value for key. Expired entries are
// reported as ErrNotFound and removed lazily.
func (s *Store) GetCacheEntry(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expiresAt string
	err := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM cache_entries WHERE key = ?`, key).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	exp, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil || !time.Now().Before(exp) {
		s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
		return nil, ErrNotFound
	}
	return value, nil
}

func (s *Store) PutCacheEntry(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, created_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, created_at = excluded.created_at, expires_at = excluded.expires_at`,
		key, value, now.Format(time.RFC3339), now.Add(ttl).Format(time.RFC3339),
	)
	return err
}

func (s *Store) DeleteCacheEntry(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	return err
}

// PurgeExpiredCache removes entries whose TTL elapsed before now.
func (s *Store) PurgeExpiredCache(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, now.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// --- Webhook events ---

// GetWebhookEvent returns the response recorded for an already-processed
// webhook delivery.
func (s *Store) GetWebhookEvent(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM webhook_events WHERE event_key = ?`, key).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return payload, err
}

// PutWebhookEvent records the response for a delivery. The first write wins
// so a retried delivery can never replace the original answer.
func (s *Store) PutWebhookEvent(ctx context.Context, key, sessionID string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (event_key, session_id, payload, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(event_key) DO NOTHING`,
		key, sessionID, payload, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) PurgeWebhookEvents(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhook_events WHERE created_at < ?`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
