package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/kalambet/twin/internal/storage"
)

// ReplayStore keeps the outcome of idempotent requests so a retried webhook
// gets the same answer without running the turn again.
type ReplayStore interface {
	// GetReplay returns storage.ErrNotFound for unseen keys.
	GetReplay(ctx context.Context, key string) ([]byte, error)
	// PutReplay keeps the first payload stored for a key.
	PutReplay(ctx context.Context, key, sessionID string, payload []byte) error
}

// WebhookEvents defines the storage operations SQLReplay needs.
// Implemented by storage.Store.
type WebhookEvents interface {
	GetWebhookEvent(ctx context.Context, key string) ([]byte, error)
	PutWebhookEvent(ctx context.Context, key, callSID string, payload []byte) error
	PurgeWebhookEvents(ctx context.Context, cutoff time.Time) (int, error)
}

// SQLReplay is a ReplayStore on the webhook_events table.
type SQLReplay struct {
	events WebhookEvents
}

var _ ReplayStore = (*SQLReplay)(nil)

func NewSQLReplay(events WebhookEvents) *SQLReplay {
	return &SQLReplay{events: events}
}

func (r *SQLReplay) GetReplay(ctx context.Context, key string) ([]byte, error) {
	return r.events.GetWebhookEvent(ctx, key)
}

func (r *SQLReplay) PutReplay(ctx context.Context, key, sessionID string, payload []byte) error {
	return r.events.PutWebhookEvent(ctx, key, sessionID, payload)
}

// Purge drops replay records older than cutoff.
func (r *SQLReplay) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	return r.events.PurgeWebhookEvents(ctx, cutoff)
}

func isUnseen(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
