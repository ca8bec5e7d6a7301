package cache

import (
	"context"
	"errors"
	"time"

	"github.com/kalambet/twin/internal/storage"
)

// EntryStore is the subset of storage.Store backing SQLiteBackend.
type EntryStore interface {
	GetCacheEntry(ctx context.Context, key string) ([]byte, error)
	PutCacheEntry(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteCacheEntry(ctx context.Context, key string) error
	PurgeExpiredCache(ctx context.Context, now time.Time) (int, error)
}

// SQLiteBackend keeps entries in the cache_entries table so they survive
// restarts of a single-node deployment.
type SQLiteBackend struct {
	store EntryStore
}

func NewSQLiteBackend(store EntryStore) *SQLiteBackend {
	return &SQLiteBackend{store: store}
}

func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := b.store.GetCacheEntry(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrMiss
	}
	return v, err
}

func (b *SQLiteBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.store.PutCacheEntry(ctx, key, value, ttl)
}

func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	return b.store.DeleteCacheEntry(ctx, key)
}

// Purge removes expired rows.
func (b *SQLiteBackend) Purge(ctx context.Context) (int, error) {
	return b.store.PurgeExpiredCache(ctx, time.Now())
}
