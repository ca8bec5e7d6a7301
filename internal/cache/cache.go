// Package cache provides the TTL cache shared by greetings, replies,
// transcripts and synthesized audio. Every failure is reported as a miss.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/kalambet/twin/internal/metrics"
)

// ErrMiss is returned by a Backend when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Backend is a key/value store with per-entry expiry.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Category selects the TTL an entry is stored with.
type Category string

const (
	CategoryGreeting   Category = "greeting"
	CategoryResponse   Category = "response"
	CategoryTranscript Category = "transcript"
	CategoryAudio      Category = "audio"
)

// TTLs maps each category to its entry lifetime.
type TTLs map[Category]time.Duration

func DefaultTTLs() TTLs {
	return TTLs{
		CategoryGreeting:   time.Hour,
		CategoryResponse:   15 * time.Minute,
		CategoryTranscript: 30 * time.Minute,
		CategoryAudio:      time.Hour,
	}
}

const defaultTimeout = 150 * time.Millisecond

// Layer wraps a Backend with per-operation timeouts, metrics and fail-open
// semantics. A nil *Layer or a Layer without a backend behaves as an
// always-empty cache.
type Layer struct {
	backend Backend
	ttls    TTLs
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewLayer creates a Layer. Missing TTLs fall back to DefaultTTLs and a
// non-positive timeout to 150ms.
func NewLayer(b Backend, ttls TTLs, timeout time.Duration, m *metrics.Metrics) *Layer {
	merged := DefaultTTLs()
	for c, d := range ttls {
		if d > 0 {
			merged[c] = d
		}
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Layer{backend: b, ttls: merged, timeout: timeout, metrics: m}
}

// TTL returns the lifetime used for entries of category c.
func (l *Layer) TTL(c Category) time.Duration {
	if l == nil {
		return DefaultTTLs()[c]
	}
	return l.ttls[c]
}

// Get returns the cached value and whether it was found. Backend errors and
// timeouts are logged and reported as a miss.
func (l *Layer) Get(ctx context.Context, c Category, key string) ([]byte, bool) {
	v, err := l.Lookup(ctx, c, key)
	return v, err == nil
}

// Lookup is Get for callers that account for cache failures themselves. It
// returns ErrMiss for absent keys and the backend error otherwise.
func (l *Layer) Lookup(ctx context.Context, c Category, key string) ([]byte, error) {
	if l == nil || l.backend == nil {
		return nil, ErrMiss
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	v, err := l.backend.Get(ctx, key)
	switch {
	case err == nil:
		l.metrics.RecordCache(string(c), "get", "hit")
		return v, nil
	case errors.Is(err, ErrMiss):
		l.metrics.RecordCache(string(c), "get", "miss")
		return nil, ErrMiss
	default:
		slog.Warn("cache get failed, treating as miss", "category", c, "error", err)
		l.metrics.RecordCache(string(c), "get", "error")
		l.metrics.RecordFailure("cache_failure")
		return nil, err
	}
}

// Set stores value under the category TTL. Failures are logged and ignored.
func (l *Layer) Set(ctx context.Context, c Category, key string, value []byte) {
	_ = l.Store(ctx, c, key, value)
}

// Store is Set returning the backend error.
func (l *Layer) Store(ctx context.Context, c Category, key string, value []byte) error {
	if l == nil || l.backend == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.backend.Set(ctx, key, value, l.TTL(c)); err != nil {
		slog.Warn("cache set failed", "category", c, "error", err)
		l.metrics.RecordCache(string(c), "set", "error")
		l.metrics.RecordFailure("cache_failure")
		return err
	}
	l.metrics.RecordCache(string(c), "set", "ok")
	return nil
}

func (l *Layer) Delete(ctx context.Context, key string) {
	if l == nil || l.backend == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if err := l.backend.Delete(ctx, key); err != nil {
		slog.Warn("cache delete failed", "error", err)
	}
}

// GetJSON decodes a cached JSON value into v. Undecodable entries count as
// a miss.
func (l *Layer) GetJSON(ctx context.Context, c Category, key string, v any) bool {
	raw, ok := l.Get(ctx, c, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		slog.Warn("cache entry not decodable, treating as miss", "category", c, "error", err)
		return false
	}
	return true
}

func (l *Layer) SetJSON(ctx context.Context, c Category, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		slog.Warn("cache value not encodable", "category", c, "error", err)
		return
	}
	l.Set(ctx, c, key, raw)
}
