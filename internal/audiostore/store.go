// Package audiostore uploads synthesized audio and returns URLs the
// telephony platform and browsers can fetch.
package audiostore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Cache lifetimes for stored audio.
const (
	CachePhrase = "public, max-age=31536000, immutable"
	CacheReply  = "public, max-age=3600"
)

// Store persists audio objects.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType, cacheControl string) (string, error)
}

// FileStore writes audio under a local directory served at /audio/.
type FileStore struct {
	dir     string
	baseURL string
}

// NewFileStore creates a FileStore. baseURL is the server's public URL.
func NewFileStore(dir, baseURL string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating audio directory: %w", err)
	}
	return &FileStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir returns the directory served at /audio/.
func (f *FileStore) Dir() string { return f.dir }

func (f *FileStore) Put(_ context.Context, key string, data []byte, _, _ string) (string, error) {
	clean := filepath.Clean("/" + key)[1:]
	if clean == "" || clean != key {
		return "", fmt.Errorf("invalid audio key %q", key)
	}
	path := filepath.Join(f.dir, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating audio directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("writing audio: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("renaming audio: %w", err)
	}
	return f.baseURL + "/audio/" + clean, nil
}
