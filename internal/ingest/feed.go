package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/twin/internal/langdetect"
	"github.com/kalambet/twin/internal/storage"
)

// feedCursorKey is the settings key holding the last synced updated_at.
const feedCursorKey = "feed.cursor"

// FeedStore is what a sync needs from storage.
type FeedStore interface {
	GetKnowledgeDocByExternalID(externalID string) (storage.KnowledgeDoc, error)
	SaveKnowledgeDoc(doc storage.KnowledgeDoc) error
	UpdateKnowledgeDoc(doc storage.KnowledgeDoc) error
	EnqueueJob(job storage.Job) error
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// FeedItem is one pre-chunked knowledge item from the content feed.
type FeedItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Tags      []string  `json:"tags"`
	Priority  int       `json:"priority"`
	Language  string    `json:"language"`
	UpdatedAt time.Time `json:"updated_at"`
}

type feedResponse struct {
	Items []FeedItem `json:"items"`
}

// SyncResult summarizes a feed sync.
type SyncResult struct {
	Created int       `json:"created"`
	Updated int       `json:"updated"`
	Skipped int       `json:"skipped"`
	Cursor  time.Time `json:"cursor"`
}

// FeedClient pulls the content feed's read-only knowledge listing.
type FeedClient struct {
	baseURL    string
	token      string
	store      FeedStore
	httpClient *http.Client
}

func NewFeedClient(baseURL, token string, store FeedStore) *FeedClient {
	return &FeedClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		store:      store,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Sync fetches items changed since the stored cursor, upserts each as a
// single-chunk document and queues it for embedding. The cursor advances
// only after every item was stored.
func (f *FeedClient) Sync(ctx context.Context) (SyncResult, error) {
	var res SyncResult

	since, err := f.store.GetSetting(ctx, feedCursorKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return res, fmt.Errorf("reading feed cursor: %w", err)
	}
	if since != "" {
		if res.Cursor, err = time.Parse(time.RFC3339Nano, since); err != nil {
			slog.Warn("ignoring malformed feed cursor", "cursor", since, "error", err)
			since = ""
		}
	}

	items, err := f.fetch(ctx, since)
	if err != nil {
		return res, err
	}

	for _, it := range items {
		if strings.TrimSpace(it.ID) == "" || strings.TrimSpace(it.Text) == "" {
			res.Skipped++
			continue
		}
		created, err := f.upsert(it)
		if err != nil {
			return res, fmt.Errorf("storing feed item %s: %w", it.ID, err)
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
		if it.UpdatedAt.After(res.Cursor) {
			res.Cursor = it.UpdatedAt
		}
	}

	if !res.Cursor.IsZero() {
		if err := f.store.SetSetting(ctx, feedCursorKey, res.Cursor.UTC().Format(time.RFC3339Nano)); err != nil {
			return res, fmt.Errorf("saving feed cursor: %w", err)
		}
	}
	slog.Info("feed synced", "created", res.Created, "updated", res.Updated, "skipped", res.Skipped)
	return res, nil
}

func (f *FeedClient) fetch(ctx context.Context, since string) ([]FeedItem, error) {
	endpoint := f.baseURL + "/knowledge"
	if since != "" {
		endpoint += "?" + url.Values{"since": {since}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("feed returned status %d: %s", resp.StatusCode, body)
	}

	var fr feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, fmt.Errorf("decoding feed: %w", err)
	}
	return fr.Items, nil
}

func (f *FeedClient) upsert(it FeedItem) (bool, error) {
	tags := "[]"
	if len(it.Tags) > 0 {
		b, err := json.Marshal(it.Tags)
		if err != nil {
			return false, err
		}
		tags = string(b)
	}
	doc := storage.KnowledgeDoc{
		ExternalID: it.ID,
		Title:      it.Title,
		Content:    it.Text,
		Source:     SourceFeed,
		Language:   langdetect.Normalize(it.Language),
		Priority:   it.Priority,
		Tags:       tags,
	}

	existing, err := f.store.GetKnowledgeDocByExternalID(it.ID)
	created := errors.Is(err, storage.ErrNotFound)
	switch {
	case created:
		doc.ID = uuid.NewString()
		err = f.store.SaveKnowledgeDoc(doc)
	case err != nil:
		return false, err
	default:
		doc.ID = existing.ID
		err = f.store.UpdateKnowledgeDoc(doc)
	}
	if err != nil {
		return false, err
	}
	return created, EnqueueEmbed(f.store, doc.ID)
}
