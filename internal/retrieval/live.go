package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// FeedLiveSource queries the content feed's recent-activity endpoint.
type FeedLiveSource struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewFeedLiveSource(baseURL, token string) *FeedLiveSource {
	return &FeedLiveSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

type activityResponse struct {
	Items []struct {
		ID        string    `json:"id"`
		Text      string    `json:"text"`
		Language  string    `json:"language"`
		Priority  int       `json:"priority"`
		Tags      []string  `json:"tags"`
		UpdatedAt time.Time `json:"updated_at"`
	} `json:"items"`
}

// Recent returns activity items newest first. Scores decay with position so
// the freshest item ranks highest.
func (f *FeedLiveSource) Recent(ctx context.Context, query string, limit int) ([]KnowledgeChunk, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/activity?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching activity: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("activity feed returned status %d: %s", resp.StatusCode, body)
	}

	var ar activityResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return nil, fmt.Errorf("decoding activity: %w", err)
	}

	var chunks []KnowledgeChunk
	for i, it := range ar.Items {
		if i >= limit {
			break
		}
		tags, _ := json.Marshal(it.Tags)
		chunks = append(chunks, KnowledgeChunk{
			ID:         "live:" + it.ID,
			SourceID:   "live:" + it.ID,
			SourceType: "live",
			Text:       it.Text,
			Language:   it.Language,
			Score:      0.9 - 0.05*float32(i),
			Tags:       string(tags),
			Priority:   it.Priority,
			CreatedAt:  it.UpdatedAt,
		})
	}
	return chunks, nil
}
