package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

const (
	cartesiaBaseURL = "https://api.cartesia.ai"
	cartesiaVersion = "2025-04-16"
	cartesiaModel   = "ink-whisper"

	// cartesiaConfidence is assigned to non-empty Cartesia transcripts,
	// which carry no confidence score.
	cartesiaConfidence = 0.75
)

// CartesiaTranscriber uploads audio to Cartesia's batch /stt endpoint.
type CartesiaTranscriber struct {
	apiKey     string
	baseURL    string
	fetcher    Fetcher
	httpClient *http.Client
}

// NewCartesia creates a Cartesia transcriber. fetcher downloads audio that is
// only known by URL.
func NewCartesia(apiKey, baseURL string, fetcher Fetcher) *CartesiaTranscriber {
	if baseURL == "" {
		baseURL = cartesiaBaseURL
	}
	return &CartesiaTranscriber{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		fetcher:    fetcher,
		httpClient: &http.Client{},
	}
}

func (c *CartesiaTranscriber) Name() string { return "cartesia" }

type cartesiaResponse struct {
	Text     string  `json:"text"`
	Language *string `json:"language,omitempty"`
}

func (c *CartesiaTranscriber) Transcribe(ctx context.Context, a Audio, opts Options) (Transcript, error) {
	data, contentType := a.Data, a.ContentType
	if len(data) == 0 {
		if c.fetcher == nil || a.URL == "" {
			return Transcript{}, fmt.Errorf("cartesia: no audio bytes")
		}
		var err error
		data, contentType, err = c.fetcher.Fetch(ctx, a.URL)
		if err != nil {
			return Transcript{}, err
		}
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "audio."+extension(contentType))
	if err != nil {
		return Transcript{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return Transcript{}, fmt.Errorf("write audio data: %w", err)
	}
	if err := mw.WriteField("model", cartesiaModel); err != nil {
		return Transcript{}, fmt.Errorf("write model field: %w", err)
	}
	if opts.LanguageHint != "" {
		if err := mw.WriteField("language", opts.LanguageHint); err != nil {
			return Transcript{}, fmt.Errorf("write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return Transcript{}, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/stt", &buf)
	if err != nil {
		return Transcript{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Transcript{}, fmt.Errorf("cartesia request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Transcript{}, fmt.Errorf("cartesia error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var cr cartesiaResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return Transcript{}, fmt.Errorf("parse response: %w", err)
	}

	t := Transcript{Text: strings.TrimSpace(cr.Text), Language: opts.LanguageHint, Provider: c.Name()}
	if cr.Language != nil && *cr.Language != "" {
		t.Language = *cr.Language
	}
	if t.Text != "" {
		t.Confidence = cartesiaConfidence
	}
	return t, nil
}

func extension(contentType string) string {
	ct := strings.ToLower(contentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	switch strings.TrimSpace(ct) {
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/webm":
		return "webm"
	case "audio/ogg":
		return "ogg"
	case "audio/flac", "audio/x-flac":
		return "flac"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "m4a"
	default:
		return "wav"
	}
}
