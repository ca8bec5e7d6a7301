package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const elevenLabsOutputFormat = "mp3_22050_32"

// ElevenLabsSynthesizer speaks with the persona's cloned ElevenLabs voice.
type ElevenLabsSynthesizer struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewElevenLabs(apiKey, baseURL string) *ElevenLabsSynthesizer {
	return &ElevenLabsSynthesizer{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *ElevenLabsSynthesizer) Name() string { return providerElevenLabs }

type elevenLabsRequest struct {
	Text         string `json:"text"`
	ModelID      string `json:"model_id"`
	LanguageCode string `json:"language_code,omitempty"`
}

func (e *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text string, v Voice) ([]byte, error) {
	if v.VoiceID == "" {
		return nil, fmt.Errorf("elevenlabs voice id is required")
	}
	req := elevenLabsRequest{Text: text, ModelID: v.Model}
	if v.Model == ElevenLabsMultilingual {
		// language_code is rejected by the English-only models.
		req.LanguageCode = v.Language
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	u := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s", e.baseURL, url.PathEscape(v.VoiceID), elevenLabsOutputFormat)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", e.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("elevenlabs error %d: %s", resp.StatusCode, errBody)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return audio, nil
}
