package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const cartesiaVersion = "2025-04-16"

// CartesiaSynthesizer is the second-ranked voice provider.
type CartesiaSynthesizer struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewCartesia(apiKey, baseURL string) *CartesiaSynthesizer {
	return &CartesiaSynthesizer{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *CartesiaSynthesizer) Name() string { return providerCartesia }

type cartesiaTTSRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        cartesiaVoiceSpec    `json:"voice"`
	OutputFormat cartesiaOutputFormat `json:"output_format"`
	Language     string               `json:"language,omitempty"`
}

type cartesiaVoiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	SampleRate int    `json:"sample_rate"`
	BitRate    int    `json:"bit_rate"`
}

func (c *CartesiaSynthesizer) Synthesize(ctx context.Context, text string, v Voice) ([]byte, error) {
	if v.VoiceID == "" {
		return nil, fmt.Errorf("cartesia voice id is required")
	}
	body, err := json.Marshal(cartesiaTTSRequest{
		ModelID:      v.Model,
		Transcript:   text,
		Voice:        cartesiaVoiceSpec{Mode: "id", ID: v.VoiceID},
		OutputFormat: cartesiaOutputFormat{Container: "mp3", SampleRate: 22050, BitRate: 64000},
		Language:     v.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts/bytes", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cartesia request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("cartesia error %d: %s", resp.StatusCode, errBody)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return audio, nil
}
