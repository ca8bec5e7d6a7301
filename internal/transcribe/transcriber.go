// Package transcribe turns caller audio into text with ranked provider
// fallback, transcript caching, and language normalization.
package transcribe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrAudioTooShort is returned by Audio.Check for audio below the minimum size.
	ErrAudioTooShort = errors.New("audio below minimum size")
	// ErrNoTranscript means every provider answered but none heard speech.
	ErrNoTranscript = errors.New("no transcript")
)

// bytesPerSecond estimates audio size from duration when only the duration
// is known (16 kHz, 8-bit mu-law telephony audio).
const bytesPerSecond = 16000

// Audio is one caller utterance, either hosted at URL or inline in Data.
type Audio struct {
	URL         string
	Data        []byte
	ContentType string
	Size        int64
	Duration    time.Duration
}

// Ref identifies the audio for caching: the URL, or a hash of the bytes.
func (a Audio) Ref() string {
	if a.URL != "" {
		return a.URL
	}
	sum := sha256.Sum256(a.Data)
	return hex.EncodeToString(sum[:])
}

// EstimatedSize returns the known or estimated byte size; 0 means unknown.
func (a Audio) EstimatedSize() int64 {
	switch {
	case a.Size > 0:
		return a.Size
	case len(a.Data) > 0:
		return int64(len(a.Data))
	case a.Duration > 0:
		return int64(a.Duration.Seconds() * bytesPerSecond)
	}
	return 0
}

// Check reports ErrAudioTooShort when the audio is empty or smaller than
// minBytes. Audio of unknown size (a bare URL) passes.
func (a Audio) Check(minBytes int) error {
	if a.URL == "" && len(a.Data) == 0 {
		return ErrAudioTooShort
	}
	size := a.EstimatedSize()
	if size == 0 {
		return nil
	}
	if size < int64(minBytes) {
		return fmt.Errorf("%d bytes: %w", size, ErrAudioTooShort)
	}
	return nil
}

// Options tunes one transcription request.
type Options struct {
	LanguageHint   string
	DetectLanguage bool
}

// Transcript is one provider's answer.
type Transcript struct {
	Text       string
	Language   string
	Confidence float64
	Provider   string
}

// Transcriber is a speech-to-text provider.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, a Audio, opts Options) (Transcript, error)
}

// Fetcher downloads hosted audio for providers that need the bytes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (data []byte, contentType string, err error)
}

// maxFetchBytes caps downloaded recordings.
const maxFetchBytes = 20 << 20

// HTTPFetcher downloads audio over HTTP, optionally with basic auth
// (Twilio recordings use the account SID and auth token).
type HTTPFetcher struct {
	Username   string
	Password   string
	HTTPClient *http.Client
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}
	if f.Username != "" {
		req.SetBasicAuth(f.Username, f.Password)
	}
	client := f.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetching audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetching audio: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, "", fmt.Errorf("reading audio: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
