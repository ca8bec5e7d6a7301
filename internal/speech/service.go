// Package speech turns reply text into audio in the persona's voice, with a
// platform voice fallback that always plays.
package speech

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/kalambet/twin/internal/audiostore"
	"github.com/kalambet/twin/internal/breaker"
	"github.com/kalambet/twin/internal/cache"
	"github.com/kalambet/twin/internal/metrics"
)

// Synthesizer is a text-to-speech provider returning mp3 bytes.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text string, v Voice) ([]byte, error)
}

// Audio is the playable result of synthesis: a URL, or a built-in voice
// instruction when no provider could speak.
type Audio struct {
	URL      string      `json:"url,omitempty"`
	Provider string      `json:"provider"`
	Say      *BuiltinSay `json:"say,omitempty"`
	Cached   bool        `json:"cached,omitempty"`
}

// Playable reports whether the audio can be played or spoken.
func (a Audio) Playable() bool {
	return a.URL != "" || (a.Say != nil && a.Say.Text != "")
}

// Provider names used when no voice provider produced the audio.
const (
	ProviderCache   = "cache"
	ProviderBuiltin = "builtin"
)

// Config tunes the speech service.
type Config struct {
	ProviderTimeout time.Duration
}

type voiceLink struct {
	s  Synthesizer
	cb *gobreaker.CircuitBreaker[[]byte]
}

// Service synthesizes with ranked providers and stores the audio.
type Service struct {
	links   []voiceLink
	catalog Catalog
	store   audiostore.Store
	cache   *cache.Layer
	cfg     Config
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.RWMutex
	phrases map[string]bool
}

// NewService ranks synths in the given order. layer and m may be nil.
func NewService(store audiostore.Store, layer *cache.Layer, catalog Catalog, cfg Config, bs breaker.Settings, m *metrics.Metrics, synths ...Synthesizer) *Service {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 4 * time.Second
	}
	s := &Service{
		catalog: catalog,
		store:   store,
		cache:   layer,
		cfg:     cfg,
		metrics: m,
		now:     time.Now,
		phrases: make(map[string]bool),
	}
	for _, syn := range synths {
		if syn == nil {
			continue
		}
		s.links = append(s.links, voiceLink{s: syn, cb: breaker.New[[]byte]("tts:"+syn.Name(), bs)})
	}
	return s
}

// RegisterPhrases marks fixed texts (greeting, thinking cue, re-prompt,
// apology) as phrases. Everything else is a one-off reply with a short
// lifetime, however brief.
func (s *Service) RegisterPhrases(texts ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range texts {
		s.phrases[cache.NormalizeKey(t)] = true
	}
}

func (s *Service) isPhrase(text string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phrases[cache.NormalizeKey(text)]
}

// Synthesize returns playable audio for text in lang. Phrases are served
// from the audio cache when possible. When every provider or the upload
// fails, the built-in platform voice for lang is returned.
func (s *Service) Synthesize(ctx context.Context, text, lang string) Audio {
	text = strings.TrimSpace(text)
	if lang == "" {
		lang = s.catalog.Primary
	}
	phrase := s.isPhrase(text)
	audioKey := cache.AudioKey(text, lang)

	if phrase {
		if url, ok := s.cache.Get(ctx, cache.CategoryAudio, audioKey); ok {
			return Audio{URL: string(url), Provider: ProviderCache, Cached: true}
		}
	}

	data, provider, err := s.speak(ctx, text, lang)
	if err != nil {
		slog.Warn("voice providers failed, using built-in voice", "language", lang, "error", err)
		return s.builtin(text, lang)
	}

	objectKey, cacheControl := s.replyKey(), audiostore.CacheReply
	if phrase {
		objectKey, cacheControl = PhraseKey(text, lang), audiostore.CachePhrase
	}
	url, err := s.store.Put(ctx, objectKey, data, "audio/mpeg", cacheControl)
	if err != nil {
		s.metrics.RecordProvider("audio_store", "put", "error")
		slog.Warn("audio upload failed, using built-in voice", "key", objectKey, "error", err)
		return s.builtin(text, lang)
	}
	s.metrics.RecordProvider("audio_store", "put", "ok")

	if phrase {
		s.cache.Set(ctx, cache.CategoryAudio, audioKey, []byte(url))
	}
	return Audio{URL: url, Provider: provider}
}

// speak tries providers in rank order, skipping open circuits.
func (s *Service) speak(ctx context.Context, text, lang string) ([]byte, string, error) {
	if len(s.links) == 0 {
		return nil, "", errors.New("no voice providers configured")
	}
	var errs []error
	for _, l := range s.links {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		name := l.s.Name()
		voice := s.catalog.Voice(name, lang)
		data, err := l.cb.Execute(func() ([]byte, error) {
			pctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
			defer cancel()
			data, err := l.s.Synthesize(pctx, text, voice)
			if err == nil && len(data) == 0 {
				err = errors.New("empty audio")
			}
			return data, err
		})
		switch {
		case breaker.IsOpen(err):
			s.metrics.RecordProvider("tts", name, "circuit_open")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		case err != nil:
			s.metrics.RecordProvider("tts", name, "error")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		default:
			s.metrics.RecordProvider("tts", name, "ok")
			return data, name, nil
		}
	}
	return nil, "", errors.Join(errs...)
}

func (s *Service) builtin(text, lang string) Audio {
	s.metrics.RecordProvider("tts", ProviderBuiltin, "ok")
	return Audio{Provider: ProviderBuiltin, Say: Builtin(text, lang)}
}

func (s *Service) replyKey() string {
	return fmt.Sprintf("replies/%s/%s.mp3", s.now().UTC().Format("2006-01-02"), uuid.NewString())
}

// PhraseKey is the deterministic object key of a recurring phrase.
func PhraseKey(text, lang string) string {
	sum := sha256.Sum256([]byte(cache.NormalizeKey(text)))
	return fmt.Sprintf("phrases/%s/%s.mp3", lang, hex.EncodeToString(sum[:8]))
}

// Prewarm synthesizes the fixed phrases of every language so the first
// caller doesn't wait for them. It returns how many phrases now have
// provider audio.
func (s *Service) Prewarm(ctx context.Context, phrases func(lang string) []string, languages []string) int {
	warmed := 0
	for _, lang := range languages {
		for _, text := range phrases(lang) {
			s.RegisterPhrases(text)
			if a := s.Synthesize(ctx, text, lang); a.URL != "" {
				warmed++
			}
		}
	}
	slog.Info("speech phrases prewarmed", "warmed", warmed, "languages", len(languages))
	return warmed
}
