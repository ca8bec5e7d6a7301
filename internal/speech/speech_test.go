package speech

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/twin/internal/breaker"
	"github.com/kalambet/twin/internal/cache"
)

type mockSynth struct {
	name string

	mu     sync.Mutex
	calls  int
	voices []Voice
	fn     func(ctx context.Context, text string, v Voice) ([]byte, error)
}

func (m *mockSynth) Name() string { return m.name }

func (m *mockSynth) Synthesize(ctx context.Context, text string, v Voice) ([]byte, error) {
	m.mu.Lock()
	m.calls++
	m.voices = append(m.voices, v)
	m.mu.Unlock()
	return m.fn(ctx, text, v)
}

func okSynth(name string) *mockSynth {
	return &mockSynth{name: name, fn: func(context.Context, string, Voice) ([]byte, error) { return []byte("mp3"), nil }}
}

func failSynth(name string) *mockSynth {
	return &mockSynth{name: name, fn: func(context.Context, string, Voice) ([]byte, error) { return nil, errors.New("503") }}
}

type memStore struct {
	mu   sync.Mutex
	puts map[string]string // key -> cache control
	err  error
}

func (m *memStore) Put(_ context.Context, key string, _ []byte, _, cacheControl string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.puts == nil {
		m.puts = make(map[string]string)
	}
	m.puts[key] = cacheControl
	return "https://audio.example.com/" + key, nil
}

var testCatalog = Catalog{
	Primary:  "en",
	VoiceIDs: map[string]string{"elevenlabs": "el-voice", "cartesia": "ca-voice"},
	LanguageVoices: map[string]map[string]string{
		"elevenlabs": {"es": "el-voice-es"},
	},
}

func newTestService(store *memStore, synths ...Synthesizer) *Service {
	layer := cache.NewLayer(cache.NewMemoryBackend(), cache.DefaultTTLs(), time.Second, nil)
	return NewService(store, layer, testCatalog, Config{ProviderTimeout: time.Second}, breaker.DefaultSettings(), nil, synths...)
}

const longReply = "I spent six years building payment systems at Acme and then moved to Lisbon to start my own company."

func TestSynthesize_PrimaryProvider(t *testing.T) {
	store := &memStore{}
	el := okSynth("elevenlabs")
	ca := okSynth("cartesia")
	s := newTestService(store, el, ca)

	a := s.Synthesize(context.Background(), longReply, "en")
	if a.Provider != "elevenlabs" || !strings.HasPrefix(a.URL, "https://audio.example.com/replies/") {
		t.Errorf("audio = %+v", a)
	}
	if ca.calls != 0 {
		t.Errorf("second provider called %d times", ca.calls)
	}
	if el.voices[0].Model != ElevenLabsMonolingual || el.voices[0].VoiceID != "el-voice" {
		t.Errorf("voice = %+v", el.voices[0])
	}
	for _, cc := range store.puts {
		if cc != "public, max-age=3600" {
			t.Errorf("reply cache control = %q", cc)
		}
	}
}

func TestSynthesize_FallsBackToSecondProvider(t *testing.T) {
	ca := okSynth("cartesia")
	s := newTestService(&memStore{}, failSynth("elevenlabs"), ca)

	a := s.Synthesize(context.Background(), longReply, "es")
	if a.Provider != "cartesia" || a.URL == "" {
		t.Errorf("audio = %+v", a)
	}
	if ca.voices[0].Model != CartesiaMultilingual || ca.voices[0].Language != "es" {
		t.Errorf("voice = %+v, want multilingual es", ca.voices[0])
	}
}

func TestSynthesize_AllFailUsesBuiltinVoice(t *testing.T) {
	s := newTestService(&memStore{}, failSynth("elevenlabs"), failSynth("cartesia"))

	a := s.Synthesize(context.Background(), longReply, "es")
	if a.Provider != ProviderBuiltin || a.Say == nil {
		t.Fatalf("audio = %+v", a)
	}
	if a.Say.Voice != "Polly.Lupe" || a.Say.Language != "es-US" || a.Say.Text != longReply {
		t.Errorf("say = %+v", a.Say)
	}
	if !a.Playable() {
		t.Error("builtin audio not playable")
	}
}

func TestSynthesize_UploadFailureUsesBuiltinVoice(t *testing.T) {
	s := newTestService(&memStore{err: errors.New("s3 down")}, okSynth("elevenlabs"))

	a := s.Synthesize(context.Background(), longReply, "en")
	if a.Say == nil || a.Say.Voice != "Polly.Joanna" {
		t.Errorf("audio = %+v", a)
	}
}

func TestSynthesize_NoProviders(t *testing.T) {
	a := newTestService(&memStore{}).Synthesize(context.Background(), "hello there", "fr")
	if a.Say == nil || a.Say.Language != "fr-FR" {
		t.Errorf("audio = %+v", a)
	}
}

func TestSynthesize_PhraseCached(t *testing.T) {
	store := &memStore{}
	el := okSynth("elevenlabs")
	s := newTestService(store, el)
	s.RegisterPhrases("One moment, let me think.")

	first := s.Synthesize(context.Background(), "One moment, let me think.", "en")
	second := s.Synthesize(context.Background(), "one moment let me think", "en")

	if el.calls != 1 {
		t.Errorf("provider called %d times, want 1", el.calls)
	}
	if !second.Cached || second.URL != first.URL {
		t.Errorf("second = %+v, first = %+v", second, first)
	}
	key := PhraseKey("One moment, let me think.", "en")
	if store.puts[key] != "public, max-age=31536000, immutable" {
		t.Errorf("phrase puts = %v", store.puts)
	}
	if !strings.HasPrefix(key, "phrases/en/") || !strings.HasSuffix(key, ".mp3") {
		t.Errorf("phrase key = %q", key)
	}
}

func TestSynthesize_ShortReplyIsNotAPhrase(t *testing.T) {
	store := &memStore{}
	el := okSynth("elevenlabs")
	s := newTestService(store, el)

	first := s.Synthesize(context.Background(), "I live in Lisbon.", "en")
	second := s.Synthesize(context.Background(), "I live in Lisbon.", "en")
	if second.Cached || el.calls != 2 {
		t.Errorf("short reply served from phrase cache: %+v after %d calls", second, el.calls)
	}
	if !strings.HasPrefix(first.URL, "https://audio.example.com/replies/") {
		t.Errorf("url = %q, want a reply object", first.URL)
	}
	for key, cc := range store.puts {
		if strings.HasPrefix(key, "phrases/") || cc != "public, max-age=3600" {
			t.Errorf("put %s with %q, want short-lived reply", key, cc)
		}
	}
}

func TestSynthesize_RegisteredLongPhrase(t *testing.T) {
	el := okSynth("elevenlabs")
	s := newTestService(&memStore{}, el)
	s.RegisterPhrases(longReply)

	s.Synthesize(context.Background(), longReply, "en")
	if a := s.Synthesize(context.Background(), longReply, "en"); !a.Cached {
		t.Errorf("registered phrase not cached: %+v", a)
	}
	if el.calls != 1 {
		t.Errorf("provider called %d times", el.calls)
	}
}

func TestSynthesize_OpenCircuitSkipsProvider(t *testing.T) {
	el := failSynth("elevenlabs")
	ca := okSynth("cartesia")
	s := newTestService(&memStore{}, el, ca)

	for i := 0; i < 5; i++ {
		s.Synthesize(context.Background(), longReply, "en")
	}
	if el.calls != 3 {
		t.Errorf("failing provider called %d times, want 3 before the circuit opened", el.calls)
	}
	if ca.calls != 5 {
		t.Errorf("fallback provider called %d times, want 5", ca.calls)
	}
}

func TestSynthesize_ProviderTimeout(t *testing.T) {
	slow := &mockSynth{name: "elevenlabs", fn: func(ctx context.Context, _ string, _ Voice) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	layer := cache.NewLayer(cache.NewMemoryBackend(), cache.DefaultTTLs(), time.Second, nil)
	s := NewService(&memStore{}, layer, testCatalog, Config{ProviderTimeout: 30 * time.Millisecond}, breaker.DefaultSettings(), nil, slow, okSynth("cartesia"))

	start := time.Now()
	a := s.Synthesize(context.Background(), longReply, "en")
	if a.Provider != "cartesia" {
		t.Errorf("audio = %+v", a)
	}
	if time.Since(start) > time.Second {
		t.Errorf("provider timeout not enforced")
	}
}

func TestPrewarm(t *testing.T) {
	el := okSynth("elevenlabs")
	s := newTestService(&memStore{}, el)

	phrases := func(lang string) []string {
		if lang == "es" {
			return []string{"Un momento.", "¡Hola!"}
		}
		return []string{"One moment.", "Hi!"}
	}
	if n := s.Prewarm(context.Background(), phrases, []string{"en", "es"}); n != 4 {
		t.Errorf("warmed %d, want 4", n)
	}
	if a := s.Synthesize(context.Background(), "Un momento.", "es"); !a.Cached {
		t.Errorf("prewarmed phrase not cached: %+v", a)
	}
}

func TestCatalogVoice(t *testing.T) {
	tests := []struct {
		catalog  Catalog
		provider string
		lang     string
		want     string
	}{
		{testCatalog, "elevenlabs", "en", ElevenLabsMonolingual},
		{testCatalog, "elevenlabs", "de", ElevenLabsMultilingual},
		{testCatalog, "cartesia", "en", CartesiaMonolingual},
		{testCatalog, "cartesia", "it", CartesiaMultilingual},
		{Catalog{Primary: "es"}, "elevenlabs", "es", ElevenLabsMultilingual},
	}
	for _, tc := range tests {
		v := tc.catalog.Voice(tc.provider, tc.lang)
		if v.Model != tc.want || v.Language != tc.lang {
			t.Errorf("Voice(%s, %s) = %+v, want model %s", tc.provider, tc.lang, v, tc.want)
		}
	}

	en := testCatalog.Voice("elevenlabs", "en")
	es := testCatalog.Voice("elevenlabs", "es")
	if es.VoiceID != "el-voice-es" || es.VoiceID == en.VoiceID {
		t.Errorf("es voice = %+v, en voice = %+v, want distinct identities", es, en)
	}
	if de := testCatalog.Voice("elevenlabs", "de"); de.VoiceID != "el-voice" {
		t.Errorf("de voice = %q, want provider default", de.VoiceID)
	}
	if missing := testCatalog.Missing("elevenlabs", []string{"en", "es", "fr"}); len(missing) != 2 || missing[0] != "en" || missing[1] != "fr" {
		t.Errorf("Missing = %v", missing)
	}

	if b := Builtin("hi", "ja"); b.Voice != "Polly.Joanna" {
		t.Errorf("unknown language builtin = %+v", b)
	}
}

func TestElevenLabsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/text-to-speech/voice-1" || r.URL.Query().Get("output_format") == "" {
			t.Errorf("url = %s", r.URL)
		}
		if r.Header.Get("xi-api-key") != "key" {
			t.Errorf("xi-api-key = %q", r.Header.Get("xi-api-key"))
		}
		var body elevenLabsRequest
		json.NewDecoder(r.Body).Decode(&body)
		if body.ModelID != ElevenLabsMultilingual || body.LanguageCode != "pt" || body.Text != "Olá" {
			t.Errorf("body = %+v", body)
		}
		w.Write([]byte("ID3audio"))
	}))
	defer srv.Close()

	audio, err := NewElevenLabs("key", srv.URL).Synthesize(context.Background(), "Olá", Voice{Language: "pt", VoiceID: "voice-1", Model: ElevenLabsMultilingual})
	if err != nil || string(audio) != "ID3audio" {
		t.Errorf("audio = %q, %v", audio, err)
	}
}

func TestCartesiaRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tts/bytes" || r.Header.Get("Cartesia-Version") != cartesiaVersion {
			t.Errorf("request = %s %v", r.URL.Path, r.Header)
		}
		raw, _ := io.ReadAll(r.Body)
		var body cartesiaTTSRequest
		json.Unmarshal(raw, &body)
		if body.Voice.ID != "ca-voice" || body.OutputFormat.Container != "mp3" || body.ModelID != CartesiaMonolingual {
			t.Errorf("body = %s", raw)
		}
		w.Write([]byte("mp3"))
	}))
	defer srv.Close()

	audio, err := NewCartesia("key", srv.URL).Synthesize(context.Background(), "hi", Voice{Language: "en", VoiceID: "ca-voice", Model: CartesiaMonolingual})
	if err != nil || string(audio) != "mp3" {
		t.Errorf("audio = %q, %v", audio, err)
	}
}

func TestProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	v := Voice{Language: "en", VoiceID: "v", Model: "m"}
	if _, err := NewElevenLabs("k", srv.URL).Synthesize(context.Background(), "x", v); err == nil {
		t.Error("elevenlabs: expected error")
	}
	if _, err := NewCartesia("k", srv.URL).Synthesize(context.Background(), "x", v); err == nil {
		t.Error("cartesia: expected error")
	}
	if _, err := NewCartesia("k", srv.URL).Synthesize(context.Background(), "x", Voice{}); err == nil {
		t.Error("missing voice id: expected error")
	}
}
