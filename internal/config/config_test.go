package config

import (
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"
)

// mapBackend is an in-memory ConfigBackend.
type mapBackend map[string]string

func (m mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m[key]
	if !ok {
		return 0, false, nil
	}
	i, err := strconv.Atoi(v)
	return i, true, err
}

func (m mapBackend) SetString(key, val string) error { m[key] = val; return nil }
func (m mapBackend) SetInt(key string, val int) error {
	m[key] = strconv.Itoa(val)
	return nil
}
func (m mapBackend) Delete(key string) error { delete(m, key); return nil }

// mockKeychain is a test double for the secret store.
type mockKeychain struct {
	values map[string]string
	setErr error
}

func (m *mockKeychain) Get(service, account string) (string, error) {
	v, ok := m.values[service+"/"+account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (m *mockKeychain) Set(service, account, value string) error {
	if m.setErr != nil {
		return m.setErr
	}
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[service+"/"+account] = value
	return nil
}

func clearSecretEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		if s.secret {
			t.Setenv(s.env, "")
		}
	}
}

func TestDefaults(t *testing.T) {
	clearSecretEnv(t)
	t.Setenv("TWIN_OPENROUTER_API_KEY", "test-key")

	cfg, err := loadWith(mapBackend{}, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Cache.GreetingTTL != time.Hour || cfg.Cache.ResponseTTL != 15*time.Minute {
		t.Errorf("cache TTLs = %v/%v, want 1h/15m", cfg.Cache.GreetingTTL, cfg.Cache.ResponseTTL)
	}
	if cfg.Cache.TranscriptTTL != 30*time.Minute || cfg.Cache.AudioTTL != time.Hour {
		t.Errorf("cache TTLs = %v/%v, want 30m/1h", cfg.Cache.TranscriptTTL, cfg.Cache.AudioTTL)
	}
	if cfg.Session.LanguageSwitchThreshold != 0.7 {
		t.Errorf("LanguageSwitchThreshold = %v, want 0.7", cfg.Session.LanguageSwitchThreshold)
	}
	if cfg.Responder.HistoryTurns != 10 {
		t.Errorf("HistoryTurns = %d, want 10", cfg.Responder.HistoryTurns)
	}
	if cfg.Phone.ThinkingThreshold != 2500*time.Millisecond || cfg.Phone.HardTimeout != 12*time.Second {
		t.Errorf("phone thresholds = %v/%v", cfg.Phone.ThinkingThreshold, cfg.Phone.HardTimeout)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("Retrieval.TopK = %d, want 5", cfg.Retrieval.TopK)
	}
}

func TestBackendValues(t *testing.T) {
	clearSecretEnv(t)
	t.Setenv("TWIN_OPENROUTER_API_KEY", "k")

	b := mapBackend{
		"server.port":                       "5000",
		"storage.data_dir":                  "/tmp/twin-test",
		"session.language_switch_threshold": "0.8",
		"cache.response_ttl":                "5m",
		"retrieval.multilingual":            "true",
	}
	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "/tmp/twin-test" {
		t.Errorf("DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Session.LanguageSwitchThreshold != 0.8 {
		t.Errorf("LanguageSwitchThreshold = %v", cfg.Session.LanguageSwitchThreshold)
	}
	if cfg.Cache.ResponseTTL != 5*time.Minute {
		t.Errorf("ResponseTTL = %v", cfg.Cache.ResponseTTL)
	}
	if !cfg.Retrieval.Multilingual {
		t.Error("Multilingual = false, want true")
	}
}

func TestInvalidBackendValueKeepsDefault(t *testing.T) {
	clearSecretEnv(t)
	t.Setenv("TWIN_OPENROUTER_API_KEY", "k")

	cfg, err := loadWith(mapBackend{"phone.hard_timeout": "soon"}, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Phone.HardTimeout != 12*time.Second {
		t.Errorf("HardTimeout = %v, want default", cfg.Phone.HardTimeout)
	}
}

func TestEnvOverride(t *testing.T) {
	clearSecretEnv(t)
	t.Setenv("TWIN_OPENROUTER_API_KEY", "env-key")
	t.Setenv("TWIN_SERVER_PORT", "6000")
	t.Setenv("TWIN_PHONE_THINKING_THRESHOLD", "1s")

	cfg, err := loadWith(mapBackend{"server.port": "5000"}, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Proxy.OpenRouterAPIKey != "env-key" {
		t.Errorf("OpenRouterAPIKey = %q", cfg.Proxy.OpenRouterAPIKey)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want env value 6000", cfg.Server.Port)
	}
	if cfg.Phone.ThinkingThreshold != time.Second {
		t.Errorf("ThinkingThreshold = %v", cfg.Phone.ThinkingThreshold)
	}
}

func TestSecretsFromKeychain(t *testing.T) {
	clearSecretEnv(t)

	kc := &mockKeychain{values: map[string]string{
		"twin.proxy/openrouter_api_key":       "kc-key",
		"twin.transcription/deepgram_api_key": "dg-key",
	}}
	cfg, err := loadWith(mapBackend{}, kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Proxy.OpenRouterAPIKey != "kc-key" {
		t.Errorf("OpenRouterAPIKey = %q", cfg.Proxy.OpenRouterAPIKey)
	}
	if cfg.Transcription.DeepgramAPIKey != "dg-key" {
		t.Errorf("DeepgramAPIKey = %q", cfg.Transcription.DeepgramAPIKey)
	}
}

func TestSecretsIgnoredInBackend(t *testing.T) {
	clearSecretEnv(t)

	_, err := loadWith(mapBackend{"proxy.openrouter_api_key": "leaked"}, &mockKeychain{})
	if err == nil {
		t.Fatal("expected missing key error: secrets must not be read from the backend")
	}
}

func TestValidateProvider(t *testing.T) {
	clearSecretEnv(t)

	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"openrouter missing key", map[string]string{}, "TWIN_OPENROUTER_API_KEY"},
		{"gemini missing key", map[string]string{"TWIN_GENERATION_PROVIDER": "gemini"}, "TWIN_GEMINI_API_KEY"},
		{"gemini ok", map[string]string{"TWIN_GENERATION_PROVIDER": "gemini", "TWIN_GEMINI_API_KEY": "g"}, ""},
		{"ollama needs nothing", map[string]string{"TWIN_GENERATION_PROVIDER": "ollama"}, ""},
		{"unknown provider", map[string]string{"TWIN_GENERATION_PROVIDER": "x"}, "unknown generation.provider"},
		{"bad cache backend", map[string]string{"TWIN_GENERATION_PROVIDER": "ollama", "TWIN_CACHE_BACKEND": "memcached"}, "cache.backend"},
		{"s3 without bucket", map[string]string{"TWIN_GENERATION_PROVIDER": "ollama", "TWIN_AUDIO_STORE_BACKEND": "s3"}, "s3_bucket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := loadWith(mapBackend{}, &mockKeychain{})
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestGetAPITokenGeneratesOnce(t *testing.T) {
	kc := &mockKeychain{}

	tok1, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if len(tok1) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(tok1))
	}
	tok2, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken second call: %v", err)
	}
	if tok1 != tok2 {
		t.Error("token regenerated on second call")
	}

	_, err = GetAPIToken(&mockKeychain{setErr: errors.New("locked")})
	if err == nil {
		t.Error("expected error when the token cannot be stored")
	}
}

func TestSetKey(t *testing.T) {
	b := mapBackend{}

	if err := setKey(b, "server.port", "4100"); err != nil {
		t.Fatalf("setKey int: %v", err)
	}
	if b["server.port"] != "4100" {
		t.Errorf("stored port = %q", b["server.port"])
	}
	if err := setKey(b, "phone.hard_timeout", "10s"); err != nil {
		t.Fatalf("setKey duration: %v", err)
	}
	if err := setKey(b, "phone.hard_timeout", "ten"); err == nil {
		t.Error("expected error for invalid duration")
	}
	if err := setKey(b, "retrieval.multilingual", "maybe"); err == nil {
		t.Error("expected error for invalid bool")
	}
	if err := setKey(b, "proxy.openrouter_api_key", "x"); err == nil {
		t.Error("expected error for secret key")
	}
	if err := setKey(b, "nope", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Proxy.OpenRouterAPIKey = "sk-secret"

	for _, k := range ShowAll(cfg) {
		if strings.Contains(k.Value, "sk-secret") {
			t.Errorf("secret leaked via key %s", k.Key)
		}
	}
	if len(ValidKeys()) != len(ShowAll(cfg)) {
		t.Error("ValidKeys and ShowAll disagree")
	}
}

func TestSecretAccount(t *testing.T) {
	if got := secretAccount("TWIN_OPENROUTER_API_KEY"); got != "openrouter_api_key" {
		t.Errorf("secretAccount = %q", got)
	}
	if got := secretService("speech.elevenlabs_api_key"); got != "twin.speech" {
		t.Errorf("secretService = %q", got)
	}
}

func TestAPITokenLivesInAdminService(t *testing.T) {
	kc := &mockKeychain{}
	tok, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if kc.values["twin.admin/api_token"] != tok {
		t.Errorf("stored secrets = %v", kc.values)
	}
}

func TestParseLanguageVoices(t *testing.T) {
	got := ParseLanguageVoices(" ES=voice-es, fr=voice-fr,broken,=x,de=")
	if len(got) != 2 || got["es"] != "voice-es" || got["fr"] != "voice-fr" {
		t.Errorf("ParseLanguageVoices = %v", got)
	}
	if got := ParseLanguageVoices(""); len(got) != 0 {
		t.Errorf("empty input = %v", got)
	}
}
