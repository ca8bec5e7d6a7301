package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// keychainService prefixes the secret store services. Secrets are grouped
// by the twin's concerns: twin.speech holds the voice provider keys,
// twin.phone the Twilio token, twin.admin the admin API token.
const keychainService = "twin"

const adminService = keychainService + ".admin"

// secretService maps a dotted config key to its secret store service.
func secretService(key string) string {
	section, _, _ := strings.Cut(key, ".")
	return keychainService + "." + section
}

type Config struct {
	Server        ServerConfig
	Log           LogConfig
	Storage       StorageConfig
	Ollama        OllamaConfig
	Proxy         ProxyConfig
	Gemini        GeminiConfig
	Generation    GenerationConfig
	Cache         CacheConfig
	Session       SessionConfig
	Transcription TranscriptionConfig
	Decision      DecisionConfig
	Retrieval     RetrievalConfig
	Reranking     RerankingConfig
	Responder     ResponderConfig
	Speech        SpeechConfig
	AudioStore    AudioStoreConfig
	Pipeline      PipelineConfig
	Phone         PhoneConfig
	Feed          FeedConfig
}

type ServerConfig struct {
	Port      int
	PublicURL string
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	DataDir string
}

type OllamaConfig struct {
	BaseURL    string
	FastModel  string
	EmbedModel string
}

type ProxyConfig struct {
	OpenRouterAPIKey string
	DefaultModel     string
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

// GenerationConfig selects the LLM that writes the persona's replies.
type GenerationConfig struct {
	Provider    string // "openrouter", "gemini" or "ollama"
	MaxTokens   int
	Temperature float64
}

type CacheConfig struct {
	Backend       string // "memory", "sqlite" or "redis"
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Timeout       time.Duration
	GreetingTTL   time.Duration
	ResponseTTL   time.Duration
	TranscriptTTL time.Duration
	AudioTTL      time.Duration
}

type SessionConfig struct {
	PrimaryLanguage         string
	LanguageSwitchThreshold float64
	IdleTimeout             time.Duration
}

type TranscriptionConfig struct {
	DeepgramAPIKey  string
	DeepgramBaseURL string
	DeepgramModel   string
	CartesiaBaseURL string
	MinAudioBytes   int
	MinConfidence   float64
}

type DecisionConfig struct {
	MinChars            int
	EscalationThreshold float64
	ClarifyThreshold    float64
	ClassifierEnabled   bool
	ClassifierTimeout   time.Duration
}

type RetrievalConfig struct {
	TopK             int
	IndexLanguage    string
	Multilingual     bool
	TranslateTimeout time.Duration
}

type RerankingConfig struct {
	Enabled   bool
	Timeout   time.Duration
	Threshold float64
}

type ResponderConfig struct {
	HistoryTurns int
}

type SpeechConfig struct {
	ElevenLabsAPIKey  string
	ElevenLabsBaseURL string
	ElevenLabsVoiceID string
	// ElevenLabsLanguageVoices and CartesiaLanguageVoices hold per-language
	// voice ids as "es=VOICE,fr=VOICE".
	ElevenLabsLanguageVoices string
	CartesiaAPIKey           string
	CartesiaBaseURL          string
	CartesiaVoiceID          string
	CartesiaLanguageVoices   string
	ProviderTimeout          time.Duration
}

// ParseLanguageVoices parses a "lang=voice" list separated by commas.
// Malformed entries are skipped.
func ParseLanguageVoices(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		lang, voice, ok := strings.Cut(strings.TrimSpace(pair), "=")
		lang, voice = strings.ToLower(strings.TrimSpace(lang)), strings.TrimSpace(voice)
		if !ok || lang == "" || voice == "" {
			continue
		}
		out[lang] = voice
	}
	return out
}

type AudioStoreConfig struct {
	Backend  string // "file" or "s3"
	S3Bucket string
	S3Region string
	S3Prefix string
	// BaseURL is the public prefix for stored objects. Empty means the
	// server's own /audio/ route (file backend) or the bucket URL (s3).
	BaseURL string
}

type PipelineConfig struct {
	TurnTimeout       time.Duration
	TranscribeTimeout time.Duration
	DecideTimeout     time.Duration
	RetrieveTimeout   time.Duration
	GenerateTimeout   time.Duration
	SynthesizeTimeout time.Duration
}

type PhoneConfig struct {
	TwilioAccountSID  string
	TwilioAuthToken   string
	ThinkingThreshold time.Duration
	HardTimeout       time.Duration
	MaxSilentTurns    int
	RecordMaxLength   int
}

type FeedConfig struct {
	URL          string
	Token        string
	SyncInterval time.Duration
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:      4000,
			PublicURL: "http://localhost:4000",
		},
		Log: LogConfig{Level: "info"},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			FastModel:  "phi3.5",
			EmbedModel: "nomic-embed-text",
		},
		Proxy: ProxyConfig{
			DefaultModel: "anthropic/claude-3.5-haiku",
		},
		Gemini: GeminiConfig{
			Model: "gemini-2.0-flash",
		},
		Generation: GenerationConfig{
			Provider:    "openrouter",
			MaxTokens:   300,
			Temperature: 0.6,
		},
		Cache: CacheConfig{
			Backend:       "sqlite",
			RedisAddr:     "localhost:6379",
			Timeout:       150 * time.Millisecond,
			GreetingTTL:   time.Hour,
			ResponseTTL:   15 * time.Minute,
			TranscriptTTL: 30 * time.Minute,
			AudioTTL:      time.Hour,
		},
		Session: SessionConfig{
			PrimaryLanguage:         "en",
			LanguageSwitchThreshold: 0.7,
			IdleTimeout:             30 * time.Minute,
		},
		Transcription: TranscriptionConfig{
			DeepgramBaseURL: "https://api.deepgram.com",
			DeepgramModel:   "nova-2",
			CartesiaBaseURL: "https://api.cartesia.ai",
			MinAudioBytes:   4000,
			MinConfidence:   0.6,
		},
		Decision: DecisionConfig{
			MinChars:            2,
			EscalationThreshold: 0.6,
			ClarifyThreshold:    0.35,
			ClassifierEnabled:   true,
			ClassifierTimeout:   1500 * time.Millisecond,
		},
		Retrieval: RetrievalConfig{
			TopK:             5,
			IndexLanguage:    "en",
			TranslateTimeout: 1500 * time.Millisecond,
		},
		Reranking: RerankingConfig{
			Enabled:   false,
			Timeout:   2 * time.Second,
			Threshold: 0.3,
		},
		Responder: ResponderConfig{HistoryTurns: 10},
		Speech: SpeechConfig{
			ElevenLabsBaseURL: "https://api.elevenlabs.io",
			CartesiaBaseURL:   "https://api.cartesia.ai",
			ProviderTimeout:   4 * time.Second,
		},
		AudioStore: AudioStoreConfig{
			Backend:  "file",
			S3Prefix: "twin",
		},
		Pipeline: PipelineConfig{
			TurnTimeout:       11 * time.Second,
			TranscribeTimeout: 4 * time.Second,
			DecideTimeout:     2 * time.Second,
			RetrieveTimeout:   2500 * time.Millisecond,
			GenerateTimeout:   5 * time.Second,
			SynthesizeTimeout: 4 * time.Second,
		},
		Phone: PhoneConfig{
			ThinkingThreshold: 2500 * time.Millisecond,
			HardTimeout:       12 * time.Second,
			MaxSilentTurns:    3,
			RecordMaxLength:   30,
		},
		Feed: FeedConfig{
			SyncInterval: 15 * time.Minute,
		},
	}
}

// Load reads configuration from the platform-native backend, a .env file in
// the working directory, environment variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.twin.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/twin/config.json
// and secrets fall back to $XDG_DATA_HOME/twin/secrets.json.
//
// Environment variables (TWIN_*) override backend values on all platforms.
// Values from .env never replace variables already set in the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return loadWith(newPlatformBackend(), NewKeychain())
}

// Keychain abstracts the platform secret store.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret {
			continue
		}
		if v, _ := s.extract(cfg).(string); v != "" {
			continue
		}
		if val, err := kc.Get(secretService(s.key), secretAccount(s.env)); err == nil && val != "" {
			s.apply(&cfg, val)
		}
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.Generation.Provider {
	case "openrouter":
		if cfg.Proxy.OpenRouterAPIKey == "" {
			return fmt.Errorf("missing required config: OpenRouter API key. "+
				"Set it via environment variable TWIN_OPENROUTER_API_KEY%s", apiKeyHint(secretService("proxy.openrouter_api_key"), "openrouter_api_key"))
		}
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return fmt.Errorf("missing required config: Gemini API key. "+
				"Set it via environment variable TWIN_GEMINI_API_KEY%s", apiKeyHint(secretService("gemini.api_key"), "gemini_api_key"))
		}
	case "ollama":
	default:
		return fmt.Errorf("unknown generation.provider %q (want openrouter, gemini or ollama)", cfg.Generation.Provider)
	}

	switch cfg.Cache.Backend {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("unknown cache.backend %q (want memory, sqlite or redis)", cfg.Cache.Backend)
	}

	switch cfg.AudioStore.Backend {
	case "file":
	case "s3":
		if cfg.AudioStore.S3Bucket == "" {
			return fmt.Errorf("audio_store.backend is s3 but audio_store.s3_bucket is empty")
		}
	default:
		return fmt.Errorf("unknown audio_store.backend %q (want file or s3)", cfg.AudioStore.Backend)
	}

	if cfg.Session.LanguageSwitchThreshold < 0 || cfg.Session.LanguageSwitchThreshold > 1 {
		return fmt.Errorf("session.language_switch_threshold must be within [0,1], got %v", cfg.Session.LanguageSwitchThreshold)
	}
	return nil
}

// secretAccount maps a secret's env var to its secret store account name:
// TWIN_OPENROUTER_API_KEY -> openrouter_api_key.
func secretAccount(env string) string {
	return strings.ToLower(strings.TrimPrefix(env, "TWIN_"))
}

// platformKeychain is the OS secret store.
type platformKeychain struct{}

// NewKeychain returns the platform secret store.
func NewKeychain() Keychain {
	return platformKeychain{}
}

func (platformKeychain) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (platformKeychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

const apiTokenAccount = "api_token"

// GetAPIToken returns the bearer token guarding the admin API, generating and
// storing a new random token on first use.
func GetAPIToken(kc Keychain) (string, error) {
	if tok, err := kc.Get(adminService, apiTokenAccount); err == nil && tok != "" {
		return tok, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := kc.Set(adminService, apiTokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing api token: %w", err)
	}
	return tok, nil
}
