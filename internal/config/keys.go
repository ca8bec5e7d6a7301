package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "TWIN_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.public_url", typ: kString, env: "TWIN_SERVER_PUBLIC_URL",
		apply:   func(cfg *Config, v any) { cfg.Server.PublicURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.PublicURL },
	},
	{
		key: "log.level", typ: kString, env: "TWIN_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TWIN_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "ollama.base_url", typ: kString, env: "TWIN_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.fast_model", typ: kString, env: "TWIN_OLLAMA_FAST_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.FastModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.FastModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "TWIN_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "proxy.openrouter_api_key", typ: kString, env: "TWIN_OPENROUTER_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Proxy.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.OpenRouterAPIKey },
	},
	{
		key: "proxy.default_model", typ: kString, env: "TWIN_PROXY_DEFAULT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Proxy.DefaultModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.DefaultModel },
	},
	{
		key: "gemini.api_key", typ: kString, env: "TWIN_GEMINI_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "gemini.model", typ: kString, env: "TWIN_GEMINI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.Model },
	},
	{
		key: "generation.provider", typ: kString, env: "TWIN_GENERATION_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Generation.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Provider },
	},
	{
		key: "generation.max_tokens", typ: kInt, env: "TWIN_GENERATION_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Generation.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.MaxTokens },
	},
	{
		key: "generation.temperature", typ: kFloat, env: "TWIN_GENERATION_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Generation.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Generation.Temperature },
	},
	{
		key: "cache.backend", typ: kString, env: "TWIN_CACHE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Cache.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.Backend },
	},
	{
		key: "cache.redis_addr", typ: kString, env: "TWIN_CACHE_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Cache.RedisAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.RedisAddr },
	},
	{
		key: "cache.redis_password", typ: kString, env: "TWIN_CACHE_REDIS_PASSWORD",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Cache.RedisPassword = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.RedisPassword },
	},
	{
		key: "cache.redis_db", typ: kInt, env: "TWIN_CACHE_REDIS_DB",
		apply:   func(cfg *Config, v any) { cfg.Cache.RedisDB = v.(int) },
		extract: func(cfg Config) any { return cfg.Cache.RedisDB },
	},
	{
		key: "cache.timeout", typ: kDuration, env: "TWIN_CACHE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Cache.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Cache.Timeout },
	},
	{
		key: "cache.greeting_ttl", typ: kDuration, env: "TWIN_CACHE_GREETING_TTL",
		apply:   func(cfg *Config, v any) { cfg.Cache.GreetingTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Cache.GreetingTTL },
	},
	{
		key: "cache.response_ttl", typ: kDuration, env: "TWIN_CACHE_RESPONSE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Cache.ResponseTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Cache.ResponseTTL },
	},
	{
		key: "cache.transcript_ttl", typ: kDuration, env: "TWIN_CACHE_TRANSCRIPT_TTL",
		apply:   func(cfg *Config, v any) { cfg.Cache.TranscriptTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Cache.TranscriptTTL },
	},
	{
		key: "cache.audio_ttl", typ: kDuration, env: "TWIN_CACHE_AUDIO_TTL",
		apply:   func(cfg *Config, v any) { cfg.Cache.AudioTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Cache.AudioTTL },
	},
	{
		key: "session.primary_language", typ: kString, env: "TWIN_SESSION_PRIMARY_LANGUAGE",
		apply:   func(cfg *Config, v any) { cfg.Session.PrimaryLanguage = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.PrimaryLanguage },
	},
	{
		key: "session.language_switch_threshold", typ: kFloat, env: "TWIN_SESSION_LANGUAGE_SWITCH_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Session.LanguageSwitchThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Session.LanguageSwitchThreshold },
	},
	{
		key: "session.idle_timeout", typ: kDuration, env: "TWIN_SESSION_IDLE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Session.IdleTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Session.IdleTimeout },
	},
	{
		key: "transcription.deepgram_api_key", typ: kString, env: "TWIN_DEEPGRAM_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Transcription.DeepgramAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Transcription.DeepgramAPIKey },
	},
	{
		key: "transcription.deepgram_base_url", typ: kString, env: "TWIN_TRANSCRIPTION_DEEPGRAM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Transcription.DeepgramBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Transcription.DeepgramBaseURL },
	},
	{
		key: "transcription.deepgram_model", typ: kString, env: "TWIN_TRANSCRIPTION_DEEPGRAM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Transcription.DeepgramModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Transcription.DeepgramModel },
	},
	{
		key: "transcription.cartesia_base_url", typ: kString, env: "TWIN_TRANSCRIPTION_CARTESIA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Transcription.CartesiaBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Transcription.CartesiaBaseURL },
	},
	{
		key: "transcription.min_audio_bytes", typ: kInt, env: "TWIN_TRANSCRIPTION_MIN_AUDIO_BYTES",
		apply:   func(cfg *Config, v any) { cfg.Transcription.MinAudioBytes = v.(int) },
		extract: func(cfg Config) any { return cfg.Transcription.MinAudioBytes },
	},
	{
		key: "transcription.min_confidence", typ: kFloat, env: "TWIN_TRANSCRIPTION_MIN_CONFIDENCE",
		apply:   func(cfg *Config, v any) { cfg.Transcription.MinConfidence = v.(float64) },
		extract: func(cfg Config) any { return cfg.Transcription.MinConfidence },
	},
	{
		key: "decision.min_chars", typ: kInt, env: "TWIN_DECISION_MIN_CHARS",
		apply:   func(cfg *Config, v any) { cfg.Decision.MinChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Decision.MinChars },
	},
	{
		key: "decision.escalation_threshold", typ: kFloat, env: "TWIN_DECISION_ESCALATION_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Decision.EscalationThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Decision.EscalationThreshold },
	},
	{
		key: "decision.clarify_threshold", typ: kFloat, env: "TWIN_DECISION_CLARIFY_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Decision.ClarifyThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Decision.ClarifyThreshold },
	},
	{
		key: "decision.classifier_enabled", typ: kBool, env: "TWIN_DECISION_CLASSIFIER_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Decision.ClassifierEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Decision.ClassifierEnabled },
	},
	{
		key: "decision.classifier_timeout", typ: kDuration, env: "TWIN_DECISION_CLASSIFIER_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Decision.ClassifierTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Decision.ClassifierTimeout },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "TWIN_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.index_language", typ: kString, env: "TWIN_RETRIEVAL_INDEX_LANGUAGE",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.IndexLanguage = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.IndexLanguage },
	},
	{
		key: "retrieval.multilingual", typ: kBool, env: "TWIN_RETRIEVAL_MULTILINGUAL",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Multilingual = v.(bool) },
		extract: func(cfg Config) any { return cfg.Retrieval.Multilingual },
	},
	{
		key: "retrieval.translate_timeout", typ: kDuration, env: "TWIN_RETRIEVAL_TRANSLATE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TranslateTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Retrieval.TranslateTimeout },
	},
	{
		key: "reranking.enabled", typ: kBool, env: "TWIN_RERANKING_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Reranking.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Reranking.Enabled },
	},
	{
		key: "reranking.timeout", typ: kDuration, env: "TWIN_RERANKING_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Reranking.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Reranking.Timeout },
	},
	{
		key: "reranking.threshold", typ: kFloat, env: "TWIN_RERANKING_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Reranking.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Reranking.Threshold },
	},
	{
		key: "responder.history_turns", typ: kInt, env: "TWIN_RESPONDER_HISTORY_TURNS",
		apply:   func(cfg *Config, v any) { cfg.Responder.HistoryTurns = v.(int) },
		extract: func(cfg Config) any { return cfg.Responder.HistoryTurns },
	},
	{
		key: "speech.elevenlabs_api_key", typ: kString, env: "TWIN_ELEVENLABS_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Speech.ElevenLabsAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.ElevenLabsAPIKey },
	},
	{
		key: "speech.elevenlabs_base_url", typ: kString, env: "TWIN_SPEECH_ELEVENLABS_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Speech.ElevenLabsBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.ElevenLabsBaseURL },
	},
	{
		key: "speech.elevenlabs_voice_id", typ: kString, env: "TWIN_SPEECH_ELEVENLABS_VOICE_ID",
		apply:   func(cfg *Config, v any) { cfg.Speech.ElevenLabsVoiceID = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.ElevenLabsVoiceID },
	},
	{
		key: "speech.elevenlabs_language_voices", typ: kString, env: "TWIN_SPEECH_ELEVENLABS_LANGUAGE_VOICES",
		apply:   func(cfg *Config, v any) { cfg.Speech.ElevenLabsLanguageVoices = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.ElevenLabsLanguageVoices },
	},
	{
		key: "speech.cartesia_api_key", typ: kString, env: "TWIN_CARTESIA_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Speech.CartesiaAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.CartesiaAPIKey },
	},
	{
		key: "speech.cartesia_base_url", typ: kString, env: "TWIN_SPEECH_CARTESIA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Speech.CartesiaBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.CartesiaBaseURL },
	},
	{
		key: "speech.cartesia_voice_id", typ: kString, env: "TWIN_SPEECH_CARTESIA_VOICE_ID",
		apply:   func(cfg *Config, v any) { cfg.Speech.CartesiaVoiceID = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.CartesiaVoiceID },
	},
	{
		key: "speech.cartesia_language_voices", typ: kString, env: "TWIN_SPEECH_CARTESIA_LANGUAGE_VOICES",
		apply:   func(cfg *Config, v any) { cfg.Speech.CartesiaLanguageVoices = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.CartesiaLanguageVoices },
	},
	{
		key: "speech.provider_timeout", typ: kDuration, env: "TWIN_SPEECH_PROVIDER_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Speech.ProviderTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Speech.ProviderTimeout },
	},
	{
		key: "audio_store.backend", typ: kString, env: "TWIN_AUDIO_STORE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.AudioStore.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.AudioStore.Backend },
	},
	{
		key: "audio_store.s3_bucket", typ: kString, env: "TWIN_AUDIO_STORE_S3_BUCKET",
		apply:   func(cfg *Config, v any) { cfg.AudioStore.S3Bucket = v.(string) },
		extract: func(cfg Config) any { return cfg.AudioStore.S3Bucket },
	},
	{
		key: "audio_store.s3_region", typ: kString, env: "TWIN_AUDIO_STORE_S3_REGION",
		apply:   func(cfg *Config, v any) { cfg.AudioStore.S3Region = v.(string) },
		extract: func(cfg Config) any { return cfg.AudioStore.S3Region },
	},
	{
		key: "audio_store.s3_prefix", typ: kString, env: "TWIN_AUDIO_STORE_S3_PREFIX",
		apply:   func(cfg *Config, v any) { cfg.AudioStore.S3Prefix = v.(string) },
		extract: func(cfg Config) any { return cfg.AudioStore.S3Prefix },
	},
	{
		key: "audio_store.base_url", typ: kString, env: "TWIN_AUDIO_STORE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.AudioStore.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.AudioStore.BaseURL },
	},
	{
		key: "pipeline.turn_timeout", typ: kDuration, env: "TWIN_PIPELINE_TURN_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.TurnTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Pipeline.TurnTimeout },
	},
	{
		key: "pipeline.transcribe_timeout", typ: kDuration, env: "TWIN_PIPELINE_TRANSCRIBE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.TranscribeTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Pipeline.TranscribeTimeout },
	},
	{
		key: "pipeline.decide_timeout", typ: kDuration, env: "TWIN_PIPELINE_DECIDE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.DecideTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Pipeline.DecideTimeout },
	},
	{
		key: "pipeline.retrieve_timeout", typ: kDuration, env: "TWIN_PIPELINE_RETRIEVE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.RetrieveTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Pipeline.RetrieveTimeout },
	},
	{
		key: "pipeline.generate_timeout", typ: kDuration, env: "TWIN_PIPELINE_GENERATE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.GenerateTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Pipeline.GenerateTimeout },
	},
	{
		key: "pipeline.synthesize_timeout", typ: kDuration, env: "TWIN_PIPELINE_SYNTHESIZE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.SynthesizeTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Pipeline.SynthesizeTimeout },
	},
	{
		key: "phone.twilio_account_sid", typ: kString, env: "TWIN_TWILIO_ACCOUNT_SID",
		apply:   func(cfg *Config, v any) { cfg.Phone.TwilioAccountSID = v.(string) },
		extract: func(cfg Config) any { return cfg.Phone.TwilioAccountSID },
	},
	{
		key: "phone.twilio_auth_token", typ: kString, env: "TWIN_TWILIO_AUTH_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Phone.TwilioAuthToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Phone.TwilioAuthToken },
	},
	{
		key: "phone.thinking_threshold", typ: kDuration, env: "TWIN_PHONE_THINKING_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Phone.ThinkingThreshold = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Phone.ThinkingThreshold },
	},
	{
		key: "phone.hard_timeout", typ: kDuration, env: "TWIN_PHONE_HARD_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Phone.HardTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Phone.HardTimeout },
	},
	{
		key: "phone.max_silent_turns", typ: kInt, env: "TWIN_PHONE_MAX_SILENT_TURNS",
		apply:   func(cfg *Config, v any) { cfg.Phone.MaxSilentTurns = v.(int) },
		extract: func(cfg Config) any { return cfg.Phone.MaxSilentTurns },
	},
	{
		key: "phone.record_max_length", typ: kInt, env: "TWIN_PHONE_RECORD_MAX_LENGTH",
		apply:   func(cfg *Config, v any) { cfg.Phone.RecordMaxLength = v.(int) },
		extract: func(cfg Config) any { return cfg.Phone.RecordMaxLength },
	},
	{
		key: "feed.url", typ: kString, env: "TWIN_FEED_URL",
		apply:   func(cfg *Config, v any) { cfg.Feed.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Feed.URL },
	},
	{
		key: "feed.token", typ: kString, env: "TWIN_FEED_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Feed.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Feed.Token },
	},
	{
		key: "feed.sync_interval", typ: kDuration, env: "TWIN_FEED_SYNC_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Feed.SyncInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Feed.SyncInterval },
	},
}

// parseValue converts a raw string into the Go type of the key.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kString:
		return raw, nil
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	}
	return nil, fmt.Errorf("unsupported key type %d", typ)
}

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	}
	return "string"
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		v, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (v == "" && s.typ != kString) {
			continue
		}
		parsed, err := parseValue(s.typ, v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", s.typ, s.key, v, err)
			continue
		}
		s.apply(cfg, parsed)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		parsed, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typ, s.env, raw, err)
			continue
		}
		s.apply(cfg, parsed)
	}
}
