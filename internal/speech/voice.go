package speech

// Voice selects a provider voice and model for one language.
type Voice struct {
	Language string
	VoiceID  string
	Model    string
}

// BuiltinSay instructs the telephony platform to speak text with its own
// voice. It is always playable.
type BuiltinSay struct {
	Text     string `json:"text"`
	Voice    string `json:"voice"`
	Language string `json:"language"`
}

// Provider model names.
const (
	ElevenLabsMonolingual  = "eleven_turbo_v2"
	ElevenLabsMultilingual = "eleven_multilingual_v2"
	CartesiaMonolingual    = "sonic-english"
	CartesiaMultilingual   = "sonic-multilingual"
)

const (
	providerElevenLabs = "elevenlabs"
	providerCartesia   = "cartesia"

	// monolingualModelLanguage is the only language the monolingual models
	// speak.
	monolingualModelLanguage = "en"
)

type builtinVoice struct {
	voice    string
	language string
}

var builtinVoices = map[string]builtinVoice{
	"en": {"Polly.Joanna", "en-US"},
	"es": {"Polly.Lupe", "es-US"},
	"fr": {"Polly.Lea", "fr-FR"},
	"de": {"Polly.Vicki", "de-DE"},
	"pt": {"Polly.Camila", "pt-BR"},
	"it": {"Polly.Bianca", "it-IT"},
}

// Catalog maps languages to provider voices. Each language can carry its
// own cloned voice per provider; VoiceIDs is the provider default used when
// a language has none.
type Catalog struct {
	Primary        string
	VoiceIDs       map[string]string            // provider name -> default voice id
	LanguageVoices map[string]map[string]string // provider name -> language -> voice id
}

func (c Catalog) voiceID(provider, lang string) string {
	if id := c.LanguageVoices[provider][lang]; id != "" {
		return id
	}
	return c.VoiceIDs[provider]
}

// Missing lists the languages that fall back to provider's default voice.
func (c Catalog) Missing(provider string, languages []string) []string {
	var out []string
	for _, lang := range languages {
		if c.LanguageVoices[provider][lang] == "" {
			out = append(out, lang)
		}
	}
	return out
}

// Voice returns the voice provider should use for lang. The primary
// language gets the low-latency monolingual model when that model covers it;
// every other language gets the multilingual model.
func (c Catalog) Voice(provider, lang string) Voice {
	mono := lang == c.Primary && lang == monolingualModelLanguage
	v := Voice{Language: lang, VoiceID: c.voiceID(provider, lang)}
	switch provider {
	case providerElevenLabs:
		v.Model = ElevenLabsMultilingual
		if mono {
			v.Model = ElevenLabsMonolingual
		}
	case providerCartesia:
		v.Model = CartesiaMultilingual
		if mono {
			v.Model = CartesiaMonolingual
		}
	}
	return v
}

// Builtin returns the platform voice instruction for text in lang, falling
// back to English for languages without a configured voice.
func Builtin(text, lang string) *BuiltinSay {
	bv, ok := builtinVoices[lang]
	if !ok {
		bv = builtinVoices["en"]
	}
	return &BuiltinSay{Text: text, Voice: bv.voice, Language: bv.language}
}
