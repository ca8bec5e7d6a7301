package transcribe

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kalambet/twin/internal/cache"
	"github.com/kalambet/twin/internal/langdetect"
)

// Config tunes the Service.
type Config struct {
	MinAudioBytes int
	MinConfidence float64
}

// Result is the outcome of Service.Transcribe. Empty is the failure signal.
type Result struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
	Provider   string  `json:"provider"`
	Cached     bool    `json:"-"`
	Empty      bool    `json:"-"`
	Warning    string  `json:"-"`
}

// relatives maps languages without a supported voice to the closest
// supported language.
var relatives = map[string]string{
	"ca":  "es",
	"gl":  "es",
	"eu":  "es",
	"ast": "es",
	"an":  "es",
	"oc":  "fr",
	"wa":  "fr",
	"br":  "fr",
	"co":  "it",
	"sc":  "it",
	"nap": "it",
	"scn": "it",
	"vec": "it",
	"gsw": "de",
	"lb":  "de",
	"nds": "de",
	"mwl": "pt",
	"sco": "en",
}

// ClosestSupported maps lang to itself when supported, to its closest
// supported relative otherwise, or to "" when there is none.
func ClosestSupported(lang string) string {
	lang = langdetect.Normalize(lang)
	if langdetect.IsSupported(lang) {
		return lang
	}
	return relatives[lang]
}

// Service is the transcription entry point used by the turn pipeline.
type Service struct {
	chain    *Chain
	cache    *cache.Layer
	detector langdetect.Detector
	cfg      Config
}

// NewService wires the ranked chain, transcript cache, and the language
// detector used to confirm remapped languages. layer may be nil.
func NewService(chain *Chain, layer *cache.Layer, detector langdetect.Detector, cfg Config) *Service {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.6
	}
	return &Service{chain: chain, cache: layer, detector: detector, cfg: cfg}
}

// Transcribe never fails: an Empty result with a Warning signals that the
// caller should be re-prompted.
func (s *Service) Transcribe(ctx context.Context, a Audio) Result {
	if err := a.Check(s.cfg.MinAudioBytes); err != nil {
		return Result{Empty: true, Warning: ErrAudioTooShort.Error()}
	}

	key := cache.TranscriptKey(a.Ref())
	var cached Result
	if s.cache.GetJSON(ctx, cache.CategoryTranscript, key, &cached) && cached.Text != "" {
		cached.Cached = true
		return cached
	}

	start := time.Now()
	tr, err := s.chain.Transcribe(ctx, a, Options{DetectLanguage: true}, s.cfg.MinConfidence)
	if err != nil {
		if !errors.Is(err, ErrNoTranscript) {
			slog.Warn("transcription failed", "error", err)
			return Result{Empty: true, Warning: "transcription failed"}
		}
		return Result{Empty: true, Warning: "no speech detected"}
	}

	res := Result{
		Text:       tr.Text,
		Language:   langdetect.Normalize(tr.Language),
		Confidence: tr.Confidence,
		Provider:   tr.Provider,
	}
	if res.Language != "" && !langdetect.IsSupported(res.Language) {
		res = s.remap(ctx, a, res)
	}
	if res.Language == "" && s.detector != nil {
		res.Language = s.detector.Detect(res.Text).Language
	}

	res.Text = CleanFillers(res.Text)
	if res.Text == "" {
		return Result{Empty: true, Warning: "no speech detected"}
	}

	slog.Debug("transcribed", "provider", res.Provider, "language", res.Language,
		"confidence", res.Confidence, "duration", time.Since(start))
	s.cache.SetJSON(ctx, cache.CategoryTranscript, key, res)
	return res
}

// remap re-transcribes audio in an unsupported language with its closest
// supported relative and lets the text detector confirm the final language.
func (s *Service) remap(ctx context.Context, a Audio, res Result) Result {
	original := res.Language
	relative := ClosestSupported(original)
	if relative == "" {
		res.Warning = "unsupported language " + original
		res.Language = ""
		return res
	}

	tr, err := s.chain.Transcribe(ctx, a, Options{LanguageHint: relative}, s.cfg.MinConfidence)
	if err == nil && tr.Text != "" {
		res.Text, res.Confidence, res.Provider = tr.Text, tr.Confidence, tr.Provider
	} else if err != nil {
		slog.Warn("re-transcription with related language failed", "from", original, "to", relative, "error", err)
	}

	res.Language = relative
	if s.detector != nil {
		d := s.detector.Detect(res.Text)
		if d.Confidence >= s.cfg.MinConfidence && langdetect.IsSupported(d.Language) {
			res.Language = d.Language
		}
	}
	res.Warning = "language " + original + " mapped to " + res.Language
	return res
}
