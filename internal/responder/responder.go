// Package responder writes the twin's reply for a turn.
package responder

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/twin/internal/decision"
	"github.com/kalambet/twin/internal/generate"
	"github.com/kalambet/twin/internal/metrics"
	"github.com/kalambet/twin/internal/retrieval"
	"github.com/kalambet/twin/internal/session"
)

// PersonaSource supplies the persona description for the system prompt.
type PersonaSource interface {
	GetSummary() (string, error)
}

// Reply is the generated answer. Degraded replies are the fixed apology and
// must not be cached.
type Reply struct {
	Text     string
	Degraded bool
}

var apologies = map[string]string{
	"en": "I'm having trouble answering that — could you try again?",
	"es": "Estoy teniendo problemas para responder eso. ¿Podrías intentarlo de nuevo?",
	"fr": "J'ai du mal à répondre à cela. Pourrais-tu réessayer ?",
	"de": "Ich habe gerade Probleme, darauf zu antworten. Kannst du es noch einmal versuchen?",
	"pt": "Estou com dificuldade para responder isso. Pode tentar de novo?",
	"it": "Ho qualche difficoltà a rispondere. Puoi riprovare?",
}

// Apology returns the fixed apology in lang, falling back to English.
func Apology(lang string) string {
	if a, ok := apologies[lang]; ok {
		return a
	}
	return apologies["en"]
}

// Config tunes the responder.
type Config struct {
	HistoryTurns       int
	MaxTokens          int
	Temperature        float64
	MaxKnowledgeTokens int
}

type Responder struct {
	gen     generate.Generator
	persona PersonaSource
	cfg     Config
	metrics *metrics.Metrics
}

func New(gen generate.Generator, persona PersonaSource, cfg Config, m *metrics.Metrics) *Responder {
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 10
	}
	if cfg.MaxKnowledgeTokens <= 0 {
		cfg.MaxKnowledgeTokens = 1500
	}
	return &Responder{gen: gen, persona: persona, cfg: cfg, metrics: m}
}

// Respond generates the reply in the session's current language. It never
// fails: provider errors, timeouts, and empty output yield the apology with
// Degraded set.
func (r *Responder) Respond(ctx context.Context, text string, d decision.Decision, chunks []retrieval.KnowledgeChunk, sess *session.Session) Reply {
	lang := "en"
	channel := session.ChannelChat
	if sess != nil {
		if sess.CurrentLanguage != "" {
			lang = sess.CurrentLanguage
		}
		channel = sess.Channel
	}

	summary, err := r.persona.GetSummary()
	if err != nil {
		slog.Warn("persona unavailable, continuing without it", "error", err)
	}

	req := generate.Request{
		System: BuildSystemPrompt(PromptInput{
			Persona:            summary,
			Channel:            channel,
			Language:           lang,
			Decision:           d,
			Chunks:             chunks,
			MaxKnowledgeTokens: r.cfg.MaxKnowledgeTokens,
		}),
		Messages:    history(sess.Recent(r.cfg.HistoryTurns), text),
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.Temperature,
	}

	start := time.Now()
	out, err := r.gen.Generate(ctx, req)
	if err == nil {
		out = strings.TrimSpace(out)
		if channel == session.ChannelPhone {
			out = ForPhone(out)
		}
		if out == "" {
			err = generate.ErrEmptyOutput
		}
	}
	if err != nil {
		r.metrics.RecordProvider("generate", r.gen.Name(), "error")
		slog.Warn("generation failed, replying with apology",
			"provider", r.gen.Name(), "language", lang, "error", err, "elapsed", time.Since(start))
		return Reply{Text: Apology(lang), Degraded: true}
	}
	r.metrics.RecordProvider("generate", r.gen.Name(), "ok")
	return Reply{Text: out}
}

func history(turns []session.Turn, text string) []generate.Message {
	msgs := make([]generate.Message, 0, len(turns)+1)
	for _, t := range turns {
		role := "user"
		if t.Role == session.RoleAssistant {
			role = "assistant"
		}
		msgs = append(msgs, generate.Message{Role: role, Content: t.Text})
	}
	return append(msgs, generate.Message{Role: "user", Content: text})
}
