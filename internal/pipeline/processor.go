// Package pipeline runs one conversational turn end to end: transcription,
// language resolution, decision, retrieval, reply generation, speech and
// the session append. Every stage is bounded and every failure degrades
// into a valid reply.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/twin/internal/cache"
	"github.com/kalambet/twin/internal/decision"
	"github.com/kalambet/twin/internal/langdetect"
	"github.com/kalambet/twin/internal/metrics"
	"github.com/kalambet/twin/internal/responder"
	"github.com/kalambet/twin/internal/retrieval"
	"github.com/kalambet/twin/internal/session"
	"github.com/kalambet/twin/internal/speech"
	"github.com/kalambet/twin/internal/transcribe"
)

// maxTextRunes bounds a single utterance.
const maxTextRunes = 4000

var (
	errLowConfidence = errors.New("decision below clarify threshold")
	errNoKnowledge   = errors.New("no knowledge matched")
	errDegradedReply = errors.New("reply generation degraded")
	errBuiltinVoice  = errors.New("no voice provider available")
)

// Request is one user utterance. Exactly one of Text and Audio is used;
// Audio wins when both are set.
type Request struct {
	SessionID      string            `json:"sessionId"`
	Channel        session.Channel   `json:"channel"`
	Identity       string            `json:"identity,omitempty"`
	Text           string            `json:"text,omitempty"`
	Audio          *transcribe.Audio `json:"-"`
	WantAudio      bool              `json:"wantAudio,omitempty"`
	IdempotencyKey string            `json:"-"`
	// History seeds a new session with turns the client already holds.
	History []session.Turn `json:"history,omitempty"`
}

func (r Request) validate() error {
	switch {
	case strings.TrimSpace(r.SessionID) == "":
		return errors.New("session id is required")
	case r.Channel != session.ChannelPhone && r.Channel != session.ChannelChat:
		return fmt.Errorf("unknown channel %q", r.Channel)
	case r.Audio == nil && strings.TrimSpace(r.Text) == "":
		return errors.New("text or audio is required")
	case len([]rune(r.Text)) > maxTextRunes:
		return fmt.Errorf("text longer than %d characters", maxTextRunes)
	}
	return nil
}

// Result is the outcome of a turn.
type Result struct {
	SessionID string            `json:"sessionId"`
	Utterance string            `json:"utterance,omitempty"`
	Reply     string            `json:"reply"`
	Language  string            `json:"language"`
	Decision  decision.Decision `json:"decision"`
	Audio     *speech.Audio     `json:"audio,omitempty"`
	Reprompt  bool              `json:"reprompt,omitempty"`
	Cached    bool              `json:"cached,omitempty"`
	Replayed  bool              `json:"replayed,omitempty"`
	Failures  []FailureKind     `json:"failures,omitempty"`
	TurnIndex int               `json:"turnIndex"`
	LatencyMs int64             `json:"latencyMs"`
}

func (r *Result) fail(kind FailureKind) {
	if kind == "" {
		return
	}
	for _, k := range r.Failures {
		if k == kind {
			return
		}
	}
	r.Failures = append(r.Failures, kind)
}

// HasFailure reports whether kind was observed during the turn.
func (r Result) HasFailure(kind FailureKind) bool {
	for _, k := range r.Failures {
		if k == kind {
			return true
		}
	}
	return false
}

// Transcriber turns audio into text. An Empty result means nothing usable
// was heard.
type Transcriber interface {
	Transcribe(ctx context.Context, a transcribe.Audio) transcribe.Result
}

type Decider interface {
	Decide(ctx context.Context, text string, sess *session.Session) decision.Decision
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, d decision.Decision, sess *session.Session) retrieval.Result
}

type Responder interface {
	Respond(ctx context.Context, text string, d decision.Decision, chunks []retrieval.KnowledgeChunk, sess *session.Session) responder.Reply
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) speech.Audio
}

// Deps are the collaborators of a Processor. Transcriber, Speech, Cache,
// Replay and Metrics may be nil.
type Deps struct {
	Sessions    session.Store
	Transcriber Transcriber
	Detector    langdetect.Detector
	Decider     Decider
	Retriever   Retriever
	Responder   Responder
	Speech      Synthesizer
	Cache       *cache.Layer
	Replay      ReplayStore
	Metrics     *metrics.Metrics
}

// Config bounds the turn and its stages.
type Config struct {
	TurnTimeout       time.Duration
	TranscribeTimeout time.Duration
	DecideTimeout     time.Duration
	RetrieveTimeout   time.Duration
	GenerateTimeout   time.Duration
	SynthesizeTimeout time.Duration
	PrimaryLanguage   string
	SwitchThreshold   float64
}

func (c Config) withDefaults() Config {
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = 11 * time.Second
	}
	if c.TranscribeTimeout <= 0 {
		c.TranscribeTimeout = 4 * time.Second
	}
	if c.DecideTimeout <= 0 {
		c.DecideTimeout = 2 * time.Second
	}
	if c.RetrieveTimeout <= 0 {
		c.RetrieveTimeout = 2500 * time.Millisecond
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = 5 * time.Second
	}
	if c.SynthesizeTimeout <= 0 {
		c.SynthesizeTimeout = 4 * time.Second
	}
	if c.PrimaryLanguage == "" {
		c.PrimaryLanguage = "en"
	}
	if c.SwitchThreshold <= 0 {
		c.SwitchThreshold = 0.7
	}
	return c
}

// Processor runs turns. Turns of one session run one at a time; turns of
// different sessions run concurrently.
type Processor struct {
	deps  Deps
	cfg   Config
	locks session.Locks
	now   func() time.Time
}

func New(deps Deps, cfg Config) *Processor {
	return &Processor{deps: deps, cfg: cfg.withDefaults(), now: time.Now}
}

// PrimaryLanguage is the language of new sessions.
func (p *Processor) PrimaryLanguage() string {
	return p.cfg.PrimaryLanguage
}

// Process runs one turn. It always returns a reply.
func (p *Processor) Process(ctx context.Context, req Request) Result {
	start := p.now()
	ctx, cancel := context.WithTimeout(ctx, p.cfg.TurnTimeout)
	defer cancel()
	// Session writes and replay records outlive an exhausted turn budget.
	persist := context.WithoutCancel(ctx)

	res := Result{SessionID: req.SessionID, Language: p.cfg.PrimaryLanguage}
	if err := req.validate(); err != nil {
		slog.Warn("turn rejected", "session", req.SessionID, "channel", req.Channel, "error", err)
		res.fail(KindInput)
		p.reprompt(ctx, req, &res)
		p.finish(persist, req, &res, start)
		return res
	}

	unlock := p.locks.Lock(req.SessionID)
	defer unlock()

	if req.IdempotencyKey != "" {
		if prev, ok := p.replay(ctx, req.IdempotencyKey); ok {
			return prev
		}
	}

	sess, durable := p.loadSession(ctx, req)
	res.Language = sess.CurrentLanguage

	text := strings.TrimSpace(req.Text)
	var tr transcribe.Result
	var audioRef string
	if req.Audio != nil {
		audioRef = req.Audio.Ref()
		st := runStage(ctx, stageTranscribe, p.cfg.TranscribeTimeout, p.deps.Metrics, func(ctx context.Context) (transcribe.Result, error) {
			if p.deps.Transcriber == nil {
				return transcribe.Result{Empty: true}, errors.New("transcription not configured")
			}
			r := p.deps.Transcriber.Transcribe(ctx, *req.Audio)
			if r.Empty {
				return r, fail(KindTranscription, errors.New(r.Warning))
			}
			return r, nil
		})
		res.fail(st.Kind)
		tr = st.Value
		text = strings.TrimSpace(tr.Text)
	}
	if text == "" {
		// Nothing heard: ask again without touching the session.
		p.reprompt(ctx, req, &res)
		p.finish(persist, req, &res, start)
		return res
	}
	res.Utterance = text

	detected, confidence := p.detectLanguage(text, tr)
	replyLang, prevLang, _ := session.NextLanguage(sess.CurrentLanguage, sess.PreviousLanguage, detected, confidence, p.cfg.SwitchThreshold)
	view := *sess
	view.CurrentLanguage, view.PreviousLanguage = replyLang, prevLang
	res.Language = replyLang

	res.Decision = p.decide(ctx, text, &view, &res)
	d := res.Decision

	cacheable := d.Kind == decision.KindDirect ||
		(d.Kind == decision.KindSearch && d.Pattern != decision.PatternToolEnhanced)
	category := cache.CategoryResponse
	if d.IsGreeting() {
		category = cache.CategoryGreeting
	}
	cacheKey := cache.ResponseKey(text, string(req.Channel), replyLang)

	var reply responder.Reply
	var retrieved retrieval.Result
	if cacheable {
		v, err := p.deps.Cache.Lookup(ctx, category, cacheKey)
		switch {
		case err == nil:
			reply = responder.Reply{Text: string(v)}
			res.Cached = true
		case !errors.Is(err, cache.ErrMiss):
			res.fail(KindCache)
		}
	}

	if !res.Cached {
		if d.Kind == decision.KindSearch {
			retrieved = p.retrieve(ctx, text, d, &view, &res)
		}
		reply = p.respond(ctx, text, d, retrieved.Chunks, &view, &res)
		if cacheable && !reply.Degraded {
			if err := p.deps.Cache.Store(ctx, category, cacheKey, []byte(reply.Text)); err != nil {
				res.fail(KindCache)
			}
		}
	}
	res.Reply = reply.Text

	if req.WantAudio {
		res.Audio = p.synthesize(ctx, reply.Text, replyLang, &res)
	}

	if durable {
		user, assistant := p.turns(req, res, tr, detected, confidence, audioRef, retrieved, start)
		updated, err := p.deps.Sessions.Append(persist, sess.ID, user, assistant)
		if err != nil {
			slog.Error("appending turn failed", "session", sess.ID, "error", err)
			res.TurnIndex = sess.TurnCount + 1
		} else {
			res.TurnIndex = updated.TurnCount - 1
		}
	} else {
		res.TurnIndex = sess.TurnCount + 1
	}

	p.finish(persist, req, &res, start)
	return res
}

// loadSession returns the session and whether it is backed by the store.
// When the store fails the turn continues on a transient session.
func (p *Processor) loadSession(ctx context.Context, req Request) (*session.Session, bool) {
	sess, err := p.deps.Sessions.Load(ctx, req.SessionID, req.Channel, req.Identity)
	if err != nil {
		slog.Error("loading session failed, continuing without history", "session", req.SessionID, "error", err)
		return &session.Session{
			ID:              req.SessionID,
			Channel:         req.Channel,
			Identity:        req.Identity,
			CurrentLanguage: p.cfg.PrimaryLanguage,
		}, false
	}
	if sess.TurnCount == 0 && len(req.History) > 0 {
		seed := make([]session.Turn, 0, len(req.History))
		for _, t := range req.History {
			if t.Text == "" || (t.Role != session.RoleUser && t.Role != session.RoleAssistant) {
				continue
			}
			seed = append(seed, session.Turn{
				Role:               t.Role,
				Text:               t.Text,
				DetectedLanguage:   t.DetectedLanguage,
				LanguageConfidence: t.LanguageConfidence,
				Timestamp:          t.Timestamp,
			})
		}
		if len(seed) > 0 {
			seeded, err := p.deps.Sessions.Append(ctx, req.SessionID, seed...)
			if err != nil {
				slog.Warn("seeding session history failed", "session", req.SessionID, "error", err)
			} else {
				sess = seeded
			}
		}
	}
	return sess, true
}

// detectLanguage prefers the transcription provider's language, confirmed
// by the text detector when both agree.
func (p *Processor) detectLanguage(text string, tr transcribe.Result) (string, float64) {
	var det langdetect.Detection
	if p.deps.Detector != nil {
		det = p.deps.Detector.Detect(text)
	}
	if tr.Language == "" {
		return det.Language, det.Confidence
	}
	conf := tr.Confidence
	if det.Language == tr.Language && det.Confidence > conf {
		conf = det.Confidence
	}
	return tr.Language, conf
}

func (p *Processor) decide(ctx context.Context, text string, view *session.Session, res *Result) decision.Decision {
	st := runStage(ctx, stageDecide, p.cfg.DecideTimeout, p.deps.Metrics, func(ctx context.Context) (decision.Decision, error) {
		d := p.deps.Decider.Decide(ctx, text, view)
		if d.LowConfidence {
			return d, fail(KindLowConfidence, errLowConfidence)
		}
		return d, nil
	})
	res.fail(st.Kind)
	if st.Value.Kind == "" {
		slog.Warn("decision stage failed, asking to clarify", "error", st.Err)
		return decision.Decision{Kind: decision.KindClarify, Reason: decision.ReasonLowConfidence, LowConfidence: true}
	}
	return st.Value
}

func (p *Processor) retrieve(ctx context.Context, text string, d decision.Decision, view *session.Session, res *Result) retrieval.Result {
	st := runStage(ctx, stageRetrieve, p.cfg.RetrieveTimeout, p.deps.Metrics, func(ctx context.Context) (retrieval.Result, error) {
		r := p.deps.Retriever.Retrieve(ctx, text, d, view)
		if len(r.Chunks) == 0 {
			return r, fail(KindRetrievalEmpty, errNoKnowledge)
		}
		return r, nil
	})
	res.fail(st.Kind)
	return st.Value
}

func (p *Processor) respond(ctx context.Context, text string, d decision.Decision, chunks []retrieval.KnowledgeChunk, view *session.Session, res *Result) responder.Reply {
	st := runStage(ctx, stageGenerate, p.cfg.GenerateTimeout, p.deps.Metrics, func(ctx context.Context) (responder.Reply, error) {
		r := p.deps.Responder.Respond(ctx, text, d, chunks, view)
		if r.Degraded {
			return r, fail(KindGeneration, errDegradedReply)
		}
		return r, nil
	})
	res.fail(st.Kind)
	if strings.TrimSpace(st.Value.Text) == "" {
		return responder.Reply{Text: responder.Apology(view.CurrentLanguage), Degraded: true}
	}
	return st.Value
}

func (p *Processor) synthesize(ctx context.Context, text, lang string, res *Result) *speech.Audio {
	st := runStage(ctx, stageSynthesize, p.cfg.SynthesizeTimeout, p.deps.Metrics, func(ctx context.Context) (speech.Audio, error) {
		if p.deps.Speech == nil {
			return speech.Audio{}, errBuiltinVoice
		}
		a := p.deps.Speech.Synthesize(ctx, text, lang)
		if a.Provider == speech.ProviderBuiltin {
			return a, fail(KindSynthesis, errBuiltinVoice)
		}
		return a, nil
	})
	res.fail(st.Kind)
	a := st.Value
	if !a.Playable() {
		a = speech.Audio{Provider: speech.ProviderBuiltin, Say: speech.Builtin(text, lang)}
	}
	return &a
}

func (p *Processor) reprompt(ctx context.Context, req Request, res *Result) {
	res.Reprompt = true
	res.Reply = Reprompt(res.Language)
	if req.WantAudio {
		res.Audio = p.synthesize(ctx, res.Reply, res.Language, res)
	}
}

func (p *Processor) turns(req Request, res Result, tr transcribe.Result, detected string, confidence float64, audioRef string, retrieved retrieval.Result, start time.Time) (session.Turn, session.Turn) {
	d := res.Decision
	user := session.Turn{
		Role:               session.RoleUser,
		Text:               res.Utterance,
		DetectedLanguage:   detected,
		LanguageConfidence: confidence,
		SourceAudioRef:     audioRef,
		Metadata: map[string]string{
			session.MetaDecision:   string(d.Kind),
			session.MetaConfidence: strconv.FormatFloat(d.Confidence, 'f', 2, 64),
		},
	}
	if tr.Provider != "" {
		user.Metadata[session.MetaProvider] = tr.Provider
	}

	assistant := session.Turn{
		Role:             session.RoleAssistant,
		Text:             res.Reply,
		DetectedLanguage: res.Language,
		LatencyMs:        p.now().Sub(start).Milliseconds(),
		Metadata:         map[string]string{},
	}
	if d.Kind == decision.KindSearch {
		assistant.RAGPattern = string(d.Pattern)
	}
	if retrieved.CrossLanguage != retrieval.CrossNone {
		assistant.Metadata[session.MetaCrossLanguage] = string(retrieved.CrossLanguage)
	}
	if len(res.Failures) > 0 {
		kinds := make([]string, len(res.Failures))
		for i, k := range res.Failures {
			kinds[i] = string(k)
		}
		assistant.Metadata[session.MetaFailures] = strings.Join(kinds, ",")
	}
	if res.Audio != nil {
		assistant.Metadata[session.MetaProvider] = res.Audio.Provider
	}
	return user, assistant
}

func (p *Processor) replay(ctx context.Context, key string) (Result, bool) {
	if p.deps.Replay == nil {
		return Result{}, false
	}
	raw, err := p.deps.Replay.GetReplay(ctx, key)
	if err != nil {
		if !isUnseen(err) {
			slog.Warn("replay lookup failed", "key", key, "error", err)
		}
		return Result{}, false
	}
	var prev Result
	if err := json.Unmarshal(raw, &prev); err != nil {
		slog.Warn("replay record not decodable", "key", key, "error", err)
		return Result{}, false
	}
	prev.Replayed = true
	return prev, true
}

func (p *Processor) finish(ctx context.Context, req Request, res *Result, start time.Time) {
	elapsed := p.now().Sub(start)
	res.LatencyMs = elapsed.Milliseconds()

	if req.IdempotencyKey != "" && p.deps.Replay != nil {
		if raw, err := json.Marshal(res); err == nil {
			if err := p.deps.Replay.PutReplay(ctx, req.IdempotencyKey, req.SessionID, raw); err != nil {
				slog.Warn("storing replay record failed", "key", req.IdempotencyKey, "error", err)
			}
		}
	}

	m := p.deps.Metrics
	m.RecordTurn(string(req.Channel), string(res.Decision.Kind), string(res.Decision.Pattern), elapsed)
	kinds := make([]string, len(res.Failures))
	for i, k := range res.Failures {
		m.RecordFailure(string(k))
		kinds[i] = string(k)
	}

	slog.Info("turn complete",
		"session", res.SessionID,
		"channel", req.Channel,
		"decision", res.Decision.Kind,
		"pattern", res.Decision.Pattern,
		"language", res.Language,
		"cached", res.Cached,
		"reprompt", res.Reprompt,
		"failures", kinds,
		"latency_ms", res.LatencyMs,
	)
}
