package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/twin/internal/breaker"
	"github.com/kalambet/twin/internal/cache"
	"github.com/kalambet/twin/internal/decision"
	"github.com/kalambet/twin/internal/generate"
	"github.com/kalambet/twin/internal/langdetect"
	"github.com/kalambet/twin/internal/responder"
	"github.com/kalambet/twin/internal/retrieval"
	"github.com/kalambet/twin/internal/session"
	"github.com/kalambet/twin/internal/speech"
	"github.com/kalambet/twin/internal/storage"
	"github.com/kalambet/twin/internal/transcribe"
)

// --- mocks ---

type fakeGenerator struct {
	calls atomic.Int32
	mu    sync.Mutex
	last  generate.Request
	fn    func(ctx context.Context, req generate.Request) (string, error)
}

func (g *fakeGenerator) Name() string { return "fake" }

func (g *fakeGenerator) Generate(ctx context.Context, req generate.Request) (string, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.last = req
	g.mu.Unlock()
	return g.fn(ctx, req)
}

func (g *fakeGenerator) lastSystem() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last.System
}

func replyWith(text string) *fakeGenerator {
	return &fakeGenerator{fn: func(context.Context, generate.Request) (string, error) { return text, nil }}
}

type personaFunc func() (string, error)

func (f personaFunc) GetSummary() (string, error) { return f() }

var testPersona = personaFunc(func() (string, error) {
	return "You are Ana Torres, a backend engineer in Lisbon.", nil
})

type retrieverFunc func(ctx context.Context, query string, d decision.Decision, sess *session.Session) retrieval.Result

func (f retrieverFunc) Retrieve(ctx context.Context, query string, d decision.Decision, sess *session.Session) retrieval.Result {
	return f(ctx, query, d, sess)
}

type deciderFunc func(ctx context.Context, text string, sess *session.Session) decision.Decision

func (f deciderFunc) Decide(ctx context.Context, text string, sess *session.Session) decision.Decision {
	return f(ctx, text, sess)
}

type transcriberFunc func(ctx context.Context, a transcribe.Audio) transcribe.Result

func (f transcriberFunc) Transcribe(ctx context.Context, a transcribe.Audio) transcribe.Result {
	return f(ctx, a)
}

type synthFunc func(ctx context.Context, text, lang string) speech.Audio

func (f synthFunc) Synthesize(ctx context.Context, text, lang string) speech.Audio {
	return f(ctx, text, lang)
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("redis: connection refused")
}
func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("redis: connection refused")
}
func (brokenCache) Delete(context.Context, string) error { return nil }

func oneChunk(context.Context, string, decision.Decision, *session.Session) retrieval.Result {
	return retrieval.Result{Chunks: []retrieval.KnowledgeChunk{
		{ID: "c1", SourceType: "doc", Text: "Ana spent six years on payment systems.", Language: "en", Score: 0.9},
	}}
}

type harness struct {
	store    *storage.Store
	sessions *session.SQLStore
	gen      *fakeGenerator
	deps     Deps
	cfg      Config
}

func newHarness(t *testing.T, gen *fakeGenerator) *harness {
	t.Helper()
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sessions := session.NewSQLStore(st, session.Options{PrimaryLanguage: "en", SwitchThreshold: 0.7})
	h := &harness{store: st, sessions: sessions, gen: gen}
	h.deps = Deps{
		Sessions:  sessions,
		Detector:  langdetect.NewHeuristic(),
		Decider:   decision.NewEngine(decision.Config{}, nil, nil, nil),
		Retriever: retrieverFunc(oneChunk),
		Responder: responder.New(gen, testPersona, responder.Config{}, nil),
		Cache:     cache.NewLayer(cache.NewMemoryBackend(), nil, time.Second, nil),
		Replay:    NewSQLReplay(st),
	}
	h.cfg = Config{PrimaryLanguage: "en"}
	return h
}

func (h *harness) processor() *Processor {
	return New(h.deps, h.cfg)
}

func (h *harness) session(t *testing.T, id string) *session.Session {
	t.Helper()
	s, err := h.sessions.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	return s
}

func chatTurn(sessionID, text string) Request {
	return Request{SessionID: sessionID, Channel: session.ChannelChat, Text: text}
}

// --- scenarios ---

func TestScenarioA_PhoneGreetingServedFromCache(t *testing.T) {
	h := newHarness(t, replyWith("Hi! Good to hear from you."))
	p := h.processor()
	req := Request{SessionID: "CA100", Channel: session.ChannelPhone, Identity: "+15550001", Text: "hello"}

	first := p.Process(context.Background(), req)
	if first.Decision.Kind != decision.KindDirect {
		t.Fatalf("decision = %+v, want DIRECT", first.Decision)
	}
	if first.Cached || first.Reply == "" {
		t.Errorf("first = %+v", first)
	}

	second := p.Process(context.Background(), req)
	if !second.Cached || second.Reply != first.Reply {
		t.Errorf("second = %+v, want cached copy of %q", second, first.Reply)
	}
	if n := h.gen.calls.Load(); n != 1 {
		t.Errorf("generator called %d times, want 1", n)
	}

	sess := h.session(t, "CA100")
	if sess.TurnCount != 4 || len(sess.History) != 4 {
		t.Errorf("TurnCount = %d, len(History) = %d, want 4", sess.TurnCount, len(sess.History))
	}
	if second.TurnIndex != 3 {
		t.Errorf("TurnIndex = %d, want 3", second.TurnIndex)
	}
}

func TestScenarioB_CompoundQuestionSearches(t *testing.T) {
	h := newHarness(t, replyWith("I spent years on Java and moved to Python later."))
	var gotPattern decision.Pattern
	h.deps.Retriever = retrieverFunc(func(ctx context.Context, q string, d decision.Decision, s *session.Session) retrieval.Result {
		gotPattern = d.Pattern
		return oneChunk(ctx, q, d, s)
	})

	res := h.processor().Process(context.Background(), chatTurn("chat-b", "Tell me about your experience and compare Python vs Java"))
	if res.Decision.Kind == decision.KindDirect {
		t.Fatalf("compound question answered DIRECT")
	}
	if res.Decision.Pattern != decision.PatternMultiHop && res.Decision.Pattern != decision.PatternHybridSearch {
		t.Errorf("pattern = %q, want multi_hop or hybrid_search", res.Decision.Pattern)
	}
	if gotPattern != res.Decision.Pattern {
		t.Errorf("retriever saw pattern %q", gotPattern)
	}

	sess := h.session(t, "chat-b")
	if sess.History[1].RAGPattern != string(res.Decision.Pattern) {
		t.Errorf("assistant turn RAGPattern = %q", sess.History[1].RAGPattern)
	}
	if sess.History[0].RAGPattern != "" {
		t.Errorf("user turn carries a pattern: %q", sess.History[0].RAGPattern)
	}
}

func TestScenarioC_GenerationTimeoutApologizes(t *testing.T) {
	var stall atomic.Bool
	stall.Store(true)
	gen := &fakeGenerator{fn: func(ctx context.Context, _ generate.Request) (string, error) {
		if stall.Load() {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "I build payment systems.", nil
	}}
	h := newHarness(t, gen)
	h.cfg.GenerateTimeout = 50 * time.Millisecond
	p := h.processor()
	req := chatTurn("chat-c", "What do you work on these days?")

	start := time.Now()
	res := p.Process(context.Background(), req)
	if time.Since(start) > 2*time.Second {
		t.Errorf("turn took %v", time.Since(start))
	}
	if res.Reply != responder.Apology("en") || !res.HasFailure(KindGeneration) {
		t.Errorf("res = %+v, want apology with generation_failure", res)
	}

	stall.Store(false)
	next := p.Process(context.Background(), req)
	if next.Reply != "I build payment systems." || next.Cached {
		t.Errorf("next = %+v, want a fresh reply (apologies are not cached)", next)
	}
	if sess := h.session(t, "chat-c"); sess.TurnCount != 4 {
		t.Errorf("TurnCount = %d, want 4", sess.TurnCount)
	}
}

func TestScenarioD_LanguageSwitchSelectsSpanishVoice(t *testing.T) {
	h := newHarness(t, replyWith("Claro, te cuento."))
	h.deps.Detector = langdetect.DetectorFunc(func(text string) langdetect.Detection {
		if strings.Contains(text, "¿") {
			return langdetect.Detection{Language: "es", Confidence: 0.92}
		}
		return langdetect.Detection{Language: "en", Confidence: 0.9}
	})

	synth := &recordingSynth{}
	catalog := speech.Catalog{
		Primary:        "en",
		VoiceIDs:       map[string]string{"elevenlabs": "ana"},
		LanguageVoices: map[string]map[string]string{"elevenlabs": {"es": "ana-es"}},
	}
	h.deps.Speech = speech.NewService(&memAudioStore{}, nil, catalog, speech.Config{}, breaker.DefaultSettings(), nil, synth)
	p := h.processor()

	for _, text := range []string{"What do you do for work?", "Where did you study computer science?"} {
		res := p.Process(context.Background(), Request{SessionID: "CA200", Channel: session.ChannelPhone, Text: text, WantAudio: true})
		if res.Language != "en" {
			t.Fatalf("turn %q language = %q", text, res.Language)
		}
	}
	enVoice := synth.lastVoice()
	res := p.Process(context.Background(), Request{SessionID: "CA200", Channel: session.ChannelPhone, Text: "¿Y dónde vives ahora mismo?", WantAudio: true})
	if res.Language != "es" {
		t.Fatalf("third turn language = %q, want es", res.Language)
	}
	if res.Audio == nil || res.Audio.URL == "" {
		t.Fatalf("audio = %+v", res.Audio)
	}
	v := synth.lastVoice()
	if v.Language != "es" || v.Model != speech.ElevenLabsMultilingual {
		t.Errorf("voice = %+v, want multilingual es", v)
	}
	if v.VoiceID != "ana-es" || v.VoiceID == enVoice.VoiceID {
		t.Errorf("es voice id = %q, en voice id = %q, want distinct", v.VoiceID, enVoice.VoiceID)
	}

	sess := h.session(t, "CA200")
	if sess.CurrentLanguage != "es" || sess.PreviousLanguage != "en" {
		t.Errorf("languages = %q/%q, want es/en", sess.CurrentLanguage, sess.PreviousLanguage)
	}
	if !strings.Contains(h.gen.lastSystem(), "Spanish") {
		t.Errorf("system prompt does not ask for Spanish:\n%s", h.gen.lastSystem())
	}
}

func TestScenarioE_EmptyRetrievalStillAnswers(t *testing.T) {
	h := newHarness(t, replyWith("I'd rather not guess, but I love building APIs."))
	h.deps.Decider = deciderFunc(func(context.Context, string, *session.Session) decision.Decision {
		return decision.Decision{Kind: decision.KindSearch, Pattern: decision.PatternStandard, Confidence: 0.8}
	})
	h.deps.Retriever = retrieverFunc(func(context.Context, string, decision.Decision, *session.Session) retrieval.Result {
		return retrieval.Result{}
	})

	res := h.processor().Process(context.Background(), chatTurn("chat-e", "What was your first job?"))
	if res.Reply == "" || res.Reply == responder.Apology("en") {
		t.Errorf("reply = %q, want a persona reply", res.Reply)
	}
	if !res.HasFailure(KindRetrievalEmpty) {
		t.Errorf("failures = %v, want retrieval_empty", res.Failures)
	}
	if !strings.Contains(h.gen.lastSystem(), "do not invent specific facts") {
		t.Errorf("persona-only instruction missing:\n%s", h.gen.lastSystem())
	}
}

// --- properties and edge cases ---

func TestShortAudioRepromptsWithoutDeciding(t *testing.T) {
	h := newHarness(t, replyWith("unused"))
	var decided atomic.Int32
	h.deps.Decider = deciderFunc(func(context.Context, string, *session.Session) decision.Decision {
		decided.Add(1)
		return decision.Decision{Kind: decision.KindDirect}
	})
	h.deps.Transcriber = transcriberFunc(func(context.Context, transcribe.Audio) transcribe.Result {
		return transcribe.Result{Empty: true, Warning: transcribe.ErrAudioTooShort.Error()}
	})

	res := h.processor().Process(context.Background(), Request{
		SessionID: "CA300",
		Channel:   session.ChannelPhone,
		Audio:     &transcribe.Audio{Data: make([]byte, 100), ContentType: "audio/wav"},
	})
	if !res.Reprompt || res.Reply != Reprompt("en") {
		t.Errorf("res = %+v, want re-prompt", res)
	}
	if !res.HasFailure(KindTranscription) {
		t.Errorf("failures = %v", res.Failures)
	}
	if decided.Load() != 0 {
		t.Error("decision engine invoked for an empty transcript")
	}
	if sess := h.session(t, "CA300"); sess.TurnCount != 0 {
		t.Errorf("TurnCount = %d, want 0", sess.TurnCount)
	}
}

func TestTranscribedLanguageDrivesReply(t *testing.T) {
	h := newHarness(t, replyWith("Vivo en Lisboa."))
	h.deps.Transcriber = transcriberFunc(func(context.Context, transcribe.Audio) transcribe.Result {
		return transcribe.Result{Text: "¿Dónde vives?", Language: "es", Confidence: 0.88, Provider: "deepgram"}
	})

	res := h.processor().Process(context.Background(), Request{
		SessionID: "CA301",
		Channel:   session.ChannelPhone,
		Audio:     &transcribe.Audio{URL: "https://api.twilio.com/rec/RE1"},
	})
	if res.Language != "es" || res.Utterance != "¿Dónde vives?" {
		t.Errorf("res = %+v", res)
	}
	user := h.session(t, "CA301").History[0]
	if user.SourceAudioRef != "https://api.twilio.com/rec/RE1" || user.Metadata[session.MetaProvider] != "deepgram" {
		t.Errorf("user turn = %+v", user)
	}
}

func TestInvalidRequestReprompts(t *testing.T) {
	h := newHarness(t, replyWith("unused"))
	p := h.processor()

	tests := []struct {
		name string
		req  Request
	}{
		{"no session", Request{Channel: session.ChannelChat, Text: "hi"}},
		{"no input", Request{SessionID: "s", Channel: session.ChannelChat, Text: "   "}},
		{"bad channel", Request{SessionID: "s", Channel: "fax", Text: "hi"}},
		{"too long", Request{SessionID: "s", Channel: session.ChannelChat, Text: strings.Repeat("a", maxTextRunes+1)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := p.Process(context.Background(), tc.req)
			if !res.Reprompt || !res.HasFailure(KindInput) || res.Reply == "" {
				t.Errorf("res = %+v", res)
			}
		})
	}
	if h.gen.calls.Load() != 0 {
		t.Error("generator called for invalid input")
	}
}

func TestIdempotentReplay(t *testing.T) {
	h := newHarness(t, replyWith("I live in Lisbon."))
	p := h.processor()
	req := Request{SessionID: "CA400", Channel: session.ChannelPhone, Text: "Where do you live these days?", IdempotencyKey: "CA400:RE1"}

	first := p.Process(context.Background(), req)
	second := p.Process(context.Background(), req)

	if !second.Replayed || second.Reply != first.Reply || second.TurnIndex != first.TurnIndex {
		t.Errorf("second = %+v, first = %+v", second, first)
	}
	if n := h.gen.calls.Load(); n != 1 {
		t.Errorf("generator called %d times", n)
	}
	if sess := h.session(t, "CA400"); sess.TurnCount != 2 {
		t.Errorf("TurnCount = %d, want 2", sess.TurnCount)
	}
}

func TestCacheFailureIsAMiss(t *testing.T) {
	h := newHarness(t, replyWith("Hello there!"))
	h.deps.Cache = cache.NewLayer(brokenCache{}, nil, 50*time.Millisecond, nil)

	res := h.processor().Process(context.Background(), chatTurn("chat-f", "hello"))
	if res.Reply != "Hello there!" || res.Cached {
		t.Errorf("res = %+v", res)
	}
	if !res.HasFailure(KindCache) {
		t.Errorf("failures = %v, want cache_failure", res.Failures)
	}
}

func TestLiveSearchIsNotCached(t *testing.T) {
	h := newHarness(t, replyWith("This week I shipped the new billing API."))
	h.deps.Decider = deciderFunc(func(context.Context, string, *session.Session) decision.Decision {
		return decision.Decision{Kind: decision.KindSearch, Pattern: decision.PatternToolEnhanced, Confidence: 0.9}
	})
	p := h.processor()

	p.Process(context.Background(), chatTurn("chat-g", "What are you working on right now?"))
	res := p.Process(context.Background(), chatTurn("chat-g", "What are you working on right now?"))
	if res.Cached || h.gen.calls.Load() != 2 {
		t.Errorf("live answer served from cache: %+v", res)
	}
}

func TestClarifyOnLowConfidence(t *testing.T) {
	h := newHarness(t, replyWith("Could you tell me a bit more?"))
	h.deps.Decider = deciderFunc(func(context.Context, string, *session.Session) decision.Decision {
		return decision.Decision{Kind: decision.KindClarify, Reason: decision.ReasonLowConfidence, LowConfidence: true, Confidence: 0.2}
	})

	res := h.processor().Process(context.Background(), chatTurn("chat-h", "the thing from before"))
	if !res.HasFailure(KindLowConfidence) || res.Decision.Kind != decision.KindClarify {
		t.Errorf("res = %+v", res)
	}
	if !strings.Contains(h.gen.lastSystem(), "follow-up question") {
		t.Errorf("clarify strategy missing from prompt")
	}
}

func TestDecisionTimeoutClarifies(t *testing.T) {
	h := newHarness(t, replyWith("Sorry, what do you mean?"))
	h.deps.Decider = deciderFunc(func(ctx context.Context, _ string, _ *session.Session) decision.Decision {
		<-ctx.Done()
		return decision.Decision{}
	})
	h.cfg.DecideTimeout = 30 * time.Millisecond

	res := h.processor().Process(context.Background(), chatTurn("chat-i", "tell me about it"))
	if res.Decision.Kind != decision.KindClarify || !res.HasFailure(KindLowConfidence) {
		t.Errorf("res = %+v", res)
	}
}

func TestSynthesisFallsBackToBuiltinVoice(t *testing.T) {
	h := newHarness(t, replyWith("Hello!"))
	h.deps.Speech = synthFunc(func(_ context.Context, text, lang string) speech.Audio {
		return speech.Audio{Provider: speech.ProviderBuiltin, Say: speech.Builtin(text, lang)}
	})

	res := h.processor().Process(context.Background(), Request{SessionID: "CA500", Channel: session.ChannelPhone, Text: "hello", WantAudio: true})
	if res.Audio == nil || res.Audio.Say == nil || res.Audio.Say.Voice != "Polly.Joanna" {
		t.Fatalf("audio = %+v", res.Audio)
	}
	if !res.HasFailure(KindSynthesis) {
		t.Errorf("failures = %v", res.Failures)
	}
	asst := h.session(t, "CA500").History[1]
	if asst.Metadata[session.MetaProvider] != speech.ProviderBuiltin || !strings.Contains(asst.Metadata[session.MetaFailures], "synthesis_failure") {
		t.Errorf("assistant metadata = %v", asst.Metadata)
	}
}

func TestSynthesisTimeoutStillPlayable(t *testing.T) {
	h := newHarness(t, replyWith("Hello!"))
	h.deps.Speech = synthFunc(func(ctx context.Context, _, _ string) speech.Audio {
		<-ctx.Done()
		return speech.Audio{}
	})
	h.cfg.SynthesizeTimeout = 30 * time.Millisecond

	res := h.processor().Process(context.Background(), Request{SessionID: "CA501", Channel: session.ChannelPhone, Text: "hola", WantAudio: true})
	if res.Audio == nil || !res.Audio.Playable() {
		t.Errorf("audio = %+v, want built-in voice", res.Audio)
	}
}

func TestHistorySeedsNewSession(t *testing.T) {
	h := newHarness(t, replyWith("Yes, still in Lisbon."))
	req := chatTurn("chat-j", "Are you still there?")
	req.History = []session.Turn{
		{Role: session.RoleUser, Text: "Where do you live?"},
		{Role: session.RoleAssistant, Text: "Lisbon."},
		{Role: "system", Text: "ignored"},
	}

	res := h.processor().Process(context.Background(), req)
	if res.TurnIndex != 3 {
		t.Errorf("TurnIndex = %d, want 3", res.TurnIndex)
	}
	sess := h.session(t, "chat-j")
	if sess.TurnCount != 4 || sess.History[0].Text != "Where do you live?" {
		t.Errorf("history = %+v", sess.History)
	}

	// History is only a seed: an existing session ignores it.
	h.processor().Process(context.Background(), req)
	if sess := h.session(t, "chat-j"); sess.TurnCount != 6 {
		t.Errorf("TurnCount = %d, want 6", sess.TurnCount)
	}
}

func TestConcurrentTurnsSameSession(t *testing.T) {
	h := newHarness(t, replyWith("Sure."))
	p := h.processor()

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Process(context.Background(), chatTurn("chat-k", fmt.Sprintf("What did you build in year %d of your career?", i+1)))
		}()
	}
	wg.Wait()

	sess := h.session(t, "chat-k")
	if sess.TurnCount != 12 || len(sess.History) != sess.TurnCount {
		t.Fatalf("TurnCount = %d, len(History) = %d", sess.TurnCount, len(sess.History))
	}
	for i := 0; i < len(sess.History); i += 2 {
		if sess.History[i].Role != session.RoleUser || sess.History[i+1].Role != session.RoleAssistant {
			t.Errorf("turn pair %d interleaved: %s/%s", i/2, sess.History[i].Role, sess.History[i+1].Role)
		}
	}
}

func TestSessionStoreFailureStillReplies(t *testing.T) {
	h := newHarness(t, replyWith("Hi!"))
	h.store.Close()

	res := h.processor().Process(context.Background(), chatTurn("chat-l", "hello"))
	if res.Reply != "Hi!" {
		t.Errorf("reply = %q", res.Reply)
	}
}

// --- speech helpers ---

type recordingSynth struct {
	mu     sync.Mutex
	voices []speech.Voice
}

func (r *recordingSynth) Name() string { return "elevenlabs" }

func (r *recordingSynth) Synthesize(_ context.Context, _ string, v speech.Voice) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.voices = append(r.voices, v)
	return []byte("mp3"), nil
}

func (r *recordingSynth) lastVoice() speech.Voice {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.voices) == 0 {
		return speech.Voice{}
	}
	return r.voices[len(r.voices)-1]
}

type memAudioStore struct{}

func (memAudioStore) Put(_ context.Context, key string, _ []byte, _, _ string) (string, error) {
	return "https://cdn.example.com/" + key, nil
}
