// Package phone drives telephony calls: it answers call-event and recording
// webhooks with TwiML, runs one pipeline turn per recording, and keeps the
// caller engaged while slow turns finish.
package phone

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/twin/internal/metrics"
	"github.com/kalambet/twin/internal/pipeline"
	"github.com/kalambet/twin/internal/responder"
	"github.com/kalambet/twin/internal/session"
	"github.com/kalambet/twin/internal/speech"
	"github.com/kalambet/twin/internal/transcribe"
)

// CallEvent is a call status webhook.
type CallEvent struct {
	CallSID string
	From    string
	To      string
	Status  string
}

// RecordingEvent is a recording callback. Duration is in seconds; negative
// means the platform did not report it.
type RecordingEvent struct {
	CallSID      string
	RecordingSID string
	RecordingURL string
	Duration     int
}

func (e RecordingEvent) silent() bool {
	return e.RecordingURL == "" || e.Duration == 0
}

var terminalStatuses = map[string]bool{
	"completed": true,
	"busy":      true,
	"failed":    true,
	"no-answer": true,
	"canceled":  true,
}

type TurnProcessor interface {
	Process(ctx context.Context, req pipeline.Request) pipeline.Result
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) speech.Audio
}

type SessionLoader interface {
	Load(ctx context.Context, id string, channel session.Channel, identity string) (*session.Session, error)
}

// GreetingSource returns the persona's greeting for a language, or "".
type GreetingSource interface {
	Greeting(lang string) string
}

// Deps are the collaborators of an Adapter. Greetings, Replay and Metrics
// may be nil.
type Deps struct {
	Turns     TurnProcessor
	Speech    Synthesizer
	Sessions  SessionLoader
	Greetings GreetingSource
	Replay    pipeline.ReplayStore
	Metrics   *metrics.Metrics
}

type Config struct {
	PublicURL         string
	PrimaryLanguage   string
	ThinkingThreshold time.Duration
	HardTimeout       time.Duration
	MaxSilentTurns    int
	RecordMaxLength   int
}

func (c Config) withDefaults() Config {
	if c.PrimaryLanguage == "" {
		c.PrimaryLanguage = "en"
	}
	if c.ThinkingThreshold <= 0 {
		c.ThinkingThreshold = 2500 * time.Millisecond
	}
	if c.HardTimeout <= 0 {
		c.HardTimeout = 12 * time.Second
	}
	if c.MaxSilentTurns <= 0 {
		c.MaxSilentTurns = 3
	}
	if c.RecordMaxLength <= 0 {
		c.RecordMaxLength = 30
	}
	c.PublicURL = strings.TrimRight(c.PublicURL, "/")
	return c
}

// Adapter is the phone channel's call-control state machine.
type Adapter struct {
	deps  Deps
	cfg   Config
	calls *CallStore
	r     renderer
	wg    sync.WaitGroup
}

func NewAdapter(deps Deps, calls *CallStore, cfg Config) *Adapter {
	cfg = cfg.withDefaults()
	if calls == nil {
		calls = NewCallStore()
	}
	return &Adapter{
		deps:  deps,
		cfg:   cfg,
		calls: calls,
		r:     renderer{publicURL: cfg.PublicURL, recordMaxLength: cfg.RecordMaxLength},
	}
}

// Calls exposes the live call table.
func (a *Adapter) Calls() *CallStore { return a.calls }

// Wait blocks until background turns have finished.
func (a *Adapter) Wait() { a.wg.Wait() }

// HandleCallEvent answers a call status webhook. The first contact of a
// call plays the greeting; later events only resume recording.
func (a *Adapter) HandleCallEvent(ctx context.Context, ev CallEvent) string {
	status := strings.ToLower(strings.TrimSpace(ev.Status))
	if terminalStatuses[status] {
		a.end(ev.CallSID, status)
		return a.r.hangup()
	}

	key := ev.CallSID + ":" + status
	if doc, ok := a.replayed(ctx, key); ok {
		return doc
	}

	greet := false
	_, created := a.calls.update(ev.CallSID, func(c *Call) {
		if ev.From != "" {
			c.From = ev.From
		}
		if !c.Greeted {
			c.Greeted, greet = true, true
		}
	})
	if created {
		a.deps.Metrics.CallStarted()
		slog.Info("call started", "call", ev.CallSID, "status", status)
	}

	var doc string
	if greet {
		doc = a.greet(ctx, ev)
	} else {
		a.calls.update(ev.CallSID, func(c *Call) { c.transition(StateRecording) })
		doc = a.r.recordOnly()
	}
	a.remember(ctx, key, ev.CallSID, doc)
	return doc
}

func (a *Adapter) greet(ctx context.Context, ev CallEvent) string {
	lang := a.cfg.PrimaryLanguage
	if sess, err := a.deps.Sessions.Load(ctx, ev.CallSID, session.ChannelPhone, ev.From); err != nil {
		slog.Warn("loading call session failed", "call", ev.CallSID, "error", err)
	} else if sess.CurrentLanguage != "" {
		lang = sess.CurrentLanguage
	}

	text := ""
	if a.deps.Greetings != nil {
		text = a.deps.Greetings.Greeting(lang)
	}
	if text == "" {
		text = DefaultGreeting(lang)
	}
	audio := a.deps.Speech.Synthesize(ctx, text, lang)

	a.calls.update(ev.CallSID, func(c *Call) {
		c.Language = lang
		c.transition(StateGreetingPlayed)
	})
	return a.r.playThenRecord(audio)
}

func (a *Adapter) end(sid, status string) {
	wasLive := false
	_, created := a.calls.update(sid, func(c *Call) {
		wasLive = c.State != StateTerminated
		c.transition(StateTerminated)
	})
	// A call first seen at its terminal status was never counted as live.
	if wasLive && !created {
		a.deps.Metrics.CallEnded()
		slog.Info("call ended", "call", sid, "status", status)
	}
}

// HandleRecording runs the turn for a recording. A turn that finishes within
// the thinking threshold is answered inline; a slower one gets the thinking
// cue and a redirect to the pending endpoint.
func (a *Adapter) HandleRecording(ctx context.Context, ev RecordingEvent) string {
	var (
		t          *turn
		start      bool
		terminated bool
		lang       string
		from       string
	)
	_, created := a.calls.update(ev.CallSID, func(c *Call) {
		if c.State == StateTerminated {
			terminated = true
			return
		}
		c.Greeted = true
		lang, from = c.Language, c.From
		c.transition(StateProcessing)
		if ev.silent() {
			return
		}
		key := ev.CallSID + ":" + ev.RecordingSID
		if c.inflight != nil && c.inflight.key == key {
			// Retried callback for the turn already running.
			t = c.inflight
			return
		}
		t = &turn{key: key, started: a.calls.now(), done: make(chan struct{})}
		c.inflight, start = t, true
	})
	if created {
		// First sight of a call picked up mid-way, e.g. after a restart.
		a.deps.Metrics.CallStarted()
	}
	if lang == "" {
		lang = a.cfg.PrimaryLanguage
	}
	if terminated {
		return a.r.hangup()
	}
	if ev.silent() {
		return a.silence(ctx, ev.CallSID, lang)
	}

	if start {
		a.run(t, pipeline.Request{
			SessionID:      ev.CallSID,
			Channel:        session.ChannelPhone,
			Identity:       from,
			Audio:          &transcribe.Audio{URL: ev.RecordingURL, Duration: time.Duration(max(ev.Duration, 0)) * time.Second},
			WantAudio:      true,
			IdempotencyKey: t.key,
		})
	}

	timer := time.NewTimer(a.cfg.ThinkingThreshold)
	defer timer.Stop()
	select {
	case <-t.done:
		return a.deliver(ctx, ev.CallSID, t)
	case <-timer.C:
	case <-ctx.Done():
	}
	slog.Info("turn is slow, playing thinking cue", "call", ev.CallSID)
	cue := a.deps.Speech.Synthesize(ctx, ThinkingCue(lang), lang)
	return a.r.playThenWait(cue)
}

// run processes the turn in the background, bounded by the hard timeout.
func (a *Adapter) run(t *turn, req pipeline.Request) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.HardTimeout)
		defer cancel()
		t.result = a.deps.Turns.Process(ctx, req)
		close(t.done)
	}()
}

// HandlePending waits for the call's in-flight turn up to the hard timeout,
// then gives up with the apology and resumes recording.
func (a *Adapter) HandlePending(ctx context.Context, sid string) string {
	call, ok := a.calls.Get(sid)
	if !ok || call.State == StateTerminated {
		return a.r.hangup()
	}
	t := call.inflight
	if t == nil {
		a.calls.update(sid, func(c *Call) { c.transition(StateRecording) })
		return a.r.recordOnly()
	}

	if wait := t.started.Add(a.cfg.HardTimeout).Sub(a.calls.now()); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-t.done:
			return a.deliver(ctx, sid, t)
		case <-timer.C:
		case <-ctx.Done():
		}
	} else if t.finished() {
		return a.deliver(ctx, sid, t)
	}

	slog.Warn("turn exceeded hard timeout, apologizing", "call", sid, "elapsed", a.calls.now().Sub(t.started))
	lang := call.Language
	if lang == "" {
		lang = a.cfg.PrimaryLanguage
	}
	a.calls.update(sid, func(c *Call) {
		if c.inflight == t {
			c.inflight = nil
		}
		c.transition(StateRecording)
	})
	apology := a.deps.Speech.Synthesize(ctx, responder.Apology(lang), lang)
	return a.r.playThenRecord(apology)
}

// deliver plays a finished turn. A re-prompt counts as a silent turn.
func (a *Adapter) deliver(ctx context.Context, sid string, t *turn) string {
	res := t.result
	var terminated, goodbye bool
	a.calls.update(sid, func(c *Call) {
		if c.inflight == t {
			c.inflight = nil
		}
		if c.State == StateTerminated {
			terminated = true
			return
		}
		if res.Language != "" {
			c.Language = res.Language
		}
		if !res.Reprompt {
			c.Silence = 0
			c.transition(StateResponsePlayed)
			return
		}
		c.Silence++
		if c.Silence >= a.cfg.MaxSilentTurns {
			c.transition(StateTerminated)
			goodbye = true
			return
		}
		c.transition(StateRecording)
	})

	lang := res.Language
	if lang == "" {
		lang = a.cfg.PrimaryLanguage
	}
	switch {
	case terminated:
		return a.r.hangup()
	case goodbye:
		return a.hangUp(ctx, sid, lang)
	}

	audio := speech.Audio{Provider: speech.ProviderBuiltin, Say: speech.Builtin(res.Reply, lang)}
	if res.Audio != nil && res.Audio.Playable() {
		audio = *res.Audio
	}
	return a.r.playThenRecord(audio)
}

// silence handles a recording with no audio.
func (a *Adapter) silence(ctx context.Context, sid, lang string) string {
	goodbye := false
	a.calls.update(sid, func(c *Call) {
		c.Silence++
		if c.Silence >= a.cfg.MaxSilentTurns {
			c.transition(StateTerminated)
			goodbye = true
			return
		}
		c.transition(StateRecording)
	})
	if goodbye {
		return a.hangUp(ctx, sid, lang)
	}
	reprompt := a.deps.Speech.Synthesize(ctx, pipeline.Reprompt(lang), lang)
	return a.r.playThenRecord(reprompt)
}

func (a *Adapter) hangUp(ctx context.Context, sid, lang string) string {
	slog.Info("caller silent, hanging up", "call", sid, "max_silent_turns", a.cfg.MaxSilentTurns)
	a.deps.Metrics.CallEnded()
	bye := a.deps.Speech.Synthesize(ctx, Goodbye(lang), lang)
	return a.r.playThenHangup(bye)
}

func (a *Adapter) replayed(ctx context.Context, key string) (string, bool) {
	if a.deps.Replay == nil {
		return "", false
	}
	raw, err := a.deps.Replay.GetReplay(ctx, key)
	if err != nil {
		return "", false
	}
	slog.Debug("replaying call event", "key", key)
	return string(raw), true
}

func (a *Adapter) remember(ctx context.Context, key, sid, doc string) {
	if a.deps.Replay == nil {
		return
	}
	if err := a.deps.Replay.PutReplay(context.WithoutCancel(ctx), key, sid, []byte(doc)); err != nil {
		slog.Warn("storing call event replay failed", "key", key, "error", err)
	}
}
