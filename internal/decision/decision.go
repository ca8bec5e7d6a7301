// Package decision picks how the twin answers an utterance: directly, by
// searching its knowledge with one of several retrieval patterns, or by
// asking the caller to clarify.
package decision

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/twin/internal/metrics"
	"github.com/kalambet/twin/internal/session"
	"github.com/kalambet/twin/internal/storage"
)

type Kind string

const (
	KindSearch  Kind = "SEARCH"
	KindDirect  Kind = "DIRECT"
	KindClarify Kind = "CLARIFY"
)

// Pattern is a retrieval strategy. Patterns are listed cheapest first.
type Pattern string

const (
	PatternStandard     Pattern = "standard"
	PatternHybridSearch Pattern = "hybrid_search"
	PatternMultiHop     Pattern = "multi_hop"
	PatternToolEnhanced Pattern = "tool_enhanced"
)

// costOrder is the order candidates are considered in.
var costOrder = []Pattern{PatternStandard, PatternHybridSearch, PatternMultiHop, PatternToolEnhanced}

// ValidPattern reports whether p names a retrieval pattern.
func ValidPattern(p Pattern) bool {
	for _, c := range costOrder {
		if c == p {
			return true
		}
	}
	return false
}

// Reasons attached to non-search decisions.
const (
	ReasonGreeting      = "greeting"
	ReasonTooShort      = "too short"
	ReasonAmbiguous     = "ambiguous reference"
	ReasonLowConfidence = "low confidence"
)

// Decision is the chosen response strategy. Pattern is set for SEARCH only.
type Decision struct {
	Kind          Kind    `json:"kind"`
	Pattern       Pattern `json:"pattern,omitempty"`
	Confidence    float64 `json:"confidence"`
	Reason        string  `json:"reason,omitempty"`
	Escalated     bool    `json:"escalated,omitempty"`
	LowConfidence bool    `json:"lowConfidence,omitempty"`
}

// IsGreeting reports whether d answers a greeting or courtesy phrase.
func (d Decision) IsGreeting() bool {
	return d.Kind == KindDirect && d.Reason == ReasonGreeting
}

// Classifier is the slower LLM judgement consulted when heuristics are unsure.
type Classifier interface {
	Classify(ctx context.Context, text string, history []session.Turn) (Decision, error)
}

// Logger persists decisions. Implementations must not block.
type Logger interface {
	LogDecision(ctx context.Context, rec storage.DecisionRecord)
}

// Config tunes the Engine.
type Config struct {
	MinChars            int
	EscalationThreshold float64
	ClarifyThreshold    float64
	ClassifierTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinChars <= 0 {
		c.MinChars = 2
	}
	if c.EscalationThreshold <= 0 {
		c.EscalationThreshold = 0.6
	}
	if c.ClarifyThreshold <= 0 {
		c.ClarifyThreshold = 0.35
	}
	if c.ClassifierTimeout <= 0 {
		c.ClassifierTimeout = 1500 * time.Millisecond
	}
	return c
}

// Engine classifies utterances with cheap heuristics first and escalates to
// the Classifier only when no heuristic candidate is confident enough.
type Engine struct {
	cfg        Config
	classifier Classifier
	log        Logger
	metrics    *metrics.Metrics
}

// NewEngine creates an Engine. classifier, log and m may be nil.
func NewEngine(cfg Config, classifier Classifier, log Logger, m *metrics.Metrics) *Engine {
	return &Engine{cfg: cfg.withDefaults(), classifier: classifier, log: log, metrics: m}
}

// Decide classifies text in the context of sess (which may be nil).
func (e *Engine) Decide(ctx context.Context, text string, sess *session.Session) Decision {
	d := e.decide(ctx, text, sess)
	e.record(ctx, text, sess, d)
	return d
}

func (e *Engine) decide(ctx context.Context, text string, sess *session.Session) Decision {
	u := analyze(text)

	if len([]rune(u.norm)) < e.cfg.MinChars {
		return Decision{Kind: KindClarify, Confidence: 0.95, Reason: ReasonTooShort}
	}
	if u.isDeictic() {
		return Decision{Kind: KindClarify, Confidence: 0.85, Reason: ReasonAmbiguous}
	}
	if u.isCourtesyOnly() {
		return Decision{Kind: KindDirect, Confidence: 0.9, Reason: ReasonGreeting}
	}

	cands := u.candidates()
	for _, p := range costOrder {
		c, ok := cands[p]
		if ok && c.confidence >= e.cfg.EscalationThreshold {
			return Decision{Kind: KindSearch, Pattern: p, Confidence: c.confidence, Reason: c.reason}
		}
	}

	escalated := false
	if e.classifier != nil {
		escalated = true
		cctx, cancel := context.WithTimeout(ctx, e.cfg.ClassifierTimeout)
		var history []session.Turn
		if sess != nil {
			history = sess.Recent(6)
		}
		cd, err := e.classifier.Classify(cctx, text, history)
		cancel()
		switch {
		case err != nil:
			slog.Warn("decision escalation failed", "error", err)
		case cd.Confidence >= e.cfg.EscalationThreshold:
			cd.Escalated = true
			if cd.Kind != KindSearch {
				cd.Pattern = ""
			}
			return cd
		}
	}

	best := Decision{Kind: KindSearch, Escalated: escalated}
	for _, p := range costOrder {
		if c, ok := cands[p]; ok && (best.Pattern == "" || c.confidence > best.Confidence) {
			best.Pattern, best.Confidence, best.Reason = p, c.confidence, c.reason
		}
	}
	if best.Confidence < e.cfg.ClarifyThreshold {
		return Decision{
			Kind:          KindClarify,
			Confidence:    best.Confidence,
			Reason:        ReasonLowConfidence,
			Escalated:     escalated,
			LowConfidence: true,
		}
	}
	return best
}

func (e *Engine) record(ctx context.Context, text string, sess *session.Session, d Decision) {
	rec := storage.DecisionRecord{
		ID:         uuid.New().String(),
		Utterance:  text,
		Kind:       string(d.Kind),
		Pattern:    string(d.Pattern),
		Confidence: d.Confidence,
		Escalated:  d.Escalated,
		Reason:     d.Reason,
		CreatedAt:  time.Now().UTC(),
	}
	if sess != nil {
		rec.SessionID = sess.ID
		rec.Channel = string(sess.Channel)
	}

	slog.Info("decision", "session", rec.SessionID, "kind", d.Kind, "pattern", d.Pattern,
		"confidence", d.Confidence, "escalated", d.Escalated, "reason", d.Reason)
	e.metrics.RecordDecision(string(d.Kind), string(d.Pattern), d.Escalated)
	if e.log != nil {
		e.log.LogDecision(ctx, rec)
	}
}
