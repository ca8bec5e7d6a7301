// Package session keeps the durable conversational state of every caller:
// ordered turn history, the active language, and history merged from the
// caller's other sessions.
package session

import (
	"sort"
	"time"
)

type Channel string

const (
	ChannelPhone Channel = "phone"
	ChannelChat  Channel = "chat"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Metadata keys recorded on turns.
const (
	MetaCrossLanguage = "cross_language"
	MetaDecision      = "decision"
	MetaConfidence    = "confidence"
	MetaFailures      = "failures"
	MetaProvider      = "provider"
)

// Turn is one history entry. A caller utterance and the twin's reply are
// stored as two turns.
type Turn struct {
	ID                 string            `json:"id"`
	Index              int               `json:"index"`
	Role               Role              `json:"role"`
	Text               string            `json:"text"`
	DetectedLanguage   string            `json:"detectedLanguage,omitempty"`
	LanguageConfidence float64           `json:"languageConfidence,omitempty"`
	RAGPattern         string            `json:"ragPattern,omitempty"`
	LatencyMs          int64             `json:"latencyMs,omitempty"`
	Timestamp          time.Time         `json:"timestamp"`
	SourceAudioRef     string            `json:"sourceAudioRef,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// Session is the state of one conversation.
type Session struct {
	ID               string    `json:"id"`
	Channel          Channel   `json:"channel"`
	Identity         string    `json:"identity,omitempty"`
	History          []Turn    `json:"history"`
	TurnCount        int       `json:"turnCount"`
	CurrentLanguage  string    `json:"currentLanguage"`
	PreviousLanguage string    `json:"previousLanguage,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	// Linked holds turns from the caller's other sessions, oldest first.
	Linked []Turn `json:"linked,omitempty"`
}

// Context returns the merged history of linked sessions and this session
// ordered by timestamp.
func (s *Session) Context() []Turn {
	if s == nil {
		return nil
	}
	out := make([]Turn, 0, len(s.Linked)+len(s.History))
	out = append(out, s.Linked...)
	out = append(out, s.History...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Recent returns the last n turns of Context.
func (s *Session) Recent(n int) []Turn {
	all := s.Context()
	if n <= 0 || len(all) <= n {
		return all
	}
	return all[len(all)-n:]
}

// ApplyLanguage updates the session language from a user turn's detection.
// The language switches only when the detected language differs and its
// confidence reaches threshold; the old language is kept as
// PreviousLanguage. It reports whether the language changed.
func (s *Session) ApplyLanguage(detected string, confidence, threshold float64) bool {
	cur, prev, switched := NextLanguage(s.CurrentLanguage, s.PreviousLanguage, detected, confidence, threshold)
	s.CurrentLanguage, s.PreviousLanguage = cur, prev
	return switched
}

// NextLanguage is the pure form of Session.ApplyLanguage.
func NextLanguage(current, previous, detected string, confidence, threshold float64) (string, string, bool) {
	if detected == "" || detected == current {
		return current, previous, false
	}
	if current == "" {
		return detected, previous, true
	}
	if confidence < threshold {
		return current, previous, false
	}
	return detected, current, true
}
