// Package persona keeps the twin's persona and renders it for prompts.
package persona

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Store defines the storage operations the Manager needs.
// Implemented by storage.Store.
type Store interface {
	SetPersonaKey(key, value string) error
	GetAllPersonaKeys() (map[string]string, error)
	DeletePersonaKey(key string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager provides cached, structured access to the persona stored in SQLite.
type Manager struct {
	store Store
	clock Clock
	ttl   time.Duration

	mu       sync.RWMutex
	cached   *Persona
	cachedAt time.Time
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store Store) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store Store, clock Clock, ttl time.Duration) *Manager {
	return &Manager{store: store, clock: clock, ttl: ttl}
}

// Get assembles the persona from storage (or cache). An empty store yields a
// zero-value Persona.
func (m *Manager) Get() (Persona, error) {
	m.mu.RLock()
	if m.fresh() {
		p := deepCopy(m.cached)
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fresh() {
		return deepCopy(m.cached), nil
	}

	keys, err := m.store.GetAllPersonaKeys()
	if err != nil {
		return Persona{}, fmt.Errorf("loading persona keys: %w", err)
	}
	p := build(keys)
	m.cached = &p
	m.cachedAt = m.clock.Now()
	return deepCopy(&p), nil
}

func (m *Manager) fresh() bool {
	return m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl))
}

// SetField persists a persona key and invalidates the cache. Non-string
// values are stored as JSON.
func (m *Manager) SetField(key string, value any) error {
	if !ValidKey(key) {
		return fmt.Errorf("unknown persona key %q", key)
	}
	var str string
	switch v := value.(type) {
	case string:
		str = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshalling value for key %q: %w", key, err)
		}
		str = string(b)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.SetPersonaKey(key, str); err != nil {
		return fmt.Errorf("setting persona key %q: %w", key, err)
	}
	m.cached = nil
	return nil
}

// DeleteField removes a persona key and invalidates the cache.
func (m *Manager) DeleteField(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.DeletePersonaKey(key); err != nil {
		return fmt.Errorf("deleting persona key %q: %w", key, err)
	}
	m.cached = nil
	return nil
}

// GetSummary returns the persona as prompt text. Targets < 500 tokens.
func (m *Manager) GetSummary() (string, error) {
	p, err := m.Get()
	if err != nil {
		return "", fmt.Errorf("getting persona for summary: %w", err)
	}
	return summarize(p), nil
}

// Greeting returns the configured greeting for lang, or "" when none is set.
func (m *Manager) Greeting(lang string) string {
	p, err := m.Get()
	if err != nil {
		slog.Warn("loading persona greeting", "error", err)
		return ""
	}
	return p.Greetings[lang]
}

// maxSummaryChars caps the summary to stay under ~500 tokens (4 chars/token).
const maxSummaryChars = 2000

func summarize(p Persona) string {
	var parts []string

	switch {
	case p.Identity.Name != "" && p.Identity.Role != "":
		parts = append(parts, fmt.Sprintf("You are %s, %s.", p.Identity.Name, p.Identity.Role))
	case p.Identity.Name != "":
		parts = append(parts, fmt.Sprintf("You are %s.", p.Identity.Name))
	case p.Identity.Role != "":
		parts = append(parts, fmt.Sprintf("You are a %s.", p.Identity.Role))
	}
	if p.Identity.Location != "" {
		parts = append(parts, fmt.Sprintf("Based in %s.", p.Identity.Location))
	}
	if p.Identity.Bio != "" {
		parts = append(parts, p.Identity.Bio)
	}

	if len(p.Expertise) > 0 {
		var exps []string
		for _, domain := range slices.Sorted(maps.Keys(p.Expertise)) {
			exps = append(exps, fmt.Sprintf("%s (%s)", domain, p.Expertise[domain]))
		}
		parts = append(parts, fmt.Sprintf("Expertise: %s.", strings.Join(exps, ", ")))
	}
	if p.Style.Tone != "" {
		parts = append(parts, fmt.Sprintf("Speaking style: %s.", p.Style.Tone))
	}
	if len(p.Style.Catchwords) > 0 {
		parts = append(parts, fmt.Sprintf("Often says: %s.", strings.Join(p.Style.Catchwords, "; ")))
	}
	if len(p.Interests) > 0 {
		parts = append(parts, fmt.Sprintf("Interests: %s.", strings.Join(p.Interests, ", ")))
	}
	parts = append(parts, p.Opinions...)
	parts = append(parts, p.Facts...)

	if len(parts) == 0 {
		return "Persona: not yet configured."
	}

	summary := strings.Join(parts, " ")
	if len(summary) > maxSummaryChars {
		end := maxSummaryChars
		for end > 0 && !utf8.RuneStart(summary[end]) {
			end--
		}
		if idx := strings.LastIndex(summary[:end], " "); idx > 0 {
			summary = summary[:idx]
		} else {
			summary = summary[:end]
		}
	}
	return summary
}

func deepCopy(p *Persona) Persona {
	if p == nil {
		return Persona{}
	}
	cp := *p
	cp.Expertise = maps.Clone(p.Expertise)
	cp.Greetings = maps.Clone(p.Greetings)
	cp.Interests = slices.Clone(p.Interests)
	cp.Opinions = slices.Clone(p.Opinions)
	cp.Facts = slices.Clone(p.Facts)
	cp.Style.Catchwords = slices.Clone(p.Style.Catchwords)
	return cp
}

// build assembles a Persona from flat key-value pairs. Scalar keys use
// dot-notation ("identity.name"); list and map values are JSON.
func build(keys map[string]string) Persona {
	var p Persona
	p.Identity.Name = keys["identity.name"]
	p.Identity.Role = keys["identity.role"]
	p.Identity.Bio = keys["identity.bio"]
	p.Identity.Location = keys["identity.location"]
	p.Style.Tone = keys["style.tone"]

	unmarshalKey(keys, "style.catchwords", &p.Style.Catchwords)
	unmarshalKey(keys, "expertise", &p.Expertise)
	unmarshalKey(keys, "interests", &p.Interests)
	unmarshalKey(keys, "opinions", &p.Opinions)
	unmarshalKey(keys, "facts", &p.Facts)
	unmarshalKey(keys, "greetings", &p.Greetings)
	return p
}

// unmarshalKey decodes a JSON value into target, logging a warning if the
// value is present but malformed.
func unmarshalKey(keys map[string]string, key string, target any) {
	v, ok := keys[key]
	if !ok {
		return
	}
	if err := json.Unmarshal([]byte(v), target); err != nil {
		slog.Warn("malformed persona key, skipping", "key", key, "error", err)
	}
}
