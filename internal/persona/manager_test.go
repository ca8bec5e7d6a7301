package persona

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/twin/internal/storage"
)

type mockStore struct {
	mu   sync.Mutex
	data map[string]string

	getAllCalls int
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string]string)}
}

func (m *mockStore) SetPersonaKey(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mockStore) DeletePersonaKey(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return storage.ErrNotFound
	}
	delete(m.data, key)
	return nil
}

func (m *mockStore) GetAllPersonaKeys() (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getAllCalls++
	cp := make(map[string]string, len(m.data))
	for k, v := range m.data {
		cp[k] = v
	}
	return cp, nil
}

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestGet_Empty(t *testing.T) {
	mgr := NewManager(newMockStore())

	p, err := mgr.Get()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Identity.Name != "" || len(p.Interests) != 0 {
		t.Errorf("expected zero persona, got %+v", p)
	}
}

func TestSetAndGetField(t *testing.T) {
	mgr := NewManager(newMockStore())

	if err := mgr.SetField("style.tone", "warm, direct"); err != nil {
		t.Fatalf("SetField: %v", err)
	}
	if err := mgr.SetField("greetings", map[string]string{"en": "Hey, it's Ada!", "es": "¡Hola, soy Ada!"}); err != nil {
		t.Fatalf("SetField: %v", err)
	}

	p, err := mgr.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Style.Tone != "warm, direct" {
		t.Errorf("tone = %q", p.Style.Tone)
	}
	if mgr.Greeting("es") != "¡Hola, soy Ada!" || mgr.Greeting("fr") != "" {
		t.Errorf("greetings = %v", p.Greetings)
	}
}

func TestSetField_UnknownKey(t *testing.T) {
	mgr := NewManager(newMockStore())
	if err := mgr.SetField("communication.format", "markdown"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestDeleteField(t *testing.T) {
	store := newMockStore()
	mgr := NewManager(store)

	mgr.SetField("identity.name", "Ada")
	if _, err := mgr.Get(); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := mgr.DeleteField("identity.name"); err != nil {
		t.Fatalf("DeleteField: %v", err)
	}
	p, _ := mgr.Get()
	if p.Identity.Name != "" {
		t.Errorf("name survived delete: %q", p.Identity.Name)
	}
	if err := mgr.DeleteField("identity.name"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func TestGetSummary_Empty(t *testing.T) {
	summary, err := NewManager(newMockStore()).GetSummary()
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if summary == "" {
		t.Error("expected non-empty summary for empty persona")
	}
}

func TestGetSummary_Full(t *testing.T) {
	mgr := NewManager(newMockStore())

	mgr.SetField("identity.name", "Ada")
	mgr.SetField("identity.role", "a payments engineer")
	mgr.SetField("identity.location", "Lisbon")
	mgr.SetField("style.tone", "warm, direct")
	mgr.SetField("interests", []string{"sailing", "distributed systems"})
	mgr.SetField("expertise", map[string]string{"payments": "expert", "go": "expert"})
	mgr.SetField("facts", []string{"Speaks English and Spanish."})

	summary, err := mgr.GetSummary()
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	for _, want := range []string{"You are Ada, a payments engineer.", "Lisbon", "go (expert), payments (expert)", "warm, direct", "sailing", "Speaks English and Spanish."} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q: %s", want, summary)
		}
	}
}

func TestGetSummary_TokenBudget(t *testing.T) {
	mgr := NewManager(newMockStore())

	facts := make([]string, 50)
	for i := range facts {
		facts[i] = "Once spent a whole summer rebuilding a sailboat engine in a small harbour town."
	}
	mgr.SetField("facts", facts)

	summary, _ := mgr.GetSummary()
	if tokens := len(summary) / 4; tokens >= 500 {
		t.Errorf("summary too long: %d estimated tokens (len=%d)", tokens, len(summary))
	}
}

func TestMalformedKeySkipped(t *testing.T) {
	store := newMockStore()
	store.data["interests"] = "not json"
	store.data["identity.name"] = "Ada"

	p, err := NewManager(store).Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Identity.Name != "Ada" || p.Interests != nil {
		t.Errorf("persona = %+v", p)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	mgr := NewManager(newMockStore())
	mgr.SetField("interests", []string{"sailing"})

	p, _ := mgr.Get()
	p.Interests[0] = "mutated"

	again, _ := mgr.Get()
	if again.Interests[0] != "sailing" {
		t.Errorf("cached persona mutated: %v", again.Interests)
	}
}

func TestCacheTTL(t *testing.T) {
	store := newMockStore()
	clock := &mockClock{now: time.Now()}
	ttl := 60 * time.Second
	mgr := NewManagerWithClock(store, clock, ttl)

	mgr.SetField("identity.role", "engineer")
	mgr.Get()
	mgr.Get()

	store.mu.Lock()
	calls := store.getAllCalls
	store.mu.Unlock()
	if calls != 1 {
		t.Errorf("expected 1 store call (cache hit on second), got %d", calls)
	}

	clock.Advance(ttl + time.Second)
	mgr.Get()

	store.mu.Lock()
	calls = store.getAllCalls
	store.mu.Unlock()
	if calls != 2 {
		t.Errorf("expected 2 store calls (cache expired), got %d", calls)
	}
}

func TestStorageImplementsStore(t *testing.T) {
	var _ Store = (*storage.Store)(nil)
}
