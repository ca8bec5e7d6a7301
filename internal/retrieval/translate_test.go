package retrieval

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/twin/internal/engine"
)

func TestLLMTranslator(t *testing.T) {
	var prompt string
	mock := &mockEngine{
		chatFn: func(_ context.Context, _ string, messages []engine.Message) (string, error) {
			prompt = messages[0].Content
			return ` "What projects have you led?" `, nil
		},
	}
	tr := NewLLMTranslator(mock, "phi3.5")

	got, err := tr.Translate(context.Background(), "¿Qué proyectos has liderado?", "es", "en")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "What projects have you led?" {
		t.Errorf("got %q", got)
	}
	if !strings.Contains(prompt, "from Spanish to English") {
		t.Errorf("prompt = %q", prompt)
	}
}

func TestLLMTranslator_SameLanguage(t *testing.T) {
	tr := NewLLMTranslator(&mockEngine{}, "phi3.5")
	got, err := tr.Translate(context.Background(), "hello", "en", "en")
	if err != nil || got != "hello" {
		t.Errorf("got %q, %v", got, err)
	}
}

func TestLLMTranslator_Error(t *testing.T) {
	mock := &mockEngine{
		chatFn: func(context.Context, string, []engine.Message) (string, error) {
			return "", errors.New("model not loaded")
		},
	}
	if _, err := NewLLMTranslator(mock, "phi3.5").Translate(context.Background(), "hola", "es", "en"); err == nil {
		t.Fatal("expected error")
	}
}

func TestFeedLiveSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/activity" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("q") != "latest talk" || r.URL.Query().Get("limit") != "2" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("auth = %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"items":[
			{"id":"a","text":"Spoke at GopherCon","language":"en","priority":2,"tags":["talk"],"updated_at":"2025-06-01T10:00:00Z"},
			{"id":"b","text":"Published a post","language":"en","updated_at":"2025-05-01T10:00:00Z"},
			{"id":"c","text":"ignored","language":"en","updated_at":"2025-04-01T10:00:00Z"}]}`))
	}))
	defer srv.Close()

	chunks, err := NewFeedLiveSource(srv.URL+"/", "tok").Recent(context.Background(), "latest talk", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].ID != "live:a" || chunks[0].SourceType != "live" || chunks[0].Tags != `["talk"]` || chunks[0].Priority != 2 {
		t.Errorf("chunk[0] = %+v", chunks[0])
	}
	if chunks[0].Score <= chunks[1].Score {
		t.Errorf("newest item should score highest: %v vs %v", chunks[0].Score, chunks[1].Score)
	}
}

func TestFeedLiveSource_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := NewFeedLiveSource(srv.URL, "").Recent(context.Background(), "x", 3); err == nil {
		t.Fatal("expected error")
	}
}
