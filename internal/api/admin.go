package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/twin/internal/ingest"
	"github.com/kalambet/twin/internal/persona"
	"github.com/kalambet/twin/internal/retrieval"
	"github.com/kalambet/twin/internal/session"
	"github.com/kalambet/twin/internal/storage"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxIngestBodySize  = 10 << 20 // 10MB
)

// KnowledgeService adds, lists and removes knowledge documents.
// Implemented by ingest.Service.
type KnowledgeService interface {
	Add(ctx context.Context, in ingest.Input) (storage.KnowledgeDoc, error)
	List(limit, offset int) ([]storage.KnowledgeDoc, error)
	Delete(ctx context.Context, id string) error
}

// FeedSyncer pulls the content feed. Implemented by ingest.FeedClient.
type FeedSyncer interface {
	Sync(ctx context.Context) (ingest.SyncResult, error)
}

// Searcher is plain semantic search. Implemented by retrieval.Retriever.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]retrieval.KnowledgeChunk, error)
}

// PersonaManager reads and edits the persona. Implemented by persona.Manager.
type PersonaManager interface {
	Get() (persona.Persona, error)
	SetField(key string, value any) error
}

// SessionAdmin inspects and removes sessions. Implemented by session.SQLStore.
type SessionAdmin interface {
	Get(ctx context.Context, id string) (*session.Session, error)
	Delete(ctx context.Context, id string) error
}

// SessionLister lists recently active sessions. Implemented by storage.Store.
type SessionLister interface {
	ListSessions(ctx context.Context, limit int) ([]storage.SessionRecord, error)
}

// DecisionLister reads the routing decision log. Implemented by storage.Store.
type DecisionLister interface {
	ListDecisions(ctx context.Context, sessionID string, limit int) ([]storage.DecisionRecord, error)
}

// AdminDeps are the operator surfaces. Feed may be nil when no content feed
// is configured.
type AdminDeps struct {
	Token     string
	Knowledge KnowledgeService
	Feed      FeedSyncer
	Search    Searcher
	Persona   PersonaManager
	Sessions  SessionAdmin
	Recent    SessionLister
	Decisions DecisionLister
}

// NewAdminHandler returns the bearer-protected operator API.
func NewAdminHandler(deps AdminDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(BearerAuth(deps.Token))

	r.Post("/knowledge", handleAddKnowledge(deps))
	r.Get("/knowledge", handleListKnowledge(deps))
	r.Delete("/knowledge/{id}", handleDeleteKnowledge(deps))
	r.Post("/knowledge/sync", handleSyncKnowledge(deps))
	r.Get("/recall", handleRecall(deps))
	r.Get("/persona", handleGetPersona(deps))
	r.Patch("/persona", handlePatchPersona(deps))
	r.Get("/sessions", handleListSessions(deps))
	r.Get("/sessions/{id}", handleGetSession(deps))
	r.Delete("/sessions/{id}", handleDeleteSession(deps))
	r.Get("/decisions", handleListDecisions(deps))

	return r
}

func handleAddKnowledge(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var in ingest.Input
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		doc, err := deps.Knowledge.Add(r.Context(), in)
		if errors.Is(err, ingest.ErrInvalidInput) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "adding knowledge: %v", err)
			return
		}

		writeJSON(w, map[string]string{
			"id":       doc.ID,
			"language": doc.Language,
			"status":   "queued",
		})
	}
}

func handleListKnowledge(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		docs, err := deps.Knowledge.List(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list knowledge: %v", err)
			return
		}
		writeJSON(w, docs)
	}
}

func handleDeleteKnowledge(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Knowledge.Delete(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "knowledge doc not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete knowledge doc: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handleSyncKnowledge(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Feed == nil {
			httpError(w, http.StatusConflict, "invalid_request_error", "no content feed configured")
			return
		}
		res, err := deps.Feed.Sync(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "feed sync failed: %v", err)
			return
		}
		writeJSON(w, res)
	}
}

func handleRecall(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if q == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		chunks, err := deps.Search.Search(r.Context(), q, parseIntParam(r, "limit", 5, 50))
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "recall failed: %v", err)
			return
		}
		if chunks == nil {
			chunks = []retrieval.KnowledgeChunk{}
		}
		writeJSON(w, chunks)
	}
}

func handleGetPersona(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Persona.Get()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get persona: %v", err)
			return
		}
		writeJSON(w, p)
	}
}

func handlePatchPersona(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var fields map[string]any
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		for key := range fields {
			if !persona.ValidKey(key) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown persona key %q", key)
				return
			}
		}
		for key, value := range fields {
			if err := deps.Persona.SetField(key, value); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to set field %q: %v", key, err)
				return
			}
		}
		writeJSON(w, map[string]string{"status": "updated"})
	}
}

type sessionView struct {
	ID              string `json:"id"`
	Channel         string `json:"channel"`
	Identity        string `json:"identity,omitempty"`
	CurrentLanguage string `json:"currentLanguage"`
	TurnCount       int    `json:"turnCount"`
	UpdatedAt       string `json:"updatedAt"`
}

func handleListSessions(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := deps.Recent.ListSessions(r.Context(), parseIntParam(r, "limit", 20, 200))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list sessions: %v", err)
			return
		}
		out := make([]sessionView, len(recs))
		for i, s := range recs {
			out[i] = sessionView{
				ID:              s.ID,
				Channel:         s.Channel,
				Identity:        s.Identity,
				CurrentLanguage: s.CurrentLanguage,
				TurnCount:       s.TurnCount,
				UpdatedAt:       s.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			}
		}
		writeJSON(w, out)
	}
}

func handleGetSession(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := deps.Sessions.Get(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get session: %v", err)
			return
		}
		writeJSON(w, sess)
	}
}

func handleDeleteSession(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Sessions.Delete(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete session: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

type decisionView struct {
	ID         string  `json:"id"`
	SessionID  string  `json:"sessionId"`
	Channel    string  `json:"channel"`
	Utterance  string  `json:"utterance"`
	Kind       string  `json:"kind"`
	Pattern    string  `json:"pattern,omitempty"`
	Confidence float64 `json:"confidence"`
	Escalated  bool    `json:"escalated,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	CreatedAt  string  `json:"createdAt"`
}

func decisionViews(recs []storage.DecisionRecord) []decisionView {
	out := make([]decisionView, len(recs))
	for i, d := range recs {
		out[i] = decisionView{
			ID:         d.ID,
			SessionID:  d.SessionID,
			Channel:    d.Channel,
			Utterance:  d.Utterance,
			Kind:       d.Kind,
			Pattern:    d.Pattern,
			Confidence: d.Confidence,
			Escalated:  d.Escalated,
			Reason:     d.Reason,
			CreatedAt:  d.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
	}
	return out
}

func handleListDecisions(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := deps.Decisions.ListDecisions(r.Context(), r.URL.Query().Get("session"), parseIntParam(r, "limit", 50, 500))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list decisions: %v", err)
			return
		}
		writeJSON(w, decisionViews(recs))
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
