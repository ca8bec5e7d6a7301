// Package chat serves the web chat channel: a synchronous JSON endpoint and
// a WebSocket variant for browser widgets. Both run the same pipeline turn.
package chat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kalambet/twin/internal/metrics"
	"github.com/kalambet/twin/internal/pipeline"
	"github.com/kalambet/twin/internal/session"
	"github.com/kalambet/twin/internal/transcribe"
)

const (
	// maxRequestBodySize leaves room for a base64 encoded voice note.
	maxRequestBodySize = 8 << 20
	maxHistoryEntries  = 50
	wsIdleTimeout      = 5 * time.Minute
	wsWriteTimeout     = 10 * time.Second
)

type TurnProcessor interface {
	Process(ctx context.Context, req pipeline.Request) pipeline.Result
}

// AudioInput is a voice note, either fetched from URL or carried inline as
// base64 in Data.
type AudioInput struct {
	URL         string `json:"url,omitempty"`
	Data        string `json:"data,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

// HistoryEntry is a turn the client already holds. New sessions are seeded
// with it; known sessions ignore it.
type HistoryEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

type Request struct {
	Message   string         `json:"message"`
	SessionID string         `json:"sessionId,omitempty"`
	History   []HistoryEntry `json:"history,omitempty"`
	Audio     *AudioInput    `json:"audio,omitempty"`
	Identity  string         `json:"identity,omitempty"`
	// Voice asks for a synthesized reply.
	Voice bool `json:"voice,omitempty"`
	// RequestID lets WebSocket clients correlate replies and doubles as the
	// idempotency key.
	RequestID string `json:"requestId,omitempty"`
}

// errInvalidFrame is the only error text a WebSocket client sees.
const errInvalidFrame = "invalid request"

type Response struct {
	ResponseText string   `json:"responseText"`
	Language     string   `json:"language"`
	RAGPattern   string   `json:"ragPattern,omitempty"`
	LatencyMs    int64    `json:"latencyMs"`
	AudioURL     string   `json:"audioUrl,omitempty"`
	SessionID    string   `json:"sessionId"`
	TurnIndex    int      `json:"turnIndex"`
	Cached       bool     `json:"cached,omitempty"`
	Failures     []string `json:"failures,omitempty"`
	RequestID    string   `json:"requestId,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// turnRequest converts a chat request into a pipeline turn, issuing a
// session id when the client has none. Empty turns pass through so the
// pipeline answers them with a re-prompt.
func (req Request) turnRequest(idempotencyKey string) (pipeline.Request, error) {
	out := pipeline.Request{
		SessionID:      strings.TrimSpace(req.SessionID),
		Channel:        session.ChannelChat,
		Identity:       req.Identity,
		Text:           req.Message,
		WantAudio:      req.Voice,
		IdempotencyKey: idempotencyKey,
	}
	if out.SessionID == "" {
		out.SessionID = uuid.NewString()
	}

	if a := req.Audio; a != nil && (a.URL != "" || a.Data != "") {
		audio := &transcribe.Audio{URL: a.URL, ContentType: a.ContentType}
		if a.Data != "" {
			raw, err := base64.StdEncoding.DecodeString(a.Data)
			if err != nil {
				return pipeline.Request{}, fmt.Errorf("audio.data is not valid base64: %w", err)
			}
			audio.Data, audio.Size = raw, int64(len(raw))
		}
		out.Audio = audio
	}

	history := req.History
	if len(history) > maxHistoryEntries {
		history = history[len(history)-maxHistoryEntries:]
	}
	for _, h := range history {
		out.History = append(out.History, session.Turn{
			Role:      session.Role(h.Role),
			Text:      h.Content,
			Timestamp: h.Timestamp,
		})
	}
	return out, nil
}

func newResponse(res pipeline.Result) Response {
	out := Response{
		ResponseText: res.Reply,
		Language:     res.Language,
		RAGPattern:   string(res.Decision.Pattern),
		LatencyMs:    res.LatencyMs,
		SessionID:    res.SessionID,
		TurnIndex:    res.TurnIndex,
		Cached:       res.Cached,
	}
	if res.Audio != nil {
		out.AudioURL = res.Audio.URL
	}
	for _, f := range res.Failures {
		out.Failures = append(out.Failures, string(f))
	}
	return out
}

// NewHandler returns the chat routes, to be mounted at /chat.
func NewHandler(p TurnProcessor, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Post("/", handleChat(p, m))
	r.Get("/ws", handleWebSocket(p, m))
	return r
}

func handleChat(p TurnProcessor, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			m.RecordWebhook("chat", "bad_request")
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		turn, err := req.turnRequest(r.Header.Get("Idempotency-Key"))
		if err != nil {
			m.RecordWebhook("chat", "bad_request")
			httpError(w, http.StatusBadRequest, "%v", err)
			return
		}

		res := p.Process(r.Context(), turn)
		m.RecordWebhook("chat", "ok")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(newResponse(res))
	}
}

func handleWebSocket(p TurnProcessor, m *metrics.Metrics) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// Widgets are embedded on other origins; the pipeline does not act
		// on cookies.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()
		conn.SetReadLimit(maxRequestBodySize)
		m.RecordWebhook("chat_ws", "connected")

		// The connection's session sticks once issued so clients may omit it
		// after the first frame.
		var sessionID string
		for {
			_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
			var req Request
			if err := conn.ReadJSON(&req); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Debug("websocket closed", "error", err)
				}
				return
			}
			if req.SessionID == "" {
				req.SessionID = sessionID
			}

			var resp Response
			turn, err := req.turnRequest(req.RequestID)
			if err != nil {
				m.RecordWebhook("chat_ws", "bad_request")
				slog.Debug("invalid chat frame", "session", req.SessionID, "error", err)
				resp = Response{SessionID: req.SessionID, Error: errInvalidFrame}
			} else {
				sessionID = turn.SessionID
				resp = newResponse(p.Process(r.Context(), turn))
				m.RecordWebhook("chat_ws", "ok")
			}
			resp.RequestID = req.RequestID

			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(resp); err != nil {
				slog.Warn("websocket write failed", "session", sessionID, "error", err)
				return
			}
		}
	}
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    "invalid_request_error",
		},
	})
}
