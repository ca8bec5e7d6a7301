package phone

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/twilio/twilio-go/client"

	"github.com/kalambet/twin/internal/metrics"
)

// NewHandler returns the telephony webhook routes, to be mounted at /phone.
// When authToken is set every request must carry a valid
// X-Twilio-Signature computed over publicURL plus the request URI.
func NewHandler(a *Adapter, authToken, publicURL string, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	if authToken != "" {
		r.Use(verifySignature(client.NewRequestValidator(authToken), strings.TrimRight(publicURL, "/"), m))
	}

	r.Post("/voice", handleCallEvent(a, "voice", m))
	r.Post("/status", handleCallEvent(a, "status", m))
	r.Post("/recording", handleRecording(a, m))
	r.Post("/pending", handlePending(a, m))
	return r
}

func verifySignature(v client.RequestValidator, publicURL string, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseForm(); err != nil {
				m.RecordWebhook(r.URL.Path, "bad_request")
				http.Error(w, "invalid form", http.StatusBadRequest)
				return
			}
			params := make(map[string]string, len(r.PostForm))
			for k, vs := range r.PostForm {
				if len(vs) > 0 {
					params[k] = vs[0]
				}
			}
			if !v.Validate(publicURL+r.URL.RequestURI(), params, r.Header.Get("X-Twilio-Signature")) {
				slog.Warn("rejected webhook with invalid signature", "path", r.URL.Path, "remote", r.RemoteAddr)
				m.RecordWebhook(r.URL.Path, "forbidden")
				http.Error(w, "invalid signature", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleCallEvent(a *Adapter, endpoint string, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			m.RecordWebhook(endpoint, "bad_request")
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		ev := CallEvent{
			CallSID: r.PostFormValue("CallSid"),
			From:    r.PostFormValue("From"),
			To:      r.PostFormValue("To"),
			Status:  r.PostFormValue("CallStatus"),
		}
		if ev.CallSID == "" {
			m.RecordWebhook(endpoint, "bad_request")
			http.Error(w, "CallSid is required", http.StatusBadRequest)
			return
		}
		writeTwiML(w, a.HandleCallEvent(r.Context(), ev))
		m.RecordWebhook(endpoint, "ok")
	}
}

func handleRecording(a *Adapter, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			m.RecordWebhook("recording", "bad_request")
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		ev := RecordingEvent{
			CallSID:      r.PostFormValue("CallSid"),
			RecordingSID: r.PostFormValue("RecordingSid"),
			RecordingURL: r.PostFormValue("RecordingUrl"),
			Duration:     -1,
		}
		if ev.CallSID == "" {
			m.RecordWebhook("recording", "bad_request")
			http.Error(w, "CallSid is required", http.StatusBadRequest)
			return
		}
		if d, err := strconv.Atoi(r.PostFormValue("RecordingDuration")); err == nil {
			ev.Duration = d
		}
		writeTwiML(w, a.HandleRecording(r.Context(), ev))
		m.RecordWebhook("recording", "ok")
	}
}

func handlePending(a *Adapter, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid := r.FormValue("CallSid")
		if sid == "" {
			m.RecordWebhook("pending", "bad_request")
			http.Error(w, "CallSid is required", http.StatusBadRequest)
			return
		}
		writeTwiML(w, a.HandlePending(r.Context(), sid))
		m.RecordWebhook("pending", "ok")
	}
}

func writeTwiML(w http.ResponseWriter, doc string) {
	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(doc))
}
