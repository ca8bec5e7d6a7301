package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// CallCounter reports live phone calls for the health endpoint.
type CallCounter interface {
	Active() int
}

// PublicDeps are the unauthenticated surfaces. Nil handlers are not mounted.
type PublicDeps struct {
	Chat    http.Handler
	Phone   http.Handler
	Metrics http.Handler
	// AudioDir is served at /audio/ when synthesized audio is kept on disk.
	AudioDir string
	Calls    CallCounter
	Version  string
}

// NewPublicHandler returns the routes callers and the telephony platform
// reach without the admin token.
func NewPublicHandler(deps PublicDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}
	if deps.Chat != nil {
		r.Mount("/chat", deps.Chat)
	}
	if deps.Phone != nil {
		r.Mount("/phone", deps.Phone)
	}
	if deps.AudioDir != "" {
		r.Handle("/audio/*", audioFileServer(deps.AudioDir))
	}
	return r
}

func handleHealth(deps PublicDeps) http.HandlerFunc {
	started := time.Now()
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"status":  "ok",
			"uptime":  time.Since(started).Round(time.Second).String(),
			"version": deps.Version,
		}
		if deps.Calls != nil {
			body["activeCalls"] = deps.Calls.Active()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}
}

// audioFileServer serves synthesized audio. Object keys are content hashes,
// so responses never change.
func audioFileServer(dir string) http.Handler {
	fs := http.StripPrefix("/audio/", http.FileServer(http.Dir(dir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		fs.ServeHTTP(w, r)
	})
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
