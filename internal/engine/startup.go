package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// EnsureReady checks that the Engine is reachable and that every named model
// is available, pulling missing ones with progress written to w. Empty and
// repeated names are skipped. The first model is then warmed with a short
// chat so the first caller turn does not pay the load time.
func EnsureReady(ctx context.Context, e Engine, w io.Writer, models ...string) error {
	if !e.IsRunning(ctx) {
		return fmt.Errorf("local inference engine is not running; start it with: ollama serve")
	}

	seen := make(map[string]bool, len(models))
	var wanted []string
	for _, m := range models {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		wanted = append(wanted, m)
	}

	for _, model := range wanted {
		if e.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}

		fmt.Fprintf(w, "model %s: pulling...\n", model)
		err := e.PullModel(ctx, model, func(p PullProgress) {
			if p.Total > 0 {
				pct := float64(p.Completed) / float64(p.Total) * 100
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
			} else {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}

	if len(wanted) > 0 {
		warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if _, err := e.Chat(warmCtx, wanted[0], []Message{{Role: "user", Content: "ping"}}, nil); err != nil {
			slog.Warn("model warm-up failed", "model", wanted[0], "error", err)
		}
	}
	return nil
}
