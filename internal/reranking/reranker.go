// Package reranking re-scores hybrid retrieval candidates with the local
// LLM before they reach the responder.
package reranking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/twin/internal/engine"
	"github.com/kalambet/twin/internal/retrieval"
)

const defaultConcurrency = 3

// Config tunes the LLM reranker.
type Config struct {
	Enabled   bool
	Model     string
	Timeout   time.Duration
	Threshold float64
	// TopK stops scoring once this many chunks have scores. Zero scores all.
	TopK int
}

// New returns an LLMReranker when enabled and an engine is available,
// NoOpReranker otherwise.
func New(eng engine.Engine, cfg Config) retrieval.Reranker {
	if !cfg.Enabled || eng == nil {
		return NoOpReranker{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &LLMReranker{engine: eng, cfg: cfg}
}

// LLMReranker asks a local model how well each chunk of persona knowledge
// answers the caller's question. Scoring runs concurrently, bounded to
// defaultConcurrency requests.
type LLMReranker struct {
	engine engine.Engine
	cfg    Config
}

// Rerank scores each chunk against the query and returns the chunks at or
// above the threshold, best first. A chunk whose score can't be parsed keeps
// its retrieval score. If the timeout fires before enough chunks are scored,
// Rerank returns the context error and the caller keeps its own order.
func (r *LLMReranker) Rerank(ctx context.Context, query string, chunks []retrieval.KnowledgeChunk) ([]retrieval.KnowledgeChunk, error) {
	if len(chunks) == 0 {
		return chunks, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	want := len(chunks)
	if r.cfg.TopK > 0 && r.cfg.TopK < want {
		want = r.cfg.TopK
	}

	results := make(chan retrieval.KnowledgeChunk, len(chunks))
	sem := make(chan struct{}, defaultConcurrency)
	for _, c := range chunks {
		go func() {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			score, err := r.score(ctx, query, c)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Debug("rerank score failed, keeping retrieval score", "chunk", c.ID, "error", err)
			} else {
				c.Score = float32(score)
			}
			results <- c
		}()
	}

	scored := make([]retrieval.KnowledgeChunk, 0, want)
	for len(scored) < want {
		select {
		case c := <-results:
			scored = append(scored, c)
		case <-ctx.Done():
			return nil, fmt.Errorf("reranking %d chunks: %w", len(chunks), ctx.Err())
		}
	}

	kept := scored[:0]
	for _, c := range scored {
		if float64(c.Score) >= r.cfg.Threshold {
			kept = append(kept, c)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	return kept, nil
}

var scoreSchema = &engine.Schema{
	Type: "object",
	Properties: map[string]engine.SchemaProperty{
		"score": {Type: "number", Description: "Relevance score 0.0-1.0"},
	},
	Required: []string{"score"},
}

func (r *LLMReranker) score(ctx context.Context, query string, c retrieval.KnowledgeChunk) (float64, error) {
	prompt := "You judge whether a note from a person's knowledge base helps answer a question asked to that person.\n" +
		"Rate the relevance on a scale of 0.0 to 1.0.\n" +
		"Question: " + query + "\n" +
		"Note: " + c.Text + "\n" +
		`Respond with only a JSON object: {"score": <float>}`

	resp, err := r.engine.Chat(ctx, r.cfg.Model, []engine.Message{{Role: "user", Content: prompt}}, scoreSchema)
	if err != nil {
		return 0, err
	}
	return parseScore(resp)
}

// parseScore extracts the score from a model reply. Small local models often
// wrap the JSON in markdown fences or prepend filler text.
func parseScore(resp string) (float64, error) {
	s := strings.TrimSpace(resp)

	if idx := strings.Index(s, "```"); idx != -1 {
		s = strings.TrimPrefix(s[idx+3:], "json")
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return 0, fmt.Errorf("no JSON object in response")
	}

	var obj struct {
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil {
		return 0, fmt.Errorf("unmarshal score: %w", err)
	}
	if obj.Score == nil {
		return 0, fmt.Errorf("response has no score")
	}
	return min(max(*obj.Score, 0), 1), nil
}

// NoOpReranker passes chunks through unchanged.
type NoOpReranker struct{}

func (NoOpReranker) Rerank(_ context.Context, _ string, chunks []retrieval.KnowledgeChunk) ([]retrieval.KnowledgeChunk, error) {
	return chunks, nil
}
