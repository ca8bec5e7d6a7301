package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/twin/internal/decision"
	"github.com/kalambet/twin/internal/session"
)

// KnowledgeChunk is a retrieved knowledge fragment with its relevance score.
type KnowledgeChunk struct {
	ID         string    `json:"id"`
	SourceID   string    `json:"sourceId"`
	SourceType string    `json:"sourceType"`
	Text       string    `json:"text"`
	Language   string    `json:"language"`
	Score      float32   `json:"score"`
	Tags       string    `json:"tags,omitempty"`
	Priority   int       `json:"priority,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CrossLanguage records how a query in a non-index language was handled.
type CrossLanguage string

const (
	CrossNone              CrossLanguage = ""
	CrossTranslated        CrossLanguage = "translated"
	CrossDirect            CrossLanguage = "direct"
	CrossTranslationFailed CrossLanguage = "translation_failed"
)

// Result is the outcome of Retrieve. Zero chunks is not an error.
type Result struct {
	Chunks        []KnowledgeChunk
	CrossLanguage CrossLanguage
	// Query is the text actually searched (the translation, if any).
	Query string
}

// QueryEmbedder embeds query text.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Reranker re-scores chunks by query relevance.
type Reranker interface {
	Rerank(ctx context.Context, query string, chunks []KnowledgeChunk) ([]KnowledgeChunk, error)
}

// Translator translates queries into the index language.
type Translator interface {
	Translate(ctx context.Context, text, from, to string) (string, error)
}

// LiveSource returns recent-activity knowledge that is not in the index.
type LiveSource interface {
	Recent(ctx context.Context, query string, limit int) ([]KnowledgeChunk, error)
}

// Config tunes a Retriever.
type Config struct {
	TopK             int
	IndexLanguage    string
	Multilingual     bool
	TranslateTimeout time.Duration
}

// Options carries optional collaborators. Nil fields disable the feature.
type Options struct {
	Translator Translator
	Reranker   Reranker
	Live       LiveSource
}

const (
	minTopK = 3
	maxTopK = 5

	// priorityBoost is the relative score gain per priority point.
	priorityBoost = 0.05
	// rrfK is the reciprocal rank fusion constant.
	rrfK = 60
	// maxSubQueries bounds multi_hop fan-out.
	maxSubQueries = 3
)

// Retriever finds persona knowledge for a query with the retrieval pattern
// chosen by the decision engine.
type Retriever struct {
	embedder QueryEmbedder
	store    VectorStore
	cfg      Config
	opts     Options
}

// NewRetriever creates a Retriever backed by the given embedder and store.
func NewRetriever(embedder QueryEmbedder, store VectorStore, cfg Config, opts Options) *Retriever {
	if cfg.TopK == 0 {
		cfg.TopK = maxTopK
	}
	cfg.TopK = min(max(cfg.TopK, minTopK), maxTopK)
	if cfg.IndexLanguage == "" {
		cfg.IndexLanguage = "en"
	}
	if cfg.TranslateTimeout <= 0 {
		cfg.TranslateTimeout = 1500 * time.Millisecond
	}
	return &Retriever{embedder: embedder, store: store, cfg: cfg, opts: opts}
}

// TopK returns the clamped result size.
func (r *Retriever) TopK() int { return r.cfg.TopK }

// Retrieve runs the decision's retrieval pattern. The session language
// decides whether the query is translated first. Failures only reduce the
// number of chunks returned.
func (r *Retriever) Retrieve(ctx context.Context, query string, d decision.Decision, sess *session.Session) Result {
	res := Result{Query: query}
	lang := ""
	if sess != nil {
		lang = sess.CurrentLanguage
	}
	if lang != "" && lang != r.cfg.IndexLanguage {
		res.Query, res.CrossLanguage = r.crossLanguage(ctx, query, lang)
	}

	var chunks []KnowledgeChunk
	switch d.Pattern {
	case decision.PatternMultiHop:
		chunks = r.multiHop(ctx, res.Query)
	case decision.PatternHybridSearch:
		chunks = r.hybrid(ctx, res.Query)
	case decision.PatternToolEnhanced:
		chunks = r.toolEnhanced(ctx, res.Query)
	default:
		chunks = r.vector(ctx, res.Query, r.cfg.TopK)
	}

	res.Chunks = r.finish(chunks)
	return res
}

// Search is plain semantic search used by the MCP tools and admin API.
func (r *Retriever) Search(ctx context.Context, query string, limit int) ([]KnowledgeChunk, error) {
	if limit <= 0 {
		limit = r.cfg.TopK
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	scored, err := r.store.Search(ctx, vec, limit)
	if err != nil {
		return nil, err
	}
	return scoredToChunks(scored), nil
}

func (r *Retriever) crossLanguage(ctx context.Context, query, lang string) (string, CrossLanguage) {
	if r.cfg.Multilingual {
		return query, CrossDirect
	}
	if r.opts.Translator == nil {
		return query, CrossTranslationFailed
	}
	tctx, cancel := context.WithTimeout(ctx, r.cfg.TranslateTimeout)
	defer cancel()
	translated, err := r.opts.Translator.Translate(tctx, query, lang, r.cfg.IndexLanguage)
	if err != nil || strings.TrimSpace(translated) == "" {
		slog.Warn("query translation failed, searching original text", "from", lang, "to", r.cfg.IndexLanguage, "error", err)
		return query, CrossTranslationFailed
	}
	return strings.TrimSpace(translated), CrossTranslated
}

func (r *Retriever) vector(ctx context.Context, query string, k int) []KnowledgeChunk {
	chunks, err := r.Search(ctx, query, k)
	if err != nil {
		slog.Warn("vector search failed", "error", err)
		return nil
	}
	return chunks
}

func (r *Retriever) multiHop(ctx context.Context, query string) []KnowledgeChunk {
	subs := SubQuestions(query)
	results := make([][]KnowledgeChunk, len(subs))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxSubQueries)
	for i, q := range subs {
		g.Go(func() error {
			results[i] = r.vector(gCtx, q, r.cfg.TopK)
			return nil
		})
	}
	g.Wait()

	var all []KnowledgeChunk
	for _, rs := range results {
		all = append(all, rs...)
	}
	return dedupeBySource(all)
}

func (r *Retriever) hybrid(ctx context.Context, query string) []KnowledgeChunk {
	wide := r.cfg.TopK * 2
	var vec, kw []KnowledgeChunk

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vec = r.vector(gCtx, query, wide)
		return nil
	})
	if ks, ok := r.store.(KeywordSearcher); ok {
		g.Go(func() error {
			scored, err := ks.KeywordSearch(gCtx, query, wide)
			if err != nil {
				slog.Warn("keyword search failed", "error", err)
				return nil
			}
			kw = scoredToChunks(scored)
			return nil
		})
	}
	g.Wait()

	fused := fuse(vec, kw)
	if r.opts.Reranker == nil || len(fused) == 0 {
		return fused
	}
	reranked, err := r.opts.Reranker.Rerank(ctx, query, fused)
	if err != nil {
		slog.Warn("rerank failed, keeping fused order", "error", err)
		return fused
	}
	return reranked
}

func (r *Retriever) toolEnhanced(ctx context.Context, query string) []KnowledgeChunk {
	var indexed, live []KnowledgeChunk

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		indexed = r.vector(gCtx, query, r.cfg.TopK)
		return nil
	})
	if r.opts.Live != nil {
		g.Go(func() error {
			var err error
			live, err = r.opts.Live.Recent(gCtx, query, r.cfg.TopK)
			if err != nil {
				slog.Warn("live source failed", "error", err)
				live = nil
			}
			return nil
		})
	}
	g.Wait()

	return dedupeBySource(append(live, indexed...))
}

// finish applies the priority boost, sorts by score, and trims to top-K.
func (r *Retriever) finish(chunks []KnowledgeChunk) []KnowledgeChunk {
	for i := range chunks {
		chunks[i].Score = BoostedScore(chunks[i].Score, chunks[i].Priority)
	}
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Score > chunks[j].Score })
	if len(chunks) > r.cfg.TopK {
		chunks = chunks[:r.cfg.TopK]
	}
	return chunks
}

// BoostedScore raises score by 5% per priority point.
func BoostedScore(score float32, priority int) float32 {
	return score * (1 + priorityBoost*float32(priority))
}

// fuse merges ranked lists by reciprocal rank fusion. Fused scores are
// normalized so the best chunk scores 1.
func fuse(lists ...[]KnowledgeChunk) []KnowledgeChunk {
	byID := make(map[string]KnowledgeChunk)
	rrf := make(map[string]float64)
	var order []string
	for _, list := range lists {
		for rank, c := range list {
			if _, ok := byID[c.ID]; !ok {
				byID[c.ID] = c
				order = append(order, c.ID)
			}
			rrf[c.ID] += 1 / float64(rrfK+rank+1)
		}
	}
	if len(order) == 0 {
		return nil
	}

	var best float64
	for _, s := range rrf {
		best = max(best, s)
	}
	out := make([]KnowledgeChunk, 0, len(order))
	for _, id := range order {
		c := byID[id]
		c.Score = float32(rrf[id] / best)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// dedupeBySource keeps the best-scoring chunk per knowledge source.
func dedupeBySource(chunks []KnowledgeChunk) []KnowledgeChunk {
	best := make(map[string]int)
	var out []KnowledgeChunk
	for _, c := range chunks {
		key := c.SourceID
		if key == "" {
			key = c.ID
		}
		if i, ok := best[key]; ok {
			if c.Score > out[i].Score {
				out[i] = c
			}
			continue
		}
		best[key] = len(out)
		out = append(out, c)
	}
	return out
}

// SubQuestions splits a compound utterance into up to three focused
// questions: first on question marks, then on "and"/"y" between clauses of
// at least three words.
func SubQuestions(query string) []string {
	var parts []string
	for _, p := range strings.Split(query, "?") {
		if p = strings.TrimSpace(strings.Trim(p, "¿ .,;")); p != "" {
			parts = append(parts, p)
		}
	}

	var subs []string
	for _, p := range parts {
		subs = append(subs, splitConjunction(p)...)
	}
	if len(subs) == 0 {
		return []string{query}
	}
	if len(subs) > maxSubQueries {
		subs = subs[:maxSubQueries]
	}
	return subs
}

func splitConjunction(clause string) []string {
	words := strings.Fields(clause)
	for i, w := range words {
		lw := strings.ToLower(strings.Trim(w, ","))
		if lw != "and" && lw != "y" {
			continue
		}
		left, right := words[:i], words[i+1:]
		if len(left) >= 3 && len(right) >= 3 {
			return append([]string{strings.TrimRight(strings.Join(left, " "), ",")}, splitConjunction(strings.Join(right, " "))...)
		}
	}
	return []string{clause}
}

func scoredToChunks(scored []ScoredRecord) []KnowledgeChunk {
	chunks := make([]KnowledgeChunk, len(scored))
	for i, s := range scored {
		chunks[i] = KnowledgeChunk{
			ID:         s.ID,
			SourceID:   s.SourceID,
			SourceType: s.SourceType,
			Text:       s.TextChunk,
			Language:   s.Language,
			Score:      s.Score,
			Tags:       s.Tags,
			Priority:   s.Priority,
			CreatedAt:  s.CreatedAt,
		}
	}
	return chunks
}

// String formats a chunk for logs.
func (c KnowledgeChunk) String() string {
	return fmt.Sprintf("%s(%s, %.2f)", c.ID, c.Language, c.Score)
}
