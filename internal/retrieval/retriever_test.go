package retrieval

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/twin/internal/decision"
	"github.com/kalambet/twin/internal/session"
)

// mockVectorStore implements VectorStore and KeywordSearcher for testing.
type mockVectorStore struct {
	searchFn  func(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error)
	keywordFn func(ctx context.Context, query string, topK int) ([]ScoredRecord, error)
}

func (m *mockVectorStore) Insert(context.Context, []Record) error { return nil }
func (m *mockVectorStore) Search(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error) {
	return m.searchFn(ctx, vector, topK)
}
func (m *mockVectorStore) KeywordSearch(ctx context.Context, query string, topK int) ([]ScoredRecord, error) {
	if m.keywordFn == nil {
		return nil, nil
	}
	return m.keywordFn(ctx, query, topK)
}
func (m *mockVectorStore) GetByIDs(context.Context, []string) ([]Record, error) { return nil, nil }
func (m *mockVectorStore) Delete(context.Context, string) error                 { return nil }
func (m *mockVectorStore) DeleteBySource(context.Context, string) (int, error)  { return 0, nil }
func (m *mockVectorStore) Count(context.Context) (int, error)                   { return 0, nil }

// textEmbedder encodes the query text length into the vector so searches can
// tell sub-queries apart.
type textEmbedder struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (e *textEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.texts = append(e.texts, text)
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text))}, nil
}

type mockReranker struct {
	rerankFn func(ctx context.Context, query string, chunks []KnowledgeChunk) ([]KnowledgeChunk, error)
}

func (m *mockReranker) Rerank(ctx context.Context, query string, chunks []KnowledgeChunk) ([]KnowledgeChunk, error) {
	return m.rerankFn(ctx, query, chunks)
}

type translatorFunc func(ctx context.Context, text, from, to string) (string, error)

func (f translatorFunc) Translate(ctx context.Context, text, from, to string) (string, error) {
	return f(ctx, text, from, to)
}

type liveFunc func(ctx context.Context, query string, limit int) ([]KnowledgeChunk, error)

func (f liveFunc) Recent(ctx context.Context, query string, limit int) ([]KnowledgeChunk, error) {
	return f(ctx, query, limit)
}

func scored(id, source string, score float32, priority int) ScoredRecord {
	return ScoredRecord{
		Record: Record{ID: id, SourceID: source, SourceType: "feed", TextChunk: "text " + id, Language: "en", Priority: priority},
		Score:  score,
	}
}

func fixedStore(recs ...ScoredRecord) *mockVectorStore {
	return &mockVectorStore{
		searchFn: func(_ context.Context, _ []float32, topK int) ([]ScoredRecord, error) {
			if len(recs) > topK {
				return recs[:topK], nil
			}
			return recs, nil
		},
	}
}

func search(p decision.Pattern) decision.Decision {
	return decision.Decision{Kind: decision.KindSearch, Pattern: p, Confidence: 0.8}
}

func englishSession() *session.Session {
	return &session.Session{ID: "s1", CurrentLanguage: "en"}
}

func ids(chunks []KnowledgeChunk) string {
	var out []string
	for _, c := range chunks {
		out = append(out, c.ID)
	}
	return strings.Join(out, ",")
}

func TestNewRetriever_ClampsTopK(t *testing.T) {
	for _, tc := range []struct{ in, want int }{{0, 5}, {1, 3}, {4, 4}, {20, 5}} {
		r := NewRetriever(&textEmbedder{}, fixedStore(), Config{TopK: tc.in}, Options{})
		if r.TopK() != tc.want {
			t.Errorf("TopK(%d) = %d, want %d", tc.in, r.TopK(), tc.want)
		}
	}
}

func TestRetrieve_Standard(t *testing.T) {
	store := fixedStore(
		scored("a", "d1", 0.9, 0),
		scored("b", "d2", 0.8, 0),
		scored("c", "d3", 0.7, 0),
		scored("d", "d4", 0.6, 0),
	)
	r := NewRetriever(&textEmbedder{}, store, Config{TopK: 3}, Options{})

	res := r.Retrieve(context.Background(), "what do you work on", search(decision.PatternStandard), englishSession())
	if got := ids(res.Chunks); got != "a,b,c" {
		t.Errorf("chunks = %s, want a,b,c", got)
	}
	if res.CrossLanguage != CrossNone {
		t.Errorf("CrossLanguage = %q", res.CrossLanguage)
	}
}

func TestRetrieve_PriorityBoost(t *testing.T) {
	// 0.8 * (1 + 0.05*4) = 0.96 beats 0.9.
	store := fixedStore(scored("plain", "d1", 0.9, 0), scored("pinned", "d2", 0.8, 4))
	r := NewRetriever(&textEmbedder{}, store, Config{TopK: 3}, Options{})

	res := r.Retrieve(context.Background(), "career", search(decision.PatternStandard), englishSession())
	if got := ids(res.Chunks); got != "pinned,plain" {
		t.Errorf("chunks = %s, want pinned,plain", got)
	}
	if diff := res.Chunks[0].Score - 0.96; diff > 1e-5 || diff < -1e-5 {
		t.Errorf("boosted score = %v, want 0.96", res.Chunks[0].Score)
	}
}

func TestRetrieve_EmbedFailureReturnsNoChunks(t *testing.T) {
	r := NewRetriever(&textEmbedder{err: errors.New("ollama down")}, fixedStore(scored("a", "d1", 0.9, 0)), Config{}, Options{})

	res := r.Retrieve(context.Background(), "anything", search(decision.PatternStandard), englishSession())
	if len(res.Chunks) != 0 {
		t.Errorf("got %d chunks, want 0", len(res.Chunks))
	}
}

func TestRetrieve_CrossLanguageTranslated(t *testing.T) {
	emb := &textEmbedder{}
	tr := translatorFunc(func(_ context.Context, text, from, to string) (string, error) {
		if from != "es" || to != "en" {
			t.Errorf("translate %s->%s", from, to)
		}
		return "what projects have you led", nil
	})
	r := NewRetriever(emb, fixedStore(scored("a", "d1", 0.9, 0)), Config{IndexLanguage: "en"}, Options{Translator: tr})

	sess := &session.Session{ID: "s1", CurrentLanguage: "es"}
	res := r.Retrieve(context.Background(), "qué proyectos has liderado", search(decision.PatternStandard), sess)
	if res.CrossLanguage != CrossTranslated {
		t.Errorf("CrossLanguage = %q, want translated", res.CrossLanguage)
	}
	if res.Query != "what projects have you led" || emb.texts[0] != res.Query {
		t.Errorf("searched %q", emb.texts)
	}
}

func TestRetrieve_CrossLanguageFailureSearchesOriginal(t *testing.T) {
	emb := &textEmbedder{}
	tr := translatorFunc(func(context.Context, string, string, string) (string, error) {
		return "", errors.New("timeout")
	})
	r := NewRetriever(emb, fixedStore(scored("a", "d1", 0.9, 0)), Config{}, Options{Translator: tr})

	sess := &session.Session{ID: "s1", CurrentLanguage: "fr"}
	res := r.Retrieve(context.Background(), "quels projets", search(decision.PatternStandard), sess)
	if res.CrossLanguage != CrossTranslationFailed {
		t.Errorf("CrossLanguage = %q, want translation_failed", res.CrossLanguage)
	}
	if emb.texts[0] != "quels projets" {
		t.Errorf("searched %q, want original text", emb.texts[0])
	}
	if len(res.Chunks) != 1 {
		t.Errorf("got %d chunks", len(res.Chunks))
	}
}

func TestRetrieve_MultilingualSkipsTranslation(t *testing.T) {
	tr := translatorFunc(func(context.Context, string, string, string) (string, error) {
		t.Fatal("translator called for multilingual index")
		return "", nil
	})
	r := NewRetriever(&textEmbedder{}, fixedStore(), Config{Multilingual: true}, Options{Translator: tr})

	res := r.Retrieve(context.Background(), "hallo", search(decision.PatternStandard), &session.Session{CurrentLanguage: "de"})
	if res.CrossLanguage != CrossDirect {
		t.Errorf("CrossLanguage = %q, want direct", res.CrossLanguage)
	}
}

func TestRetrieve_MultiHopMergesBySource(t *testing.T) {
	emb := &textEmbedder{}
	store := &mockVectorStore{
		searchFn: func(_ context.Context, vec []float32, _ int) ([]ScoredRecord, error) {
			// Sub-queries are told apart by their length.
			if vec[0] == float32(len("where did you study")) {
				return []ScoredRecord{scored("edu", "d-edu", 0.9, 0), scored("shared-1", "d-shared", 0.5, 0)}, nil
			}
			return []ScoredRecord{scored("job", "d-job", 0.85, 0), scored("shared-2", "d-shared", 0.7, 0)}, nil
		},
	}
	r := NewRetriever(emb, store, Config{TopK: 5}, Options{})

	res := r.Retrieve(context.Background(), "Where did you study? What was your first job?", search(decision.PatternMultiHop), englishSession())
	if len(emb.texts) != 2 {
		t.Fatalf("embedded %d sub-queries, want 2: %q", len(emb.texts), emb.texts)
	}
	if got := ids(res.Chunks); got != "edu,job,shared-2" {
		t.Errorf("chunks = %s, want edu,job,shared-2", got)
	}
}

func TestRetrieve_HybridFusesAndReranks(t *testing.T) {
	store := fixedStore(scored("v1", "d1", 0.9, 0), scored("both", "d2", 0.8, 0))
	store.keywordFn = func(_ context.Context, query string, _ int) ([]ScoredRecord, error) {
		return []ScoredRecord{scored("both", "d2", 1, 0), scored("k1", "d3", 0.5, 0)}, nil
	}
	var seen []KnowledgeChunk
	rr := &mockReranker{rerankFn: func(_ context.Context, _ string, chunks []KnowledgeChunk) ([]KnowledgeChunk, error) {
		seen = chunks
		return chunks, nil
	}}
	r := NewRetriever(&textEmbedder{}, store, Config{TopK: 3}, Options{Reranker: rr})

	res := r.Retrieve(context.Background(), "compare Go and Rust", search(decision.PatternHybridSearch), englishSession())
	if len(seen) != 3 {
		t.Fatalf("reranker saw %d chunks, want 3", len(seen))
	}
	if res.Chunks[0].ID != "both" || res.Chunks[0].Score != 1 {
		t.Errorf("top chunk = %v, want both with score 1", res.Chunks[0])
	}
}

func TestRetrieve_HybridRerankFailureKeepsFused(t *testing.T) {
	store := fixedStore(scored("v1", "d1", 0.9, 0))
	rr := &mockReranker{rerankFn: func(context.Context, string, []KnowledgeChunk) ([]KnowledgeChunk, error) {
		return nil, errors.New("timeout")
	}}
	r := NewRetriever(&textEmbedder{}, store, Config{}, Options{Reranker: rr})

	res := r.Retrieve(context.Background(), "x vs y", search(decision.PatternHybridSearch), englishSession())
	if got := ids(res.Chunks); got != "v1" {
		t.Errorf("chunks = %s, want v1", got)
	}
}

func TestRetrieve_ToolEnhancedAddsLive(t *testing.T) {
	live := liveFunc(func(_ context.Context, _ string, limit int) ([]KnowledgeChunk, error) {
		return []KnowledgeChunk{{ID: "live:1", SourceID: "live:1", SourceType: "live", Score: 0.9}}, nil
	})
	r := NewRetriever(&textEmbedder{}, fixedStore(scored("a", "d1", 0.6, 0)), Config{}, Options{Live: live})

	res := r.Retrieve(context.Background(), "what are you working on lately", search(decision.PatternToolEnhanced), englishSession())
	if got := ids(res.Chunks); got != "live:1,a" {
		t.Errorf("chunks = %s, want live:1,a", got)
	}
}

func TestRetrieve_ToolEnhancedLiveFailure(t *testing.T) {
	live := liveFunc(func(context.Context, string, int) ([]KnowledgeChunk, error) {
		return nil, errors.New("feed down")
	})
	r := NewRetriever(&textEmbedder{}, fixedStore(scored("a", "d1", 0.6, 0)), Config{}, Options{Live: live})

	res := r.Retrieve(context.Background(), "latest news", search(decision.PatternToolEnhanced), englishSession())
	if got := ids(res.Chunks); got != "a" {
		t.Errorf("chunks = %s, want a", got)
	}
}

func TestSearch(t *testing.T) {
	r := NewRetriever(&textEmbedder{}, fixedStore(scored("a", "d1", 0.9, 0), scored("b", "d2", 0.8, 0)), Config{}, Options{})

	chunks, err := r.Search(context.Background(), "go", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Text != "text a" {
		t.Errorf("chunks = %+v", chunks)
	}
}

func TestSubQuestions(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Where did you study? What was your first job?", []string{"Where did you study", "What was your first job"}},
		{"what did you study and where did you work after that", []string{"what did you study", "where did you work after that"}},
		{"salt and pepper", []string{"salt and pepper"}},
		{"¿Dónde estudiaste tu carrera y cuál fue tu primer trabajo?", []string{"Dónde estudiaste tu carrera", "cuál fue tu primer trabajo"}},
		{"a? b? c? d?", []string{"a", "b", "c"}},
	}
	for _, tc := range tests {
		got := SubQuestions(tc.in)
		if strings.Join(got, "|") != strings.Join(tc.want, "|") {
			t.Errorf("SubQuestions(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestBoostedScore(t *testing.T) {
	if got := BoostedScore(0.5, 0); got != 0.5 {
		t.Errorf("priority 0: %v", got)
	}
	if got := BoostedScore(0.5, 10); got != 0.75 {
		t.Errorf("priority 10: %v", got)
	}
}
