package retrieval

import (
	"context"
	"time"
)

// VectorStore is the interface for knowledge vector storage and similarity
// search. The SQLite implementation scans every vector; an ANN-capable
// backend can replace it behind this interface.
type VectorStore interface {
	// Insert adds records.
	Insert(ctx context.Context, records []Record) error

	// Search returns the top-K records by cosine similarity to vector.
	Search(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error)

	// GetByIDs returns records matching the given IDs.
	GetByIDs(ctx context.Context, ids []string) ([]Record, error)

	// Delete removes a record by ID.
	Delete(ctx context.Context, id string) error

	// DeleteBySource removes every record derived from a knowledge document.
	DeleteBySource(ctx context.Context, sourceID string) (int, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
}

// KeywordSearcher is implemented by stores that can rank records by term
// overlap with a query. hybrid_search uses it alongside vector search.
type KeywordSearcher interface {
	KeywordSearch(ctx context.Context, query string, topK int) ([]ScoredRecord, error)
}

// Record represents a row in the vector store.
type Record struct {
	ID         string
	SourceID   string
	SourceType string
	TextChunk  string
	Embedding  []float32
	Language   string
	Priority   int
	CreatedAt  time.Time
	Tags       string // JSON array stored as text
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}
