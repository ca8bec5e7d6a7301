// Package ingest turns knowledge documents into searchable vectors: it
// resolves text, URL and file sources, syncs the content feed, and runs the
// embedding job queue.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/twin/internal/retrieval"
	"github.com/kalambet/twin/internal/storage"
)

// JobEmbed is the job type that (re)embeds a knowledge document.
const JobEmbed = "knowledge_embed"

// SourceFeed marks documents synced from the content feed. Feed items are
// already chunked and are embedded whole.
const SourceFeed = "feed"

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetKnowledgeDoc(id string) (storage.KnowledgeDoc, error)
	SetKnowledgeDocVectorIDs(id, vectorIDs string) error
}

// ContentEmbedder generates embeddings for a batch of texts.
type ContentEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorWriter replaces the vectors of a document.
type VectorWriter interface {
	Insert(ctx context.Context, records []retrieval.Record) error
	DeleteBySource(ctx context.Context, sourceID string) (int, error)
}

// Worker processes knowledge_embed jobs from the SQLite job queue.
type Worker struct {
	store     JobStore
	embedder  ContentEmbedder
	vectors   VectorWriter
	poll      time.Duration
	chunkSize int
	logger    *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, embedder ContentEmbedder, vectors VectorWriter, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:     store,
		embedder:  embedder,
		vectors:   vectors,
		poll:      pollInterval,
		chunkSize: DefaultChunkSize,
		logger:    slog.Default().With("component", "ingest"),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single knowledge_embed job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobEmbed})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

type embedPayload struct {
	DocID string `json:"doc_id"`
}

// EnqueueEmbed queues a document for embedding.
func EnqueueEmbed(store interface{ EnqueueJob(storage.Job) error }, docID string) error {
	payload, err := json.Marshal(embedPayload{DocID: docID})
	if err != nil {
		return fmt.Errorf("marshaling embed payload: %w", err)
	}
	return store.EnqueueJob(storage.Job{
		ID:          uuid.NewString(),
		Type:        JobEmbed,
		PayloadJSON: string(payload),
	})
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload embedPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	doc, err := w.store.GetKnowledgeDoc(payload.DocID)
	if err != nil {
		return fmt.Errorf("loading knowledge doc %s: %w", payload.DocID, err)
	}

	chunks := []string{doc.Content}
	if doc.Source != SourceFeed {
		chunks = Chunk(doc.Content, w.chunkSize)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("knowledge doc %s has no text", doc.ID)
	}

	vecs, err := w.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return fmt.Errorf("embedding content: %w", err)
	}

	now := time.Now().UTC()
	records := make([]retrieval.Record, len(chunks))
	ids := make([]string, len(chunks))
	for i, text := range chunks {
		ids[i] = uuid.NewString()
		records[i] = retrieval.Record{
			ID:         ids[i],
			SourceID:   doc.ID,
			SourceType: doc.Source,
			TextChunk:  text,
			Embedding:  vecs[i],
			Language:   doc.Language,
			Priority:   doc.Priority,
			CreatedAt:  now,
			Tags:       doc.Tags,
		}
	}

	// Re-embedding replaces the document's previous vectors.
	if _, err := w.vectors.DeleteBySource(ctx, doc.ID); err != nil {
		return fmt.Errorf("deleting old vectors: %w", err)
	}
	if err := w.vectors.Insert(ctx, records); err != nil {
		return fmt.Errorf("inserting vectors: %w", err)
	}

	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshaling vector ids: %w", err)
	}
	if err := w.store.SetKnowledgeDocVectorIDs(doc.ID, string(idsJSON)); err != nil {
		return fmt.Errorf("updating vector_ids: %w", err)
	}

	w.logger.Info("knowledge embedded", "doc_id", doc.ID, "chunks", len(chunks), "language", doc.Language)
	return nil
}
