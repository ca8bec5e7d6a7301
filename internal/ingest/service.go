package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/twin/internal/langdetect"
	"github.com/kalambet/twin/internal/storage"
)

const maxURLFetchSize = 5 << 20 // 5MB

// ErrInvalidInput marks requests that can never succeed as sent.
var ErrInvalidInput = errors.New("invalid knowledge input")

// Store is the knowledge and job persistence the Service needs.
// Implemented by storage.Store.
type Store interface {
	SaveKnowledgeDoc(doc storage.KnowledgeDoc) error
	UpdateKnowledgeDoc(doc storage.KnowledgeDoc) error
	GetKnowledgeDoc(id string) (storage.KnowledgeDoc, error)
	GetKnowledgeDocByExternalID(externalID string) (storage.KnowledgeDoc, error)
	ListKnowledgeDocs(limit, offset int) ([]storage.KnowledgeDoc, error)
	DeleteKnowledgeDoc(id string) error
	EnqueueJob(job storage.Job) error
}

// VectorDeleter removes a document's vectors.
type VectorDeleter interface {
	DeleteBySource(ctx context.Context, sourceID string) (int, error)
}

// Input is one knowledge addition. Type is "text" (default), "url" or
// "file"; file content is base64 and may be a PDF.
type Input struct {
	Type     string   `json:"type"`
	Source   string   `json:"source"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	URL      string   `json:"url"`
	Tags     []string `json:"tags"`
	Language string   `json:"language"`
	Priority int      `json:"priority"`
}

// Service adds and removes knowledge documents. Embedding happens later in
// the Worker.
type Service struct {
	store    Store
	vectors  VectorDeleter
	detector langdetect.Detector
	client   *http.Client
}

// NewService creates a Service. vectors and detector may be nil.
func NewService(store Store, vectors VectorDeleter, detector langdetect.Detector, client *http.Client) *Service {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Service{store: store, vectors: vectors, detector: detector, client: client}
}

// Add resolves the input to text, stores it as a document and queues it
// for embedding.
func (s *Service) Add(ctx context.Context, in Input) (storage.KnowledgeDoc, error) {
	if in.Type == "" {
		in.Type = "text"
	}
	if in.Source == "" {
		in.Source = in.Type
	}

	text, err := s.resolve(ctx, &in)
	if err != nil {
		return storage.KnowledgeDoc{}, err
	}
	if strings.TrimSpace(text) == "" {
		return storage.KnowledgeDoc{}, fmt.Errorf("%w: no text content", ErrInvalidInput)
	}

	tags := "[]"
	if len(in.Tags) > 0 {
		b, err := json.Marshal(in.Tags)
		if err != nil {
			return storage.KnowledgeDoc{}, fmt.Errorf("marshaling tags: %w", err)
		}
		tags = string(b)
	}

	lang := langdetect.Normalize(in.Language)
	if lang == "" && s.detector != nil {
		lang = s.detector.Detect(text).Language
	}

	doc := storage.KnowledgeDoc{
		ID:        uuid.NewString(),
		Title:     in.Title,
		Content:   text,
		Source:    in.Source,
		Language:  lang,
		Priority:  in.Priority,
		Tags:      tags,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.SaveKnowledgeDoc(doc); err != nil {
		return storage.KnowledgeDoc{}, fmt.Errorf("saving knowledge doc: %w", err)
	}
	if err := EnqueueEmbed(s.store, doc.ID); err != nil {
		return doc, fmt.Errorf("saved doc but failed to queue embedding: %w", err)
	}
	return doc, nil
}

func (s *Service) resolve(ctx context.Context, in *Input) (string, error) {
	switch in.Type {
	case "text":
		if in.Content == "" {
			return "", fmt.Errorf("%w: content is required", ErrInvalidInput)
		}
		return in.Content, nil
	case "url":
		if in.URL == "" {
			return "", fmt.Errorf("%w: url is required", ErrInvalidInput)
		}
		if in.Title == "" {
			in.Title = in.URL
		}
		return s.fetch(ctx, in.URL)
	case "file":
		raw, err := base64.StdEncoding.DecodeString(in.Content)
		if err != nil {
			return "", fmt.Errorf("%w: invalid base64 content", ErrInvalidInput)
		}
		return DecodeFile(raw)
	default:
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidInput, in.Type)
	}
}

// DecodeFile extracts text from an uploaded file: PDF by magic number, HTML
// by a leading tag, plain text otherwise.
func DecodeFile(raw []byte) (string, error) {
	switch {
	case isPDF(raw):
		return ExtractPDF(bytes.NewReader(raw), int64(len(raw)))
	case looksLikeHTML(raw):
		return StripHTML(string(raw)), nil
	default:
		return string(raw), nil
	}
}

func looksLikeHTML(b []byte) bool {
	head := strings.ToLower(strings.TrimSpace(string(b[:min(len(b), 512)])))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}

func (s *Service) fetch(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: invalid url: %v", ErrInvalidInput, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("url returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxURLFetchSize))
	if err != nil {
		return "", fmt.Errorf("reading url response: %w", err)
	}

	ct := resp.Header.Get("Content-Type")
	switch {
	case strings.Contains(ct, "application/pdf") || isPDF(body):
		return ExtractPDF(bytes.NewReader(body), int64(len(body)))
	case strings.Contains(ct, "text/html") || looksLikeHTML(body):
		return StripHTML(string(body)), nil
	default:
		return string(body), nil
	}
}

func (s *Service) List(limit, offset int) ([]storage.KnowledgeDoc, error) {
	docs, err := s.store.ListKnowledgeDocs(limit, offset)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []storage.KnowledgeDoc{}
	}
	return docs, nil
}

// Delete removes a document and its vectors.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.store.GetKnowledgeDoc(id); err != nil {
		return err
	}
	if s.vectors != nil {
		if _, err := s.vectors.DeleteBySource(ctx, id); err != nil {
			return fmt.Errorf("deleting vectors: %w", err)
		}
	}
	return s.store.DeleteKnowledgeDoc(id)
}
