package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/twin/internal/storage"
)

// ErrNotFound is returned by Get and Delete for unknown sessions.
var ErrNotFound = storage.ErrNotFound

// Store is durable session state.
type Store interface {
	// Load returns the session, creating it when absent. A non-empty identity
	// is recorded on the session and the identity's other sessions are
	// merged into Linked.
	Load(ctx context.Context, id string, channel Channel, identity string) (*Session, error)
	// Get returns an existing session without creating it.
	Get(ctx context.Context, id string) (*Session, error)
	// Append atomically adds turns and returns the updated session.
	Append(ctx context.Context, id string, turns ...Turn) (*Session, error)
	Delete(ctx context.Context, id string) error
	PurgeIdle(ctx context.Context, olderThan time.Time) (int, error)
}

// Backend defines the storage operations SQLStore needs.
// Implemented by storage.Store.
type Backend interface {
	CreateSession(ctx context.Context, rec storage.SessionRecord) error
	GetSession(ctx context.Context, id string) (storage.SessionRecord, error)
	SetSessionIdentity(ctx context.Context, id, identity string) error
	AppendTurns(ctx context.Context, rec storage.SessionRecord, turns []storage.TurnRecord) error
	ListTurns(ctx context.Context, sessionID string) ([]storage.TurnRecord, error)
	ListTurnsByIdentity(ctx context.Context, identity, excludeSessionID string, limit int) ([]storage.TurnRecord, error)
	DeleteSession(ctx context.Context, id string) error
	PurgeIdleSessions(ctx context.Context, cutoff time.Time) (int, error)
}

// Options configures an SQLStore.
type Options struct {
	// PrimaryLanguage is the language of new sessions.
	PrimaryLanguage string
	// SwitchThreshold is the detection confidence needed to change language.
	SwitchThreshold float64
	// LinkedLimit caps the turns merged from the identity's other sessions.
	LinkedLimit int
}

// SQLStore is a Store on the SQLite database.
type SQLStore struct {
	backend Backend
	opts    Options
	locks   Locks
	now     func() time.Time
}

var _ Store = (*SQLStore)(nil)

func NewSQLStore(b Backend, opts Options) *SQLStore {
	if opts.PrimaryLanguage == "" {
		opts.PrimaryLanguage = "en"
	}
	if opts.SwitchThreshold <= 0 {
		opts.SwitchThreshold = 0.7
	}
	if opts.LinkedLimit <= 0 {
		opts.LinkedLimit = 20
	}
	return &SQLStore{backend: b, opts: opts, now: time.Now}
}

func (s *SQLStore) Load(ctx context.Context, id string, channel Channel, identity string) (*Session, error) {
	rec, err := s.backend.GetSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		err = s.backend.CreateSession(ctx, storage.SessionRecord{
			ID:              id,
			Channel:         string(channel),
			Identity:        identity,
			CurrentLanguage: s.opts.PrimaryLanguage,
			CreatedAt:       s.now().UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("creating session %s: %w", id, err)
		}
		rec, err = s.backend.GetSession(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}

	if identity != "" && rec.Identity != identity {
		if err := s.backend.SetSessionIdentity(ctx, id, identity); err != nil {
			return nil, fmt.Errorf("setting identity on session %s: %w", id, err)
		}
		rec.Identity = identity
	}

	sess, err := s.hydrate(ctx, rec)
	if err != nil {
		return nil, err
	}

	if rec.Identity != "" {
		linked, err := s.backend.ListTurnsByIdentity(ctx, rec.Identity, id, s.opts.LinkedLimit)
		if err != nil {
			// A failed merge only loses context from other channels.
			slog.Warn("loading linked history failed", "session", id, "error", err)
		} else {
			sess.Linked = fromRecords(linked)
		}
	}
	return sess, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Session, error) {
	rec, err := s.backend.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, rec)
}

func (s *SQLStore) Append(ctx context.Context, id string, turns ...Turn) (*Session, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	rec, err := s.backend.GetSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("appending to session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}

	sess := &Session{CurrentLanguage: rec.CurrentLanguage, PreviousLanguage: rec.PreviousLanguage}
	now := s.now().UTC()
	records := make([]storage.TurnRecord, 0, len(turns))
	for i := range turns {
		t := &turns[i]
		t.Index = rec.TurnCount + i
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		if t.Timestamp.IsZero() {
			t.Timestamp = now
		}
		if t.Role == RoleUser {
			sess.ApplyLanguage(t.DetectedLanguage, t.LanguageConfidence, s.opts.SwitchThreshold)
		}
		r, err := toRecord(id, *t)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	rec.CurrentLanguage = sess.CurrentLanguage
	rec.PreviousLanguage = sess.PreviousLanguage
	rec.TurnCount += len(turns)
	rec.UpdatedAt = now
	if err := s.backend.AppendTurns(ctx, rec, records); err != nil {
		return nil, fmt.Errorf("appending turns to session %s: %w", id, err)
	}

	return s.hydrate(ctx, rec)
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	return s.backend.DeleteSession(ctx, id)
}

func (s *SQLStore) PurgeIdle(ctx context.Context, olderThan time.Time) (int, error) {
	return s.backend.PurgeIdleSessions(ctx, olderThan)
}

func (s *SQLStore) hydrate(ctx context.Context, rec storage.SessionRecord) (*Session, error) {
	turns, err := s.backend.ListTurns(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("loading history of session %s: %w", rec.ID, err)
	}
	history := fromRecords(turns)
	return &Session{
		ID:               rec.ID,
		Channel:          Channel(rec.Channel),
		Identity:         rec.Identity,
		History:          history,
		TurnCount:        len(history),
		CurrentLanguage:  rec.CurrentLanguage,
		PreviousLanguage: rec.PreviousLanguage,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}, nil
}

func toRecord(sessionID string, t Turn) (storage.TurnRecord, error) {
	meta := "{}"
	if len(t.Metadata) > 0 {
		b, err := json.Marshal(t.Metadata)
		if err != nil {
			return storage.TurnRecord{}, fmt.Errorf("encoding turn metadata: %w", err)
		}
		meta = string(b)
	}
	return storage.TurnRecord{
		ID:                 t.ID,
		SessionID:          sessionID,
		Index:              t.Index,
		Role:               string(t.Role),
		Text:               t.Text,
		DetectedLanguage:   t.DetectedLanguage,
		LanguageConfidence: t.LanguageConfidence,
		RAGPattern:         t.RAGPattern,
		LatencyMs:          t.LatencyMs,
		SourceAudioRef:     t.SourceAudioRef,
		Metadata:           meta,
		CreatedAt:          t.Timestamp,
	}, nil
}

func fromRecords(recs []storage.TurnRecord) []Turn {
	out := make([]Turn, 0, len(recs))
	for _, r := range recs {
		t := Turn{
			ID:                 r.ID,
			Index:              r.Index,
			Role:               Role(r.Role),
			Text:               r.Text,
			DetectedLanguage:   r.DetectedLanguage,
			LanguageConfidence: r.LanguageConfidence,
			RAGPattern:         r.RAGPattern,
			LatencyMs:          r.LatencyMs,
			Timestamp:          r.CreatedAt,
			SourceAudioRef:     r.SourceAudioRef,
		}
		if r.Metadata != "" && r.Metadata != "{}" {
			if err := json.Unmarshal([]byte(r.Metadata), &t.Metadata); err != nil {
				slog.Warn("ignoring undecodable turn metadata", "turn", r.ID, "error", err)
			}
		}
		out = append(out, t)
	}
	return out
}
