package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// SessionRecord is the persisted header row of a conversation session.
type SessionRecord struct {
	ID               string
	Channel          string
	Identity         string
	CurrentLanguage  string
	PreviousLanguage string
	TurnCount        int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TurnRecord is one persisted history entry of a session.
type TurnRecord struct {
	ID                 string
	SessionID          string
	Index              int
	Role               string
	Text               string
	DetectedLanguage   string
	LanguageConfidence float64
	RAGPattern         string
	LatencyMs          int64
	SourceAudioRef     string
	Metadata           string // JSON object stored as text
	CreatedAt          time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// KnowledgeDoc is a source document the twin answers from. Docs synced from
// the content feed carry the feed's item ID in ExternalID.
type KnowledgeDoc struct {
	ID         string
	ExternalID string
	Title      string
	Content    string
	Source     string
	Language   string
	Priority   int
	Tags       string // JSON array stored as text
	CreatedAt  time.Time
	UpdatedAt  time.Time
	VectorIDs  string // JSON array stored as text
}

// DecisionRecord is one row of the routing decision log.
type DecisionRecord struct {
	ID         string
	SessionID  string
	Channel    string
	Utterance  string
	Kind       string
	Pattern    string
	Confidence float64
	Escalated  bool
	Reason     string
	CreatedAt  time.Time
}
