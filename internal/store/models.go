package store

import "time"

// KnowledgeChunk is one indexed unit of lesson text with its embedding.
// ID is the upsert key: re-indexing an existing ID replaces every mutable
// field atomically and never creates a second row.
type KnowledgeChunk struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []float32      `json:"-"`
	Source    string         `json:"source,omitempty"`
	Lesson    string         `json:"lesson,omitempty"`
	Order     int            `json:"order"`
	Tags      []string       `json:"tags,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ScoredChunk pairs a chunk with its distance to a query vector.
type ScoredChunk struct {
	Chunk    KnowledgeChunk
	Distance float32
}

type Conversation struct {
	ID        string    `json:"id"` // UUID
	UserID    string    `json:"user_id"`
	Title     *string   `json:"title"` // Nullable
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID             string    `json:"id"` // UUID
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"` // "user" or "model"
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// SessionMemory is one append-only log entry: a point-in-time condensation
// of a single session, distinct from the long-term memory document.
type SessionMemory struct {
	ID         string    `json:"id"` // UUID
	UserID     string    `json:"user_id"`
	MemoryType string    `json:"memory_type"`
	Summary    string    `json:"summary"`
	CreatedAt  time.Time `json:"created_at"`
}
