package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"talbashan.ai/assistant/internal/logger"
	"talbashan.ai/assistant/internal/memory"
	"talbashan.ai/assistant/internal/utils"
)

type SQLiteStore struct {
	db *sql.DB

	// In-memory cache of chunks with embeddings, rebuilt lazily after any
	// upsert. Nearest-neighbor search scans this cache.
	chunkMu    sync.RWMutex
	chunkCache []KnowledgeChunk
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite handles one writer at a time; a single pooled connection avoids
	// SQLITE_BUSY under concurrent writes and keeps :memory: databases from
	// being split across connections.
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS knowledge_chunks (
        id TEXT PRIMARY KEY,
        text TEXT NOT NULL,
        metadata_json TEXT,
        embedding_json TEXT,
        source TEXT,
        lesson TEXT,
        chunk_order INTEGER DEFAULT 0,
        tags_json TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS memory_documents (
        user_id TEXT PRIMARY KEY,
        document_json TEXT NOT NULL,
        last_updated DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS session_memories (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT NOT NULL,
        memory_type TEXT NOT NULL,
        summary TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS conversations (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT NOT NULL,
        title TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        conversation_id TEXT NOT NULL,
        sender TEXT NOT NULL CHECK (sender IN ('user', 'model')),
        content TEXT NOT NULL,
        timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (conversation_id) REFERENCES conversations (id)
    );

    CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id);
    CREATE INDEX IF NOT EXISTS idx_session_memories_user ON session_memories (user_id);
    CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations (user_id);
    `
	_, err := s.db.Exec(schema)
	return err
}

// Knowledge chunk methods

// UpsertChunk inserts or replaces a chunk by ID. All mutable fields are
// replaced in one statement; created_at survives re-indexing.
func (s *SQLiteStore) UpsertChunk(chunk *KnowledgeChunk) error {
	embeddingJSON, err := json.Marshal(chunk.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	metadataJSON, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	tagsJSON, err := json.Marshal(chunk.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = time.Now()
	}

	_, err = s.db.Exec(`
        INSERT INTO knowledge_chunks (id, text, metadata_json, embedding_json, source, lesson, chunk_order, tags_json, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            text = excluded.text,
            metadata_json = excluded.metadata_json,
            embedding_json = excluded.embedding_json,
            source = excluded.source,
            lesson = excluded.lesson,
            chunk_order = excluded.chunk_order,
            tags_json = excluded.tags_json`,
		chunk.ID, chunk.Text, string(metadataJSON), string(embeddingJSON),
		chunk.Source, chunk.Lesson, chunk.Order, string(tagsJSON), chunk.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert chunk: %w", err)
	}

	s.chunkMu.Lock()
	s.chunkCache = nil
	s.chunkMu.Unlock()
	return nil
}

// SearchChunks returns up to k chunks ordered ascending by cosine distance
// to the query vector. Equidistant chunks tie-break ascending by ID so the
// ordering is stable. An empty store yields an empty result, not an error.
func (s *SQLiteStore) SearchChunks(queryEmbedding []float32, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	chunks, err := s.cachedChunks()
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredChunk, 0, len(chunks))
	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			logger.Warn("skipping chunk with missing embedding", "id", chunk.ID)
			continue
		}
		distance, err := utils.CosineDistance(queryEmbedding, chunk.Embedding)
		if err != nil {
			logger.Warn("skipping chunk, distance failed", "id", chunk.ID, "error", err)
			continue
		}
		scored = append(scored, ScoredChunk{Chunk: chunk, Distance: distance})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Distance != scored[j].Distance {
			return scored[i].Distance < scored[j].Distance
		}
		return scored[i].Chunk.ID < scored[j].Chunk.ID
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (s *SQLiteStore) CountChunks() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM knowledge_chunks").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) cachedChunks() ([]KnowledgeChunk, error) {
	s.chunkMu.RLock()
	cached := s.chunkCache
	s.chunkMu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	s.chunkMu.Lock()
	defer s.chunkMu.Unlock()
	if s.chunkCache != nil {
		return s.chunkCache, nil
	}

	chunks, err := s.loadAllChunks()
	if err != nil {
		return nil, err
	}
	s.chunkCache = chunks
	return chunks, nil
}

func (s *SQLiteStore) loadAllChunks() ([]KnowledgeChunk, error) {
	rows, err := s.db.Query(`
        SELECT id, text, metadata_json, embedding_json, source, lesson, chunk_order, tags_json, created_at
        FROM knowledge_chunks`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	chunks := []KnowledgeChunk{}
	for rows.Next() {
		var chunk KnowledgeChunk
		var metadataJSON, embeddingJSON, tagsJSON sql.NullString
		var source, lesson sql.NullString
		if err := rows.Scan(&chunk.ID, &chunk.Text, &metadataJSON, &embeddingJSON,
			&source, &lesson, &chunk.Order, &tagsJSON, &chunk.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		chunk.Source = source.String
		chunk.Lesson = lesson.String
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &chunk.Metadata); err != nil {
				logger.Warn("failed to unmarshal chunk metadata", "id", chunk.ID, "error", err)
			}
		}
		if embeddingJSON.Valid && embeddingJSON.String != "" {
			if err := json.Unmarshal([]byte(embeddingJSON.String), &chunk.Embedding); err != nil {
				logger.Warn("failed to unmarshal chunk embedding", "id", chunk.ID, "error", err)
				chunk.Embedding = nil
			}
		}
		if tagsJSON.Valid && tagsJSON.String != "" {
			if err := json.Unmarshal([]byte(tagsJSON.String), &chunk.Tags); err != nil {
				logger.Warn("failed to unmarshal chunk tags", "id", chunk.ID, "error", err)
			}
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// Long-term memory document methods

// LoadMemoryDocument returns the user's long-term memory, or an empty
// skeleton when none has been saved yet. Absence is not an error.
func (s *SQLiteStore) LoadMemoryDocument(userID string) (*memory.Document, error) {
	var docJSON string
	err := s.db.QueryRow("SELECT document_json FROM memory_documents WHERE user_id = ?", userID).Scan(&docJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return memory.NewDocument(userID), nil
		}
		return nil, fmt.Errorf("failed to load memory document: %w", err)
	}

	var doc memory.Document
	if err := json.Unmarshal([]byte(docJSON), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal memory document: %w", err)
	}
	doc.UserID = userID
	if doc.Profile == nil {
		doc.Profile = memory.Profile{}
	}
	return &doc, nil
}

// SaveMemoryDocument replaces the whole document. The merger always
// computes the complete next version, so field-level patching is never
// needed.
func (s *SQLiteStore) SaveMemoryDocument(doc *memory.Document) error {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal memory document: %w", err)
	}

	_, err = s.db.Exec(`
        INSERT INTO memory_documents (user_id, document_json, last_updated)
        VALUES (?, ?, ?)
        ON CONFLICT(user_id) DO UPDATE SET
            document_json = excluded.document_json,
            last_updated = excluded.last_updated`,
		doc.UserID, string(docJSON), doc.LastUpdated)
	if err != nil {
		return fmt.Errorf("failed to save memory document: %w", err)
	}
	return nil
}

// AppendSessionSummary adds one entry to the append-only session log.
// Entries are never merged back into the long-term document.
func (s *SQLiteStore) AppendSessionSummary(userID, memoryType, summary string) (*SessionMemory, error) {
	entry := &SessionMemory{
		ID:         uuid.NewString(),
		UserID:     userID,
		MemoryType: memoryType,
		Summary:    summary,
		CreatedAt:  time.Now(),
	}

	_, err := s.db.Exec(
		"INSERT INTO session_memories (id, user_id, memory_type, summary, created_at) VALUES (?, ?, ?, ?, ?)",
		entry.ID, entry.UserID, entry.MemoryType, entry.Summary, entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append session summary: %w", err)
	}
	return entry, nil
}

func (s *SQLiteStore) GetSessionSummaries(userID string) ([]SessionMemory, error) {
	rows, err := s.db.Query(
		"SELECT id, user_id, memory_type, summary, created_at FROM session_memories WHERE user_id = ? ORDER BY created_at ASC, id ASC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session summaries: %w", err)
	}
	defer rows.Close()

	var entries []SessionMemory
	for rows.Next() {
		var e SessionMemory
		if err := rows.Scan(&e.ID, &e.UserID, &e.MemoryType, &e.Summary, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session summary row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Conversation methods

func (s *SQLiteStore) CreateConversation(userID string, title *string) (*Conversation, error) {
	conv := &Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	_, err := s.db.Exec(
		"INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		conv.ID, conv.UserID, conv.Title, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert conversation: %w", err)
	}
	return conv, nil
}

func (s *SQLiteStore) GetConversationByID(conversationID, userID string) (*Conversation, error) {
	var conv Conversation
	var title sql.NullString
	err := s.db.QueryRow(
		"SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = ? AND user_id = ?",
		conversationID, userID).Scan(&conv.ID, &conv.UserID, &title, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if title.Valid {
		conv.Title = &title.String
	}
	return &conv, nil
}

// GetLatestConversationByUserID returns the user's most recently updated
// conversation, or nil when the user has none.
func (s *SQLiteStore) GetLatestConversationByUserID(userID string) (*Conversation, error) {
	var conv Conversation
	var title sql.NullString
	err := s.db.QueryRow(
		"SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE user_id = ? ORDER BY updated_at DESC LIMIT 1",
		userID).Scan(&conv.ID, &conv.UserID, &title, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest conversation: %w", err)
	}
	if title.Valid {
		conv.Title = &title.String
	}
	return &conv, nil
}

func (s *SQLiteStore) GetConversationsByUserID(userID string) ([]Conversation, error) {
	rows, err := s.db.Query(
		"SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE user_id = ? ORDER BY updated_at DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		var conv Conversation
		var title sql.NullString
		if err := rows.Scan(&conv.ID, &conv.UserID, &title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		if title.Valid {
			conv.Title = &title.String
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

func (s *SQLiteStore) UpdateConversationTitle(conversationID, userID string, title string) error {
	res, err := s.db.Exec(
		"UPDATE conversations SET title = ? WHERE id = ? AND user_id = ?",
		title, conversationID, userID)
	if err != nil {
		return fmt.Errorf("failed to update conversation title: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("conversation not found or not owned by user")
	}
	return nil
}

// Message methods

func (s *SQLiteStore) CreateMessage(msg *Message) error {
	msg.ID = uuid.NewString()
	msg.Timestamp = time.Now()

	_, err := s.db.Exec(
		"INSERT INTO messages (id, conversation_id, sender, content, timestamp) VALUES (?, ?, ?, ?, ?)",
		msg.ID, msg.ConversationID, msg.Sender, msg.Content, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = s.db.Exec("UPDATE conversations SET updated_at = ? WHERE id = ?", msg.Timestamp, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMessagesByConversationID(conversationID string) ([]Message, error) {
	rows, err := s.db.Query(
		"SELECT id, conversation_id, sender, content, timestamp FROM messages WHERE conversation_id = ? ORDER BY timestamp ASC, id ASC",
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Sender, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) GetLastNMessagesByConversationID(conversationID string, n int) ([]Message, error) {
	rows, err := s.db.Query(`
        SELECT id, conversation_id, sender, content, timestamp
        FROM messages
        WHERE conversation_id = ?
        ORDER BY timestamp DESC, id DESC
        LIMIT ?`, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Sender, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}

	// Reverse into chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, rows.Err()
}
