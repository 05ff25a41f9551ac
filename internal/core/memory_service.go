package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"talbashan.ai/assistant/internal/logger"
	"talbashan.ai/assistant/internal/memory"
	"talbashan.ai/assistant/internal/store"
)

// MemoryExtractor proposes structured updates from a transcript.
type MemoryExtractor interface {
	Extract(ctx context.Context, transcript []memory.Turn, current *memory.Document) (*memory.UpdateResult, error)
}

// MemoryService owns the long-term memory lifecycle:
// load → extract → merge → save, serialized per user.
type MemoryService struct {
	db        *store.SQLiteStore
	extractor MemoryExtractor

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewMemoryService(db *store.SQLiteStore, extractor MemoryExtractor) *MemoryService {
	return &MemoryService{
		db:        db,
		extractor: extractor,
		locks:     make(map[string]*sync.Mutex),
	}
}

// userLock returns the per-user critical section. The whole
// read-modify-write sequence for one user runs under it: two concurrent
// updates for the same user never interleave, while different users
// proceed in parallel. The map keeps one entry per user seen in this
// process's lifetime; at one mutex per active user that stays small.
func (s *MemoryService) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[userID] = lock
	}
	return lock
}

// LoadDocument returns the user's long-term memory (an empty skeleton for
// new users). The chat flow calls this before every model invocation.
func (s *MemoryService) LoadDocument(userID string) (*memory.Document, error) {
	return s.db.LoadMemoryDocument(userID)
}

// UpdateFromConversation resolves the message set (the named conversation,
// or the user's most recently updated one), extracts a structured update
// from the transcript, merges it into the persisted document, and appends
// a session summary to the append-only log.
//
// Extraction failures, including malformed model output, abort the attempt
// and leave the persisted document unchanged; merge-then-save is one
// logical step from the caller's point of view.
func (s *MemoryService) UpdateFromConversation(ctx context.Context, userID, conversationID, memoryType string) (*memory.Document, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: userId must not be empty", ErrInvalidInput)
	}
	if memoryType == "" {
		memoryType = "conversation"
	}

	conv, err := s.resolveConversation(userID, conversationID)
	if err != nil {
		return nil, err
	}

	messages, err := s.db.GetMessagesByConversationID(conv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: conversation %s has no messages", ErrNotFound, conv.ID)
	}

	transcript := make([]memory.Turn, len(messages))
	for i, msg := range messages {
		transcript[i] = memory.Turn{Role: msg.Sender, Content: msg.Content}
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.db.LoadMemoryDocument(userID)
	if err != nil {
		return nil, err
	}

	update, err := s.extractor.Extract(ctx, transcript, current)
	if err != nil {
		return nil, err
	}

	doc := current
	if !update.Empty() {
		doc = memory.Merge(current, update, time.Now())
		if err := s.db.SaveMemoryDocument(doc); err != nil {
			return nil, err
		}
	}

	summary := buildSessionSummary(conv, update)
	if _, err := s.db.AppendSessionSummary(userID, memoryType, summary); err != nil {
		// The long-term document is already durable; a failed log append
		// does not undo the merge.
		logger.Error("failed to append session summary", "user", userID, "error", err)
	}

	logger.Info("memory updated", "user", userID, "conversation", conv.ID,
		"new_facts", len(update.NewFacts), "preferences", len(update.NewPreferences), "tasks", len(update.TaskUpdates))
	return doc, nil
}

func (s *MemoryService) resolveConversation(userID, conversationID string) (*store.Conversation, error) {
	if conversationID != "" {
		conv, err := s.db.GetConversationByID(conversationID, userID)
		if err != nil {
			return nil, err
		}
		if conv == nil {
			return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, conversationID)
		}
		return conv, nil
	}

	conv, err := s.db.GetLatestConversationByUserID(userID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("%w: user %s has no conversations", ErrNotFound, userID)
	}
	return conv, nil
}

// buildSessionSummary condenses one session's outcome deterministically
// from the extraction result (not from model prose).
func buildSessionSummary(conv *store.Conversation, update *memory.UpdateResult) string {
	title := conv.ID
	if conv.Title != nil && *conv.Title != "" {
		title = *conv.Title
	}

	if update.Empty() {
		return fmt.Sprintf("Session %q: no new information.", title)
	}

	var parts []string
	if len(update.NewFacts) > 0 {
		texts := make([]string, len(update.NewFacts))
		for i, f := range update.NewFacts {
			texts[i] = f.Text
		}
		parts = append(parts, fmt.Sprintf("%d fact(s): %s", len(texts), strings.Join(texts, "; ")))
	}
	if len(update.NewPreferences) > 0 {
		parts = append(parts, fmt.Sprintf("%d preference change(s)", len(update.NewPreferences)))
	}
	if len(update.TaskUpdates) > 0 {
		parts = append(parts, fmt.Sprintf("%d task update(s)", len(update.TaskUpdates)))
	}
	if len(update.Themes) > 0 {
		parts = append(parts, "themes: "+strings.Join(update.Themes, ", "))
	}

	return fmt.Sprintf("Session %q: %s.", title, strings.Join(parts, "; "))
}
