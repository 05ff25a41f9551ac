package store

import (
	"testing"
	"time"

	"talbashan.ai/assistant/internal/memory"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertChunkReplacesByID(t *testing.T) {
	s := newTestStore(t)

	first := &KnowledgeChunk{ID: "c1", Text: "original text", Embedding: []float32{1, 0}, Source: "lesson01.md"}
	if err := s.UpsertChunk(first); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	second := &KnowledgeChunk{ID: "c1", Text: "revised text", Embedding: []float32{0, 1}, Source: "lesson01.md"}
	if err := s.UpsertChunk(second); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	count, err := s.CountChunks()
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 chunk after double upsert, got %d", count)
	}

	results, err := s.SearchChunks([]float32{0, 1}, 1)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if results[0].Chunk.Text != "revised text" {
		t.Errorf("stale text after upsert: %q", results[0].Chunk.Text)
	}
}

func TestSearchChunksOrdersByDistance(t *testing.T) {
	s := newTestStore(t)

	chunks := []*KnowledgeChunk{
		{ID: "far", Text: "far", Embedding: []float32{0, 1}},
		{ID: "near", Text: "near", Embedding: []float32{1, 0}},
		{ID: "mid", Text: "mid", Embedding: []float32{1, 1}},
	}
	for _, c := range chunks {
		if err := s.UpsertChunk(c); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}

	results, err := s.SearchChunks([]float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}

	want := []string{"near", "mid", "far"}
	for i, id := range want {
		if results[i].Chunk.ID != id {
			t.Errorf("position %d = %s, want %s", i, results[i].Chunk.ID, id)
		}
	}
	for i := 1; i < len(results); i++ {
		if results[i].Distance < results[i-1].Distance {
			t.Errorf("distances not ascending at %d", i)
		}
	}
}

func TestSearchChunksTieBreaksByID(t *testing.T) {
	s := newTestStore(t)

	// Parallel vectors are equidistant from the query.
	for _, id := range []string{"b", "a", "c"} {
		if err := s.UpsertChunk(&KnowledgeChunk{ID: id, Text: id, Embedding: []float32{2, 0}}); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}

	results, err := s.SearchChunks([]float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}

	want := []string{"a", "b", "c"}
	for i, id := range want {
		if results[i].Chunk.ID != id {
			t.Errorf("tie order: position %d = %s, want %s", i, results[i].Chunk.ID, id)
		}
	}
}

func TestSearchChunksFewerThanK(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpsertChunk(&KnowledgeChunk{ID: "only", Text: "only", Embedding: []float32{1, 0}}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	results, err := s.SearchChunks([]float32{1, 0}, 50)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 result, got %d", len(results))
	}
}

func TestSearchChunksEmptyStore(t *testing.T) {
	s := newTestStore(t)

	results, err := s.SearchChunks([]float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("empty store should not error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty result, got %d", len(results))
	}
}

func TestSearchChunksRejectsNonPositiveK(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.SearchChunks([]float32{1, 0}, 0); err == nil {
		t.Fatal("expected error for k=0")
	}
}

func TestLoadMemoryDocumentReturnsSkeletonForNewUser(t *testing.T) {
	s := newTestStore(t)

	doc, err := s.LoadMemoryDocument("nobody")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if doc.UserID != "nobody" {
		t.Errorf("userID = %q", doc.UserID)
	}
	if doc.Profile == nil {
		t.Error("skeleton profile is nil")
	}
	if len(doc.LongTermFacts) != 0 || len(doc.OpenTasks) != 0 {
		t.Error("skeleton is not empty")
	}
}

func TestSaveAndLoadMemoryDocument(t *testing.T) {
	s := newTestStore(t)

	doc := memory.NewDocument("user-1")
	doc.LongTermFacts = []memory.Fact{
		{ID: "f1", Text: "Native language is Russian", Importance: memory.ImportanceHigh, LastUpdated: time.Now().UTC()},
	}
	doc.ConversationThemes = []string{"grammar"}
	doc.MemorySummary = "Known facts:\n- [high] Native language is Russian"
	doc.LastUpdated = time.Now().UTC()

	if err := s.SaveMemoryDocument(doc); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := s.LoadMemoryDocument("user-1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded.LongTermFacts) != 1 || loaded.LongTermFacts[0].Text != "Native language is Russian" {
		t.Errorf("facts not round-tripped: %+v", loaded.LongTermFacts)
	}
	if loaded.MemorySummary != doc.MemorySummary {
		t.Errorf("summary not round-tripped")
	}

	// Saving again replaces, never duplicates.
	doc.ConversationThemes = append(doc.ConversationThemes, "vocabulary")
	if err := s.SaveMemoryDocument(doc); err != nil {
		t.Fatalf("second save failed: %v", err)
	}
	loaded, err = s.LoadMemoryDocument("user-1")
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if len(loaded.ConversationThemes) != 2 {
		t.Errorf("themes = %v", loaded.ConversationThemes)
	}
}

func TestSessionSummariesAreAppendOnly(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.AppendSessionSummary("user-1", "conversation", "first session"); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if _, err := s.AppendSessionSummary("user-1", "conversation", "second session"); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	entries, err := s.GetSessionSummaries("user-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Summary != "first session" || entries[1].Summary != "second session" {
		t.Errorf("entries out of order: %+v", entries)
	}
}

func TestConversationLifecycle(t *testing.T) {
	s := newTestStore(t)

	conv, err := s.CreateConversation("user-1", nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if conv.Title != nil {
		t.Errorf("expected nil title, got %v", *conv.Title)
	}

	found, err := s.GetConversationByID(conv.ID, "user-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if found == nil || found.ID != conv.ID {
		t.Fatalf("conversation not found by ID")
	}

	// Ownership is part of the lookup key.
	other, err := s.GetConversationByID(conv.ID, "someone-else")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if other != nil {
		t.Error("conversation leaked to another user")
	}

	if err := s.UpdateConversationTitle(conv.ID, "user-1", "Hebrew basics"); err != nil {
		t.Fatalf("title update failed: %v", err)
	}
	found, _ = s.GetConversationByID(conv.ID, "user-1")
	if found.Title == nil || *found.Title != "Hebrew basics" {
		t.Errorf("title not updated: %+v", found.Title)
	}
}

func TestGetLatestConversationFollowsActivity(t *testing.T) {
	s := newTestStore(t)

	first, err := s.CreateConversation("user-1", nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	second, err := s.CreateConversation("user-1", nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	latest, err := s.GetLatestConversationByUserID("user-1")
	if err != nil {
		t.Fatalf("get latest failed: %v", err)
	}
	if latest.ID != second.ID {
		t.Errorf("latest = %s, want %s", latest.ID, second.ID)
	}

	// A new message moves its conversation to the front.
	time.Sleep(5 * time.Millisecond)
	msg := &Message{ConversationID: first.ID, Sender: "user", Content: "hello again"}
	if err := s.CreateMessage(msg); err != nil {
		t.Fatalf("message failed: %v", err)
	}

	latest, err = s.GetLatestConversationByUserID("user-1")
	if err != nil {
		t.Fatalf("get latest failed: %v", err)
	}
	if latest.ID != first.ID {
		t.Errorf("latest = %s, want %s after new message", latest.ID, first.ID)
	}
}

func TestGetLatestConversationNoConversations(t *testing.T) {
	s := newTestStore(t)

	latest, err := s.GetLatestConversationByUserID("nobody")
	if err != nil {
		t.Fatalf("get latest failed: %v", err)
	}
	if latest != nil {
		t.Errorf("expected nil, got %+v", latest)
	}
}

func TestMessagesChronologicalOrder(t *testing.T) {
	s := newTestStore(t)

	conv, err := s.CreateConversation("user-1", nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	contents := []string{"one", "two", "three"}
	for _, c := range contents {
		msg := &Message{ConversationID: conv.ID, Sender: "user", Content: c}
		if err := s.CreateMessage(msg); err != nil {
			t.Fatalf("message failed: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	messages, err := s.GetMessagesByConversationID(conv.ID)
	if err != nil {
		t.Fatalf("get messages failed: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	for i, c := range contents {
		if messages[i].Content != c {
			t.Errorf("position %d = %q, want %q", i, messages[i].Content, c)
		}
	}

	last, err := s.GetLastNMessagesByConversationID(conv.ID, 2)
	if err != nil {
		t.Fatalf("get last failed: %v", err)
	}
	if len(last) != 2 || last[0].Content != "two" || last[1].Content != "three" {
		t.Errorf("last 2 = %+v", last)
	}
}
