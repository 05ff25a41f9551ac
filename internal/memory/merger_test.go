package memory

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

var mergeTime = time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

func TestMergeAddsNewFacts(t *testing.T) {
	doc := NewDocument("user-1")
	update := &UpdateResult{
		NewFacts: []NewFact{
			{Text: "Works as a backend developer", Importance: ImportanceMedium, Tags: []string{"work"}},
			{Text: "Native language is Russian", Importance: ImportanceHigh},
		},
	}

	merged := Merge(doc, update, mergeTime)

	if len(merged.LongTermFacts) != 2 {
		t.Fatalf("expected 2 facts, got %d", len(merged.LongTermFacts))
	}
	for i, f := range merged.LongTermFacts {
		if f.ID == "" {
			t.Errorf("fact %d has no ID", i)
		}
		if !f.LastUpdated.Equal(mergeTime) {
			t.Errorf("fact %d LastUpdated = %v, want %v", i, f.LastUpdated, mergeTime)
		}
	}
	if len(doc.LongTermFacts) != 0 {
		t.Errorf("input document was modified: %d facts", len(doc.LongTermFacts))
	}
}

func TestMergeDeduplicatesFactsByNormalizedText(t *testing.T) {
	doc := NewDocument("user-1")
	doc.LongTermFacts = []Fact{
		{ID: "f1", Text: "Prefers short answers", Importance: ImportanceLow, Tags: []string{"style"}},
	}
	update := &UpdateResult{
		NewFacts: []NewFact{
			{Text: "  prefers   SHORT answers ", Importance: ImportanceHigh, Tags: []string{"style", "answers"}},
		},
	}

	merged := Merge(doc, update, mergeTime)

	if len(merged.LongTermFacts) != 1 {
		t.Fatalf("expected 1 fact after dedup, got %d", len(merged.LongTermFacts))
	}
	f := merged.LongTermFacts[0]
	if f.ID != "f1" {
		t.Errorf("expected existing fact to be updated in place, got ID %q", f.ID)
	}
	if f.Importance != ImportanceHigh {
		t.Errorf("expected importance raised to high, got %q", f.Importance)
	}
	if !reflect.DeepEqual(f.Tags, []string{"style", "answers"}) {
		t.Errorf("expected tag union, got %v", f.Tags)
	}
}

func TestMergeNeverLowersImportance(t *testing.T) {
	doc := NewDocument("user-1")
	doc.LongTermFacts = []Fact{
		{ID: "f1", Text: "Allergic to peanuts", Importance: ImportanceHigh},
	}
	update := &UpdateResult{
		NewFacts: []NewFact{{Text: "Allergic to peanuts", Importance: ImportanceLow}},
	}

	merged := Merge(doc, update, mergeTime)

	if got := merged.LongTermFacts[0].Importance; got != ImportanceHigh {
		t.Errorf("importance downgraded to %q", got)
	}
}

func TestMergePreferencesLastWriteWins(t *testing.T) {
	doc := NewDocument("user-1")
	doc.Preferences.AnswerLength = "long"
	update := &UpdateResult{
		NewPreferences: []PreferenceUpdate{
			{Key: "answer_length", Value: "short"},
			{Key: "tone", Value: "casual"},
			{Key: "quiz frequency", Value: "weekly"},
		},
	}

	merged := Merge(doc, update, mergeTime)

	if merged.Preferences.AnswerLength != "short" {
		t.Errorf("answer_length = %q, want short", merged.Preferences.AnswerLength)
	}
	if merged.Preferences.Tone != "casual" {
		t.Errorf("tone = %q, want casual", merged.Preferences.Tone)
	}
	if len(merged.Preferences.Notes) != 1 || merged.Preferences.Notes[0] != "quiz frequency: weekly" {
		t.Errorf("unexpected notes: %v", merged.Preferences.Notes)
	}

	// A second update to the same free-form key replaces the note.
	again := Merge(merged, &UpdateResult{
		NewPreferences: []PreferenceUpdate{{Key: "quiz frequency", Value: "daily"}},
	}, mergeTime)
	if len(again.Preferences.Notes) != 1 || again.Preferences.Notes[0] != "quiz frequency: daily" {
		t.Errorf("note not replaced: %v", again.Preferences.Notes)
	}
}

func TestMergeTaskStatusOnlyMovesForward(t *testing.T) {
	doc := NewDocument("user-1")
	doc.OpenTasks = []Task{
		{ID: "t1", Description: "Review lesson 3", Status: TaskInProgress, CreatedAt: mergeTime.Add(-time.Hour)},
	}

	merged := Merge(doc, &UpdateResult{
		TaskUpdates: []TaskUpdate{{ID: "t1", Status: TaskOpen}},
	}, mergeTime)

	if got := merged.OpenTasks[0].Status; got != TaskInProgress {
		t.Errorf("status moved backward to %q", got)
	}

	merged = Merge(merged, &UpdateResult{
		TaskUpdates: []TaskUpdate{{ID: "t1", Status: TaskDone}},
	}, mergeTime)

	if got := merged.OpenTasks[0].Status; got != TaskDone {
		t.Errorf("status = %q, want done", got)
	}
}

func TestMergeReopenedDoneTaskBecomesNewRecord(t *testing.T) {
	doc := NewDocument("user-1")
	doc.OpenTasks = []Task{
		{ID: "t1", Description: "Practice verb conjugation", Status: TaskDone, CreatedAt: mergeTime.Add(-time.Hour)},
	}
	update := &UpdateResult{
		TaskUpdates: []TaskUpdate{{ID: "t1", Description: "Practice verb conjugation", Status: TaskInProgress}},
	}

	merged := Merge(doc, update, mergeTime)

	if len(merged.OpenTasks) != 2 {
		t.Fatalf("expected 2 task records, got %d", len(merged.OpenTasks))
	}
	if merged.OpenTasks[0].Status != TaskDone {
		t.Errorf("original record changed status to %q", merged.OpenTasks[0].Status)
	}
	fresh := merged.OpenTasks[1]
	if fresh.ID == "t1" || fresh.ID == "" {
		t.Errorf("new record should have a new ID, got %q", fresh.ID)
	}
	if fresh.Status != TaskInProgress {
		t.Errorf("new record status = %q, want in_progress", fresh.Status)
	}

	// Re-applying the same update must not spawn a third record.
	again := Merge(merged, update, mergeTime)
	if len(again.OpenTasks) != 2 {
		t.Errorf("duplicate record after repeated merge: %d tasks", len(again.OpenTasks))
	}
}

func TestMergeReopenedTaskWithChangedDescriptionIsIdempotent(t *testing.T) {
	doc := NewDocument("user-1")
	doc.OpenTasks = []Task{
		{ID: "t1", Description: "old phrasing", Status: TaskDone, CreatedAt: mergeTime.Add(-time.Hour)},
	}
	update := &UpdateResult{
		TaskUpdates: []TaskUpdate{{ID: "t1", Description: "new phrasing", Status: TaskInProgress}},
	}

	merged := Merge(doc, update, mergeTime)

	if len(merged.OpenTasks) != 2 {
		t.Fatalf("expected 2 task records, got %d", len(merged.OpenTasks))
	}
	fresh := merged.OpenTasks[1]
	if fresh.Description != "new phrasing" || fresh.Status != TaskInProgress {
		t.Errorf("unexpected new record: %+v", fresh)
	}

	// The fresh record carries the update's description, not the done
	// record's; a repeated merge must find it and not spawn a third task.
	again := Merge(merged, update, mergeTime)
	if len(again.OpenTasks) != 2 {
		t.Errorf("repeated merge duplicated tasks: %d -> %d", len(merged.OpenTasks), len(again.OpenTasks))
	}
}

func TestMergeNewTaskWithoutID(t *testing.T) {
	doc := NewDocument("user-1")
	merged := Merge(doc, &UpdateResult{
		TaskUpdates: []TaskUpdate{{Description: "Finish the alphabet module", Status: TaskOpen}},
	}, mergeTime)

	if len(merged.OpenTasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(merged.OpenTasks))
	}
	if merged.OpenTasks[0].ID == "" {
		t.Error("task was not assigned an ID")
	}
}

func TestMergeThemesUnion(t *testing.T) {
	doc := NewDocument("user-1")
	doc.ConversationThemes = []string{"grammar", "pronunciation"}

	merged := Merge(doc, &UpdateResult{
		Themes: []string{"Grammar", "vocabulary"},
	}, mergeTime)

	want := []string{"grammar", "pronunciation", "vocabulary"}
	if !reflect.DeepEqual(merged.ConversationThemes, want) {
		t.Errorf("themes = %v, want %v", merged.ConversationThemes, want)
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	doc := NewDocument("user-1")
	doc.LongTermFacts = []Fact{
		{ID: "f1", Text: "Studying for a citizenship exam", Importance: ImportanceHigh},
	}
	update := &UpdateResult{
		NewFacts: []NewFact{
			{Text: "Studying for a citizenship exam", Importance: ImportanceMedium},
			{Text: "Lives in Tel Aviv", Importance: ImportanceMedium},
		},
		NewPreferences: []PreferenceUpdate{{Key: "language", Value: "english"}},
		TaskUpdates:    []TaskUpdate{{Description: "Book an exam slot", Status: TaskInProgress}},
		Themes:         []string{"exam prep"},
	}

	once := Merge(doc, update, mergeTime)
	twice := Merge(once, update, mergeTime)

	if len(twice.LongTermFacts) != len(once.LongTermFacts) {
		t.Errorf("fact count changed on repeated merge: %d -> %d", len(once.LongTermFacts), len(twice.LongTermFacts))
	}
	if len(twice.OpenTasks) != len(once.OpenTasks) {
		t.Errorf("task count changed on repeated merge: %d -> %d", len(once.OpenTasks), len(twice.OpenTasks))
	}
	if !reflect.DeepEqual(twice.ConversationThemes, once.ConversationThemes) {
		t.Errorf("themes changed on repeated merge: %v -> %v", once.ConversationThemes, twice.ConversationThemes)
	}
	if twice.MemorySummary != once.MemorySummary {
		t.Errorf("summary changed on repeated merge")
	}
}

func TestMergeRegeneratesSummary(t *testing.T) {
	doc := NewDocument("user-1")
	merged := Merge(doc, &UpdateResult{
		NewFacts: []NewFact{{Text: "Preparing for a job interview", Importance: ImportanceHigh}},
	}, mergeTime)

	if merged.MemorySummary == "" {
		t.Fatal("summary not regenerated")
	}
	if !strings.Contains(merged.MemorySummary, "Preparing for a job interview") {
		t.Errorf("summary does not reflect merged fact: %q", merged.MemorySummary)
	}
	if merged.MemorySummary == doc.MemorySummary {
		t.Error("summary unchanged after merge")
	}
}

func TestMergeEmptyUpdateKeepsContent(t *testing.T) {
	doc := NewDocument("user-1")
	doc.LongTermFacts = []Fact{{ID: "f1", Text: "Knows basic Hebrew", Importance: ImportanceLow}}

	merged := Merge(doc, &UpdateResult{}, mergeTime)

	if len(merged.LongTermFacts) != 1 {
		t.Errorf("facts lost on empty merge: %d", len(merged.LongTermFacts))
	}
	if !merged.LastUpdated.Equal(mergeTime) {
		t.Errorf("LastUpdated = %v, want %v", merged.LastUpdated, mergeTime)
	}
}
