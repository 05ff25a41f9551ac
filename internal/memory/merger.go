package memory

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Merge reconciles an extraction result against the current document and
// returns the complete next version. The input document is not modified.
//
// Merging is idempotent: applying the same UpdateResult to the merged
// output again yields an identical document (given the same merge time),
// because facts and tasks are matched by key and updated in place rather
// than appended twice.
func Merge(current *Document, update *UpdateResult, now time.Time) *Document {
	doc := clone(current)

	mergeFacts(doc, update.NewFacts, now)
	mergePreferences(doc, update.NewPreferences)
	mergeTasks(doc, update.TaskUpdates, now)
	mergeThemes(doc, update.Themes)

	doc.MemorySummary = RenderSummary(doc)
	doc.LastUpdated = now
	return doc
}

// mergeThemes unions new theme labels into the document's theme set,
// preserving existing order.
func mergeThemes(doc *Document, themes []string) {
	seen := make(map[string]bool, len(doc.ConversationThemes))
	for _, t := range doc.ConversationThemes {
		seen[normalizeText(t)] = true
	}
	for _, t := range themes {
		key := normalizeText(t)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		doc.ConversationThemes = append(doc.ConversationThemes, t)
	}
}

func mergeFacts(doc *Document, newFacts []NewFact, now time.Time) {
	byText := make(map[string]int, len(doc.LongTermFacts))
	for i, f := range doc.LongTermFacts {
		byText[normalizeText(f.Text)] = i
	}

	for _, nf := range newFacts {
		key := normalizeText(nf.Text)
		if i, ok := byText[key]; ok {
			existing := &doc.LongTermFacts[i]
			// Raise importance when the new evidence ranks higher,
			// never downgrade.
			if nf.Importance.rank() > existing.Importance.rank() {
				existing.Importance = nf.Importance
			}
			existing.Tags = unionTags(existing.Tags, nf.Tags)
			existing.LastUpdated = now
			continue
		}

		fact := Fact{
			ID:          newID(now),
			Text:        nf.Text,
			Importance:  nf.Importance,
			Tags:        nf.Tags,
			LastUpdated: now,
		}
		doc.LongTermFacts = append(doc.LongTermFacts, fact)
		byText[key] = len(doc.LongTermFacts) - 1
	}
}

// mergePreferences is a shallow overwrite by key: preferences represent
// current state, not history, so last write wins.
func mergePreferences(doc *Document, updates []PreferenceUpdate) {
	for _, u := range updates {
		value := u.Value
		switch normalizeText(u.Key) {
		case "language":
			doc.Preferences.Language = value
		case "answer_length", "answer length", "length":
			doc.Preferences.AnswerLength = value
		case "code_examples", "code examples":
			doc.Preferences.CodeExamples = value
		case "tone":
			doc.Preferences.Tone = value
		case "bullets", "bullet_points", "bullet points":
			doc.Preferences.Bullets = value
		default:
			setNote(&doc.Preferences, u.Key, value)
		}
	}
}

// setNote overwrites any existing free-form note for the same key.
func setNote(p *Preferences, key, value string) {
	note := key + ": " + value
	prefix := normalizeText(key) + ":"
	for i, n := range p.Notes {
		if len(normalizeText(n)) >= len(prefix) && normalizeText(n)[:len(prefix)] == prefix {
			p.Notes[i] = note
			return
		}
	}
	p.Notes = append(p.Notes, note)
}

func mergeTasks(doc *Document, updates []TaskUpdate, now time.Time) {
	for _, u := range updates {
		task := findTask(doc, u)
		if task == nil {
			// Unmatched task: create as open, then advance to the
			// proposed status if that is a legal forward move.
			t := Task{
				ID:          u.ID,
				Description: u.Description,
				Status:      TaskOpen,
				CreatedAt:   now,
			}
			if t.ID == "" {
				t.ID = newID(now)
			}
			advanceTask(&t, u.Status, now)
			doc.OpenTasks = append(doc.OpenTasks, t)
			continue
		}

		if task.Status == TaskDone && u.Status.rank() < TaskDone.rank() {
			// Reopening a done task: history is preserved by starting a
			// fresh record rather than moving the old one backward.
			t := Task{
				ID:          newID(now),
				Description: descriptionFor(u, task),
				Status:      TaskOpen,
				CreatedAt:   now,
			}
			advanceTask(&t, u.Status, now)
			doc.OpenTasks = append(doc.OpenTasks, t)
			continue
		}

		advanceTask(task, u.Status, now)
	}
}

// findTask matches by ID when provided, otherwise by normalized
// description. Non-done tasks are preferred so that a reopened task's
// fresh record absorbs subsequent updates instead of spawning duplicates.
func findTask(doc *Document, u TaskUpdate) *Task {
	descKey := normalizeText(u.Description)

	var doneMatch *Task
	for i := range doc.OpenTasks {
		t := &doc.OpenTasks[i]
		matched := (u.ID != "" && t.ID == u.ID) ||
			(u.ID == "" && descKey != "" && normalizeText(t.Description) == descKey)
		if !matched {
			continue
		}
		if t.Status != TaskDone {
			return t
		}
		if doneMatch == nil {
			doneMatch = t
		}
	}
	if doneMatch != nil {
		// A done match only stands if no live record exists with the
		// description a reopen of this update would carry (one may have
		// been created by an earlier merge of this same update).
		key := normalizeText(descriptionFor(u, doneMatch))
		for i := range doc.OpenTasks {
			t := &doc.OpenTasks[i]
			if t.Status != TaskDone && normalizeText(t.Description) == key {
				return t
			}
		}
	}
	return doneMatch
}

// advanceTask applies the forward-only state machine:
// open → in_progress → done, or open → done directly.
func advanceTask(t *Task, to TaskStatus, now time.Time) {
	if to.rank() <= t.Status.rank() {
		return
	}
	t.Status = to
	ts := now
	t.LastUpdated = &ts
}

func descriptionFor(u TaskUpdate, matched *Task) string {
	if u.Description != "" {
		return u.Description
	}
	return matched.Description
}

func unionTags(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[t] = true
	}
	for _, t := range added {
		if !seen[t] {
			seen[t] = true
			existing = append(existing, t)
		}
	}
	return existing
}

func newID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

func clone(doc *Document) *Document {
	out := &Document{
		UserID:        doc.UserID,
		Preferences:   doc.Preferences,
		MemorySummary: doc.MemorySummary,
		LastUpdated:   doc.LastUpdated,
	}
	out.Profile = make(Profile, len(doc.Profile))
	for k, v := range doc.Profile {
		out.Profile[k] = v
	}
	out.Preferences.Notes = append([]string(nil), doc.Preferences.Notes...)
	out.LongTermFacts = append([]Fact(nil), doc.LongTermFacts...)
	for i := range out.LongTermFacts {
		out.LongTermFacts[i].Tags = append([]string(nil), out.LongTermFacts[i].Tags...)
	}
	out.OpenTasks = append([]Task(nil), doc.OpenTasks...)
	out.ConversationThemes = append([]string(nil), doc.ConversationThemes...)
	return out
}
