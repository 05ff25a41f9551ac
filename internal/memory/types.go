package memory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceMedium Importance = "medium"
	ImportanceHigh   Importance = "high"
)

func (i Importance) valid() bool {
	switch i {
	case ImportanceLow, ImportanceMedium, ImportanceHigh:
		return true
	}
	return false
}

func (i Importance) rank() int {
	switch i {
	case ImportanceHigh:
		return 3
	case ImportanceMedium:
		return 2
	case ImportanceLow:
		return 1
	}
	return 0
}

type TaskStatus string

const (
	TaskOpen       TaskStatus = "open"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
)

func (s TaskStatus) valid() bool {
	switch s {
	case TaskOpen, TaskInProgress, TaskDone:
		return true
	}
	return false
}

func (s TaskStatus) rank() int {
	switch s {
	case TaskDone:
		return 3
	case TaskInProgress:
		return 2
	case TaskOpen:
		return 1
	}
	return 0
}

// Fact is one durable piece of knowledge about the user.
// Facts are only ever added or updated in place by ID, never silently replaced.
type Fact struct {
	ID          string     `json:"id"`
	Text        string     `json:"text"`
	Importance  Importance `json:"importance"`
	Tags        []string   `json:"tags,omitempty"`
	Embedding   []float32  `json:"embedding,omitempty"`
	LastUpdated time.Time  `json:"last_updated"`
	LastUsed    *time.Time `json:"last_used,omitempty"`
}

// Task tracks something the user wants to get done. Status only moves
// forward; a done task that resurfaces becomes a new record.
type Task struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
}

// Profile is an open attribute bag: name, native language, proficiency level,
// role, location, goals, plus whatever extra fields show up later.
type Profile map[string]any

// Preferences holds the user's current answer-style preferences.
//
// Older documents stored preferences as a plain list of free-text notes.
// UnmarshalJSON accepts both shapes and folds the legacy list into Notes,
// so everything downstream sees a single normalized form.
type Preferences struct {
	Language     string   `json:"language,omitempty"`
	AnswerLength string   `json:"answer_length,omitempty"`
	CodeExamples string   `json:"code_examples,omitempty"`
	Tone         string   `json:"tone,omitempty"`
	Bullets      string   `json:"bullets,omitempty"`
	Notes        []string `json:"notes,omitempty"`
}

func (p *Preferences) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var notes []string
		if err := json.Unmarshal(data, &notes); err != nil {
			return fmt.Errorf("legacy preferences list: %w", err)
		}
		*p = Preferences{Notes: notes}
		return nil
	}

	type plain Preferences
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = Preferences(v)
	return nil
}

// Document is the long-term memory for one user. It is mutated exclusively
// through Merge and persisted as a whole.
type Document struct {
	UserID             string      `json:"user_id"`
	Profile            Profile     `json:"profile"`
	Preferences        Preferences `json:"preferences"`
	LongTermFacts      []Fact      `json:"long_term_facts"`
	OpenTasks          []Task      `json:"open_tasks"`
	ConversationThemes []string    `json:"conversation_themes"`
	MemorySummary      string      `json:"memory_summary"`
	LastUpdated        time.Time   `json:"last_updated"`
}

// NewDocument returns the empty skeleton created lazily on first access.
func NewDocument(userID string) *Document {
	return &Document{
		UserID:  userID,
		Profile: Profile{},
	}
}

// Turn is one transcript entry handed to the extractor.
type Turn struct {
	Role    string
	Content string
}

// NewFact is a fact proposed by the extractor, before it gets an ID.
type NewFact struct {
	Text       string     `json:"text"`
	Importance Importance `json:"importance"`
	Tags       []string   `json:"tags,omitempty"`
}

// PreferenceUpdate is a single key/value preference change.
type PreferenceUpdate struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// TaskUpdate proposes a task status change or a new task. ID may be empty,
// in which case the task is matched by its normalized description.
type TaskUpdate struct {
	ID          string     `json:"id,omitempty"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
}

// UpdateResult is the extractor's structured output and the merger's input.
// It is transient: it is never persisted as-is.
type UpdateResult struct {
	NewFacts       []NewFact          `json:"new_facts"`
	NewPreferences []PreferenceUpdate `json:"new_preferences"`
	TaskUpdates    []TaskUpdate       `json:"task_updates"`
	Themes         []string           `json:"conversation_themes,omitempty"`
}

// Validate checks the extractor output against the schema. The language
// model is an untrusted producer: anything off-schema fails the whole
// extraction instead of being coerced.
func (u *UpdateResult) Validate() error {
	for i, f := range u.NewFacts {
		if strings.TrimSpace(f.Text) == "" {
			return fmt.Errorf("new_facts[%d]: empty text", i)
		}
		if !f.Importance.valid() {
			return fmt.Errorf("new_facts[%d]: invalid importance %q", i, f.Importance)
		}
	}
	for i, p := range u.NewPreferences {
		if strings.TrimSpace(p.Key) == "" {
			return fmt.Errorf("new_preferences[%d]: empty key", i)
		}
	}
	for i, t := range u.TaskUpdates {
		if strings.TrimSpace(t.Description) == "" && t.ID == "" {
			return fmt.Errorf("task_updates[%d]: neither id nor description", i)
		}
		if !t.Status.valid() {
			return fmt.Errorf("task_updates[%d]: invalid status %q", i, t.Status)
		}
	}
	return nil
}

// Empty reports whether the update proposes no changes at all.
func (u *UpdateResult) Empty() bool {
	return len(u.NewFacts) == 0 && len(u.NewPreferences) == 0 &&
		len(u.TaskUpdates) == 0 && len(u.Themes) == 0
}

// normalizeText is the conservative dedup key for facts and task
// descriptions: case-insensitive exact match with collapsed whitespace.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
