package memory

import (
	"fmt"
	"sort"
	"strings"
)

// RenderSummary produces the condensed natural-language rendering of a
// document, suitable for direct inclusion in model prompts. It is a pure
// function of the structured fields, so the summary can never drift from
// the authoritative data: it is regenerated on every merge.
func RenderSummary(doc *Document) string {
	var b strings.Builder

	if len(doc.Profile) > 0 {
		keys := make([]string, 0, len(doc.Profile))
		for k := range doc.Profile {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, fmt.Sprintf("%s: %v", k, doc.Profile[k]))
		}
		b.WriteString("Profile: " + strings.Join(pairs, "; ") + ".\n")
	}

	if prefs := renderPreferences(doc.Preferences); prefs != "" {
		b.WriteString("Preferences: " + prefs + ".\n")
	}

	if len(doc.LongTermFacts) > 0 {
		facts := make([]Fact, len(doc.LongTermFacts))
		copy(facts, doc.LongTermFacts)
		sort.SliceStable(facts, func(i, j int) bool {
			return facts[i].Importance.rank() > facts[j].Importance.rank()
		})

		b.WriteString("Known facts:\n")
		for _, f := range facts {
			b.WriteString(fmt.Sprintf("- [%s] %s\n", f.Importance, f.Text))
		}
	}

	open := make([]Task, 0, len(doc.OpenTasks))
	for _, t := range doc.OpenTasks {
		if t.Status != TaskDone {
			open = append(open, t)
		}
	}
	if len(open) > 0 {
		b.WriteString("Open tasks:\n")
		for _, t := range open {
			b.WriteString(fmt.Sprintf("- %s (%s)\n", t.Description, t.Status))
		}
	}

	if len(doc.ConversationThemes) > 0 {
		b.WriteString("Recurring themes: " + strings.Join(doc.ConversationThemes, ", ") + ".\n")
	}

	return strings.TrimSpace(b.String())
}

func renderPreferences(p Preferences) string {
	var parts []string
	if p.Language != "" {
		parts = append(parts, "language "+p.Language)
	}
	if p.AnswerLength != "" {
		parts = append(parts, "answer length "+p.AnswerLength)
	}
	if p.CodeExamples != "" {
		parts = append(parts, "code examples "+p.CodeExamples)
	}
	if p.Tone != "" {
		parts = append(parts, "tone "+p.Tone)
	}
	if p.Bullets != "" {
		parts = append(parts, "bullets "+p.Bullets)
	}
	parts = append(parts, p.Notes...)
	return strings.Join(parts, "; ")
}
