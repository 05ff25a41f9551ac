package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedExtraction marks model output that failed schema validation.
// It is an upstream failure: the update attempt is aborted and the persisted
// document stays untouched.
var ErrMalformedExtraction = errors.New("malformed extraction output")

const extractSystemInstruction = "You are a memory extractor for a personal learning assistant. " +
	"You read a conversation transcript and the user's current long-term memory, " +
	"and propose only NEW or CHANGED information. Never repeat facts the memory already contains. " +
	"Respond with JSON only, no explanation."

const extractPromptTemplate = `Current long-term memory:
%s

Conversation transcript:
%s

Extract new or changed information as a single JSON object with these fields:
- "new_facts": array of {"text": string, "importance": "low"|"medium"|"high", "tags": [string]}
- "new_preferences": array of {"key": string, "value": string}
  (keys: language, answer_length, code_examples, tone, bullets, or a free-form key)
- "task_updates": array of {"id": string|null, "description": string, "status": "open"|"in_progress"|"done"}
- "conversation_themes": array of short theme labels for this conversation

Only include information explicitly stated or strongly implied. Do not invent anything.
If nothing new came up, return {"new_facts": [], "new_preferences": [], "task_updates": []}.

JSON:`

// Generator is the language-model call the extractor depends on.
type Generator interface {
	GenerateText(ctx context.Context, system, prompt string, temperature float32, maxTokens int32) (string, error)
}

// Extractor turns a conversation transcript into a structured memory update.
type Extractor struct {
	llm Generator
}

func NewExtractor(llm Generator) *Extractor {
	return &Extractor{llm: llm}
}

// Extract invokes the model and validates its output against the update
// schema. The model is treated as an untrusted producer: malformed output
// is an extraction failure, never coerced into a best guess.
func (e *Extractor) Extract(ctx context.Context, transcript []Turn, current *Document) (*UpdateResult, error) {
	if len(transcript) == 0 {
		return nil, fmt.Errorf("empty transcript")
	}

	summary := current.MemorySummary
	if summary == "" {
		summary = "(no long-term memory recorded yet)"
	}

	prompt := fmt.Sprintf(extractPromptTemplate, summary, renderTranscript(transcript))

	response, err := e.llm.GenerateText(ctx, extractSystemInstruction, prompt, 0.1, 2048)
	if err != nil {
		return nil, fmt.Errorf("extraction call: %w", err)
	}

	update, err := parseUpdateResult(response)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedExtraction, err)
	}
	if err := update.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedExtraction, err)
	}
	return update, nil
}

func renderTranscript(transcript []Turn) string {
	var b strings.Builder
	for _, t := range transcript {
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// parseUpdateResult pulls the first JSON object out of the model response.
// Models habitually wrap JSON in prose or code fences despite instructions.
func parseUpdateResult(response string) (*UpdateResult, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON object found")
	}

	var update UpdateResult
	if err := json.Unmarshal([]byte(response[start:end+1]), &update); err != nil {
		return nil, err
	}
	return &update, nil
}
