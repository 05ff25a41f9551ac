package core

import (
	"context"
	"fmt"
	"strings"

	"talbashan.ai/assistant/internal/memory"
)

// NoInformationAnswer is returned verbatim when retrieval produced no
// grounding: no generation call is made, so the model cannot hallucinate
// sources it never saw.
const NoInformationAnswer = "I could not find relevant information in the course materials for this question."

const (
	answerTemperature = 0.2
	answerMaxTokens   = 1024
	maxPreviewLen     = 200
)

const answerSystemInstruction = "You are a helpful Hebrew-learning assistant. Answer questions using only " +
	"the provided lesson passages. If the passages do not contain the answer, clearly say that you don't have " +
	"the information. Keep answers concise and directly related to the question. Do not make up information."

// Generator runs one language-generation call.
type Generator interface {
	GenerateText(ctx context.Context, system, prompt string, temperature float32, maxTokens int32) (string, error)
}

// Source echoes the provenance of one passage used to ground an answer.
type Source struct {
	ID          string  `json:"id"`
	Source      string  `json:"source"`
	ChunkIndex  int     `json:"chunk_index"`
	TextPreview string  `json:"text_preview"`
	RerankScore float64 `json:"rerank_score"`
	Distance    float32 `json:"distance"`
}

type Synthesizer struct {
	generator Generator
}

func NewSynthesizer(generator Generator) *Synthesizer {
	return &Synthesizer{generator: generator}
}

// Synthesize builds a grounded prompt from the ranked passages and invokes
// the generation service at low temperature.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, ranked []Candidate) (string, []Source, error) {
	return s.SynthesizeWithMemory(ctx, question, ranked, "", nil)
}

// SynthesizeWithMemory additionally injects the user's long-term memory
// summary and recent conversation turns into the prompt. The chat flow
// loads the memory document before every model invocation and passes its
// summary here.
func (s *Synthesizer) SynthesizeWithMemory(ctx context.Context, question string, ranked []Candidate, memorySummary string, history []memory.Turn) (string, []Source, error) {
	sources := buildSources(ranked)

	if len(ranked) == 0 {
		return NoInformationAnswer, sources, nil
	}

	var prompt strings.Builder
	if memorySummary != "" {
		prompt.WriteString("What you know about this user:\n")
		prompt.WriteString(memorySummary)
		prompt.WriteString("\n\n")
	}
	if len(history) > 0 {
		prompt.WriteString("Recent conversation:\n")
		for _, turn := range history {
			prompt.WriteString(turn.Role + ": " + turn.Content + "\n")
		}
		prompt.WriteString("\n")
	}

	prompt.WriteString("Lesson passages:\n")
	for i, c := range ranked {
		prompt.WriteString(fmt.Sprintf("[%d] (source: %s, part %d)\n%s\n\n", i+1, c.Chunk.Source, c.Chunk.Order, c.Chunk.Text))
	}
	prompt.WriteString("Question: " + question + "\n")

	answer, err := s.generator.GenerateText(ctx, answerSystemInstruction, prompt.String(), answerTemperature, answerMaxTokens)
	if err != nil {
		return "", nil, fmt.Errorf("answer generation failed: %w", err)
	}

	return strings.TrimSpace(answer), sources, nil
}

func buildSources(ranked []Candidate) []Source {
	sources := make([]Source, len(ranked))
	for i, c := range ranked {
		sources[i] = Source{
			ID:          c.Chunk.ID,
			Source:      c.Chunk.Source,
			ChunkIndex:  c.Chunk.Order,
			TextPreview: truncate(c.Chunk.Text, maxPreviewLen),
			RerankScore: c.RerankScore,
			Distance:    c.Distance,
		}
	}
	return sources
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
