package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"talbashan.ai/assistant/internal/logger"
)

const (
	defaultChatModelName      = "gemini-1.5-flash-latest"
	defaultEmbeddingModelName = "text-embedding-004"

	// Every external call carries a bounded timeout; a timeout surfaces as
	// a retryable failure, never as an empty result.
	embedTimeout    = 30 * time.Second
	generateTimeout = 90 * time.Second
	scoreTimeout    = 20 * time.Second

	scoreSystemInstruction = "You are a relevance judge. Given a question and a passage, " +
		"rate how well the passage answers the question on a scale from 0 to 100. " +
		"Judge the question and passage together, not each in isolation. " +
		"Respond with the number only, nothing else."
)

type LLMService struct {
	client *genai.Client
}

func NewLLMService(ctx context.Context, apiKey string) (*LLMService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &LLMService{client: client}, nil
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			logger.Error("error closing GenAI client", "error", err)
		}
	}
}

// GetEmbedding converts text into a fixed-dimension vector. Deterministic
// for a given model version; upstream failures propagate to the caller,
// which decides retry policy.
func (s *LLMService) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	em := s.client.EmbeddingModel(defaultEmbeddingModelName)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}

	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding data received from gemini")
	}
	return res.Embedding.Values, nil
}

// GenerateText runs one generation call with the given system instruction
// and sampling parameters, returning the concatenated text parts.
func (s *LLMService) GenerateText(ctx context.Context, system, prompt string, temperature float32, maxTokens int32) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	model := s.client.GenerativeModel(defaultChatModelName)
	if system != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(system)},
		}
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     &temperature,
		MaxOutputTokens: &maxTokens,
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generation request failed: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned an empty response")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		} else {
			logger.Warn("gemini response part was not text", "type", fmt.Sprintf("%T", part))
		}
	}

	if text.Len() == 0 {
		return "", fmt.Errorf("gemini response contained no text parts")
	}
	return text.String(), nil
}

// ScorePair jointly scores a (question, passage) pair for relevance.
// This is the expensive second-stage signal: unlike the retrieval
// embeddings, the model sees both texts together.
func (s *LLMService) ScorePair(ctx context.Context, question, passage string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, scoreTimeout)
	defer cancel()

	prompt := fmt.Sprintf("Question: %s\n\nPassage: %s\n\nRelevance score (0-100):", question, passage)
	raw, err := s.GenerateText(ctx, scoreSystemInstruction, prompt, 0.0, 8)
	if err != nil {
		return 0, fmt.Errorf("rerank scoring failed: %w", err)
	}

	score, err := parseScore(raw)
	if err != nil {
		return 0, fmt.Errorf("rerank scoring returned %q: %w", raw, err)
	}
	return score, nil
}

func parseScore(raw string) (float64, error) {
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty score")
	}
	score, err := strconv.ParseFloat(strings.TrimSuffix(fields[0], "."), 64)
	if err != nil {
		return 0, err
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, nil
}
