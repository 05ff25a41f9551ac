package core

import (
	"context"
	"fmt"
	"strings"

	"talbashan.ai/assistant/internal/logger"
)

// QueryResult is the query-boundary output: the grounded answer plus the
// provenance of every passage it was built from.
type QueryResult struct {
	Question     string   `json:"question"`
	Answer       string   `json:"answer"`
	Sources      []Source `json:"sources"`
	TotalSources int      `json:"total_sources"`
}

// QueryService runs the full two-stage pipeline:
// embed → nearest-neighbor retrieval (topK) → rerank (topN) → synthesis.
type QueryService struct {
	retriever   *Retriever
	reranker    *Reranker
	synthesizer *Synthesizer
}

func NewQueryService(retriever *Retriever, reranker *Reranker, synthesizer *Synthesizer) *QueryService {
	return &QueryService{
		retriever:   retriever,
		reranker:    reranker,
		synthesizer: synthesizer,
	}
}

// Answer answers a question grounded in the knowledge base. topK and topN
// fall back to their defaults when non-positive.
func (s *QueryService) Answer(ctx context.Context, question string, topK, topN int) (*QueryResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question must not be empty", ErrInvalidInput)
	}

	candidates, err := s.retriever.Retrieve(ctx, question, topK)
	if err != nil {
		return nil, err
	}

	ranked, err := s.reranker.Rerank(ctx, question, candidates, topN)
	if err != nil {
		return nil, err
	}

	answer, sources, err := s.synthesizer.Synthesize(ctx, question, ranked)
	if err != nil {
		return nil, err
	}

	logger.Info("answered query", "candidates", len(candidates), "sources", len(sources))
	return &QueryResult{
		Question:     question,
		Answer:       answer,
		Sources:      sources,
		TotalSources: len(sources),
	}, nil
}
