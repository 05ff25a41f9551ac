package core

import (
	"context"
	"fmt"

	"talbashan.ai/assistant/internal/logger"
	"talbashan.ai/assistant/internal/store"
)

// DefaultTopKRetrieve is the first-stage candidate count: broad recall is
// cheap here, precision comes from the reranker.
const DefaultTopKRetrieve = 50

// Embedder converts text to a fixed-dimension vector.
type Embedder interface {
	GetEmbedding(ctx context.Context, text string) ([]float32, error)
}

// ChunkSearcher is the nearest-neighbor search the knowledge store provides.
type ChunkSearcher interface {
	SearchChunks(queryEmbedding []float32, k int) ([]store.ScoredChunk, error)
}

// Candidate is a retrieved chunk carrying its first-stage distance and
// retrieval rank, and after reranking its second-stage score.
type Candidate struct {
	Chunk       store.KnowledgeChunk
	Distance    float32
	Rank        int // position in the initial retrieval order, 0-based
	RerankScore float64
}

type Retriever struct {
	embedder Embedder
	searcher ChunkSearcher
}

func NewRetriever(embedder Embedder, searcher ChunkSearcher) *Retriever {
	return &Retriever{embedder: embedder, searcher: searcher}
}

// Retrieve embeds the question and returns up to topK nearest chunks.
// An empty knowledge store yields an empty candidate list, not an error:
// callers treat that as "no grounding available".
func (r *Retriever) Retrieve(ctx context.Context, question string, topK int) ([]Candidate, error) {
	if topK <= 0 {
		topK = DefaultTopKRetrieve
	}

	queryEmbedding, err := r.embedder.GetEmbedding(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	scored, err := r.searcher.SearchChunks(queryEmbedding, topK)
	if err != nil {
		return nil, fmt.Errorf("knowledge search failed: %w", err)
	}

	candidates := make([]Candidate, len(scored))
	for i, sc := range scored {
		candidates[i] = Candidate{
			Chunk:    sc.Chunk,
			Distance: sc.Distance,
			Rank:     i,
		}
	}

	logger.Debug("retrieved candidates", "count", len(candidates), "top_k", topK)
	return candidates, nil
}
