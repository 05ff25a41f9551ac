package core

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"talbashan.ai/assistant/internal/logger"
)

// DefaultTopNRerank bounds the expensive second stage to a small final set.
const DefaultTopNRerank = 8

// rerankConcurrency caps in-flight scoring calls.
const rerankConcurrency = 8

// PairScorer scores a question jointly with one candidate passage.
type PairScorer interface {
	ScorePair(ctx context.Context, question, passage string) (float64, error)
}

type Reranker struct {
	scorer PairScorer
}

func NewReranker(scorer PairScorer) *Reranker {
	return &Reranker{scorer: scorer}
}

// Rerank scores every candidate against the question, sorts descending by
// score, and truncates to topN (clamped to the candidate count). Scoring
// calls run concurrently; the final order depends only on the returned
// scores, with ties broken by the original retrieval rank.
func (r *Reranker) Rerank(ctx context.Context, question string, candidates []Candidate, topN int) ([]Candidate, error) {
	if topN <= 0 {
		topN = DefaultTopNRerank
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(rerankConcurrency)
	for i := range ranked {
		i := i
		g.Go(func() error {
			score, err := r.scorer.ScorePair(ctx, question, ranked[i].Chunk.Text)
			if err != nil {
				return fmt.Errorf("scoring candidate %s: %w", ranked[i].Chunk.ID, err)
			}
			ranked[i].RerankScore = score
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].RerankScore != ranked[j].RerankScore {
			return ranked[i].RerankScore > ranked[j].RerankScore
		}
		return ranked[i].Rank < ranked[j].Rank
	})

	if topN > len(ranked) {
		topN = len(ranked)
	}
	ranked = ranked[:topN]

	logger.Debug("reranked candidates", "returned", len(ranked), "scored", len(candidates))
	return ranked, nil
}
