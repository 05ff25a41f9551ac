package core

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"talbashan.ai/assistant/internal/logger"
	"talbashan.ai/assistant/internal/store"
)

// indexConcurrency caps in-flight embedding calls during batch indexing.
// Chunk upserts have no cross-chunk ordering requirement.
const indexConcurrency = 4

// ChunkUpserter is the knowledge-store write side.
type ChunkUpserter interface {
	UpsertChunk(chunk *store.KnowledgeChunk) error
}

// ChunkInput is one record of an indexing batch.
type ChunkInput struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Source   string         `json:"source,omitempty"`
	Lesson   string         `json:"lesson,omitempty"`
	Order    int            `json:"order"`
	Tags     []string       `json:"tags,omitempty"`
}

// IndexReport counts the outcome of a batch.
type IndexReport struct {
	Indexed int `json:"indexed"`
	Errors  int `json:"errors"`
	Total   int `json:"total"`
}

type Indexer struct {
	embedder Embedder
	store    ChunkUpserter
}

func NewIndexer(embedder Embedder, store ChunkUpserter) *Indexer {
	return &Indexer{embedder: embedder, store: store}
}

// IndexChunks embeds and upserts a batch. A chunk missing its id or text,
// or failing to embed or persist, is skipped and counted as an error; the
// batch itself always completes and reports counts.
func (ix *Indexer) IndexChunks(ctx context.Context, inputs []ChunkInput) *IndexReport {
	report := &IndexReport{Total: len(inputs)}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(indexConcurrency)

	for _, input := range inputs {
		input := input
		g.Go(func() error {
			ok := ix.indexOne(ctx, input)
			mu.Lock()
			if ok {
				report.Indexed++
			} else {
				report.Errors++
			}
			mu.Unlock()
			return nil // per-item failures are absorbed into the count
		})
	}
	g.Wait()

	logger.Info("indexing batch complete", "indexed", report.Indexed, "errors", report.Errors, "total", report.Total)
	return report
}

func (ix *Indexer) indexOne(ctx context.Context, input ChunkInput) bool {
	if input.ID == "" || input.Text == "" {
		logger.Warn("skipping chunk without id or text", "id", input.ID)
		return false
	}

	embedding, err := ix.embedder.GetEmbedding(ctx, input.Text)
	if err != nil {
		logger.Error("failed to embed chunk", "id", input.ID, "error", err)
		return false
	}

	chunk := &store.KnowledgeChunk{
		ID:        input.ID,
		Text:      input.Text,
		Metadata:  input.Metadata,
		Embedding: embedding,
		Source:    input.Source,
		Lesson:    input.Lesson,
		Order:     input.Order,
		Tags:      input.Tags,
	}
	if err := ix.store.UpsertChunk(chunk); err != nil {
		logger.Error("failed to store chunk", "id", input.ID, "error", err)
		return false
	}
	return true
}
