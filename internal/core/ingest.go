package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"talbashan.ai/assistant/internal/logger"
)

// Chunking parameters. Roughly 200-400 tokens per chunk with 50-100 tokens
// of overlap works well for lesson prose; one token is estimated as four
// characters.
const (
	chunkMaxTokens     = 300
	chunkOverlapTokens = 75
	chunkMinTokens     = 50
)

var sentenceEndings = regexp.MustCompile(`[.!?]\s+`)

// estimateTokens is a rough count, good enough for chunk sizing.
func estimateTokens(text string) int {
	return len([]rune(text)) / 4
}

// ChunkLessonText splits text into overlapping chunks on sentence
// boundaries. Chunks smaller than the minimum are dropped.
func ChunkLessonText(text string, maxTokens, overlapTokens, minTokens int) []string {
	sentences := sentenceEndings.Split(text, -1)

	var chunks []string
	var current []string
	currentTokens := 0

	flush := func() {
		chunkText := strings.Join(current, " ")
		if estimateTokens(chunkText) >= minTokens {
			chunks = append(chunks, chunkText)
		}
	}

	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}

		sentenceTokens := estimateTokens(sentence)
		if currentTokens+sentenceTokens > maxTokens && len(current) > 0 {
			flush()

			// Carry the last few sentences over as overlap.
			var overlap []string
			overlapCount := 0
			for j := len(current) - 1; j >= 0; j-- {
				tokens := estimateTokens(current[j])
				if overlapCount+tokens > overlapTokens {
					break
				}
				overlap = append([]string{current[j]}, overlap...)
				overlapCount += tokens
			}

			current = append(overlap, sentence)
			currentTokens = overlapCount + sentenceTokens
		} else {
			current = append(current, sentence)
			currentTokens += sentenceTokens
		}
	}

	if len(current) > 0 {
		flush()
	}
	return chunks
}

// chunkMetadata derives per-chunk annotations: size counts plus a topic
// hint taken from the first sentence.
func chunkMetadata(text string) map[string]any {
	metadata := map[string]any{
		"word_count":  len(strings.Fields(text)),
		"char_count":  len([]rune(text)),
		"token_count": estimateTokens(text),
	}

	if idx := strings.Index(text, "."); idx > 0 {
		topic := strings.TrimSpace(text[:idx])
		runes := []rune(topic)
		if len(runes) > 100 {
			topic = string(runes[:100])
		}
		metadata["topic"] = topic
	}
	return metadata
}

// IngestMarkdownDir reads every .md lesson file under dir, chunks it, and
// indexes the chunks. Chunk IDs are derived from the file name and chunk
// position, so re-ingesting a directory upserts in place instead of
// duplicating.
func IngestMarkdownDir(ctx context.Context, dir string, indexer *Indexer) (*IndexReport, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read lessons directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".md") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	if len(files) == 0 {
		return nil, fmt.Errorf("no markdown files found in %s", dir)
	}
	logger.Info("ingesting lesson files", "dir", dir, "files", len(files))

	var inputs []ChunkInput
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Error("failed to read lesson file", "file", name, "error", err)
			continue
		}

		text := strings.TrimSpace(string(content))
		if text == "" {
			logger.Warn("skipping empty lesson file", "file", name)
			continue
		}

		lesson := strings.TrimSuffix(name, filepath.Ext(name))
		chunks := ChunkLessonText(text, chunkMaxTokens, chunkOverlapTokens, chunkMinTokens)
		for i, chunkText := range chunks {
			inputs = append(inputs, ChunkInput{
				ID:       fmt.Sprintf("%s-%d", lesson, i),
				Text:     chunkText,
				Metadata: chunkMetadata(chunkText),
				Source:   name,
				Lesson:   lesson,
				Order:    i,
			})
		}
	}

	return indexer.IndexChunks(ctx, inputs), nil
}
