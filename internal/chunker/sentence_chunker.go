package chunker

import (
	"maps"
	"regexp"
	"strconv"
	"strings"

	"ragqa/internal/domain"
)

// SentenceChunker splits a document into sentence-based chunks with overlap.
// Documents that fit into one chunk are returned unchanged.
type SentenceChunker struct {
	sentencesPerChunk int
	overlapSentences  int
	splitter          *regexp.Regexp
}

func NewSentenceChunker(sentencesPerChunk, overlapSentences int) *SentenceChunker {
	if sentencesPerChunk <= 0 {
		sentencesPerChunk = 5
	}
	if overlapSentences < 0 {
		overlapSentences = 0
	}
	if overlapSentences >= sentencesPerChunk {
		overlapSentences = sentencesPerChunk - 1
	}
	return &SentenceChunker{
		sentencesPerChunk: sentencesPerChunk,
		overlapSentences:  overlapSentences,
		splitter:          regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`),
	}
}

// Chunk returns the chunks of document in order. Chunk ids are "<id>#<n>"
// and each chunk carries a "chunk" metadata entry.
func (c *SentenceChunker) Chunk(document domain.Document) ([]domain.Document, error) {
	trimmed := strings.TrimSpace(document.Text)
	if trimmed == "" {
		return nil, nil
	}
	var sentences []string
	last := 0
	for _, loc := range c.splitter.FindAllStringIndex(trimmed, -1) {
		sentences = append(sentences, trimmed[loc[0]:loc[1]])
		last = loc[1]
	}
	// Keep trailing text without terminal punctuation.
	if rest := strings.TrimSpace(trimmed[last:]); rest != "" {
		sentences = append(sentences, rest)
	}
	for i := range sentences {
		sentences[i] = strings.TrimSpace(sentences[i])
	}
	if len(sentences) <= c.sentencesPerChunk {
		return []domain.Document{document}, nil
	}

	var chunks []domain.Document
	i := 0
	idx := 0
	for i < len(sentences) {
		end := min(i+c.sentencesPerChunk, len(sentences))
		meta := make(map[string]any, len(document.Metadata)+1)
		maps.Copy(meta, document.Metadata)
		meta["chunk"] = idx
		chunks = append(chunks, domain.Document{
			ID:       document.ID + "#" + strconv.Itoa(idx),
			Text:     strings.Join(sentences[i:end], " "),
			Metadata: meta,
		})
		if end == len(sentences) {
			break
		}
		i = end - c.overlapSentences
		idx++
	}
	return chunks, nil
}
