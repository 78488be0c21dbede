// Package extractive answers from the prompt's own context by picking the
// sentences that share the most words with the question. It needs no
// external service.
package extractive

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"ragqa/internal/domain"
)

var _ domain.Generator = (*Generator)(nil)

// NoAnswer is returned when no context sentence overlaps the question.
const NoAnswer = "I could not find the answer in the provided context."

type Config struct {
	// ContextMarker and QuestionMarker locate the two parts of the prompt.
	ContextMarker  string
	QuestionMarker string
	MaxSentences   int
}

type Generator struct {
	contextMarker  string
	questionMarker string
	maxSentences   int
}

func New(cfg Config) *Generator {
	if cfg.ContextMarker == "" {
		cfg.ContextMarker = "context:"
	}
	if cfg.QuestionMarker == "" {
		cfg.QuestionMarker = "Question:"
	}
	if cfg.MaxSentences <= 0 {
		cfg.MaxSentences = 1
	}
	return &Generator{contextMarker: cfg.ContextMarker, questionMarker: cfg.QuestionMarker, maxSentences: cfg.MaxSentences}
}

func (g *Generator) Name() string { return "extractive" }

func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	contextText, question := g.split(prompt)
	sentences := Sentences(contextText)
	q := contentTokens(question)
	if len(q) == 0 || len(sentences) == 0 {
		return NoAnswer, nil
	}

	type scored struct {
		idx   int
		score int
	}
	var hits []scored
	for i, s := range sentences {
		if sc := overlap(q, s); sc > 0 {
			hits = append(hits, scored{i, sc})
		}
	}
	if len(hits) == 0 {
		return NoAnswer, nil
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > g.maxSentences {
		hits = hits[:g.maxSentences]
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].idx < hits[j].idx })
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = sentences[h.idx]
	}
	return strings.Join(out, " "), nil
}

// split separates the context block from the question. Without markers the
// last line is the question and everything before it is context.
func (g *Generator) split(prompt string) (string, string) {
	if qi := strings.LastIndex(prompt, g.questionMarker); qi >= 0 {
		question := strings.TrimSpace(prompt[qi+len(g.questionMarker):])
		head := prompt[:qi]
		if ci := strings.LastIndex(head, g.contextMarker); ci >= 0 {
			head = head[ci+len(g.contextMarker):]
		}
		return head, question
	}
	trimmed := strings.TrimSpace(prompt)
	if i := strings.LastIndex(trimmed, "\n"); i >= 0 {
		return trimmed[:i], strings.TrimSpace(trimmed[i+1:])
	}
	return "", trimmed
}

var (
	wordRe     = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)
	sentenceRe = regexp.MustCompile(`[^.!?\n]+[.!?]*`)
)

// Sentences splits text on sentence punctuation and line breaks.
func Sentences(text string) []string {
	var out []string
	for _, s := range sentenceRe.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// BestSentence returns the sentences of text and the index of the one sharing
// the most words with query, or -1 if none does.
func BestSentence(text, query string) ([]string, int) {
	sentences := Sentences(text)
	q := contentTokens(query)
	best, bestScore := -1, 0
	for i, s := range sentences {
		if sc := overlap(q, s); sc > bestScore {
			best, bestScore = i, sc
		}
	}
	return sentences, best
}

func contentTokens(s string) map[string]struct{} {
	tokens := wordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, stop := stopwords[t]; stop {
			continue
		}
		m[t] = struct{}{}
	}
	return m
}

func overlap(query map[string]struct{}, sentence string) int {
	score := 0
	for t := range contentTokens(sentence) {
		if _, ok := query[t]; ok {
			score++
		}
	}
	return score
}

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "for", "to", "of", "in", "on", "at", "by", "with", "as",
		"is", "are", "was", "were", "be", "been", "it", "its", "this", "that", "from", "into", "about",
		"what", "which", "who", "whom", "whose", "how", "when", "where", "why", "do", "does", "did",
		"i", "you", "he", "she", "they", "we", "me", "my", "your", "their", "there",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
