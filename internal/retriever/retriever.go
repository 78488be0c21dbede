// Package retriever finds the documents most relevant to a question.
package retriever

import (
	"context"
	"errors"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"ragqa/internal/domain"
	"ragqa/internal/index"
	"ragqa/internal/logger"
)

var errEmptyQuery = errors.New("query is empty")

// Options tune a Retriever.
type Options struct {
	// CallTimeout bounds the query embedding call.
	CallTimeout time.Duration
	// LexicalFallback ranks by word overlap when the query shares no
	// features with the corpus and every similarity is zero.
	LexicalFallback bool
}

// Retriever embeds a question and searches an index with it.
type Retriever struct {
	embedder domain.Embedder
	index    *index.Index
	opts     Options
}

func New(embedder domain.Embedder, ix *index.Index, opts Options) *Retriever {
	return &Retriever{embedder: embedder, index: ix, opts: opts}
}

// Retrieve returns the documents of Search, in rank order.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]domain.Document, error) {
	results, err := r.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	docs := make([]domain.Document, len(results))
	for i, res := range results {
		docs[i] = res.Document
	}
	return docs, nil
}

// Search returns at most k scored results. Every failure matches
// domain.ErrRetrievalFailure.
func (r *Retriever) Search(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	const op = "retrieve"
	if strings.TrimSpace(query) == "" {
		return nil, domain.NewError(domain.ErrRetrievalFailure, op, errEmptyQuery)
	}
	vec, err := domain.CallService(ctx, "embed query", r.opts.CallTimeout, func(ctx context.Context) ([]float64, error) {
		return r.embedder.Embed(ctx, query)
	})
	if err != nil {
		return nil, domain.NewError(domain.ErrRetrievalFailure, op, err)
	}
	results, err := r.index.Search(ctx, vec, k)
	if err != nil {
		return nil, domain.NewError(domain.ErrRetrievalFailure, op, err)
	}
	if r.opts.LexicalFallback && allZero(results) {
		logger.Debug("no semantic overlap, falling back to lexical ranking", "query", query)
		return lexicalSearch(query, r.index.Documents(), k), nil
	}
	return results, nil
}

func allZero(results []domain.SearchResult) bool {
	for _, r := range results {
		if r.Score > 1e-9 {
			return false
		}
	}
	return true
}

var unicodeWordRe = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// lexicalSearch ranks documents by the Ochiai coefficient of their word sets
// with the query. Ties keep corpus order.
func lexicalSearch(query string, docs []domain.Document, k int) []domain.SearchResult {
	qset := toTokenSet(query)
	out := make([]domain.SearchResult, len(docs))
	for i, d := range docs {
		out[i] = domain.SearchResult{Document: d, Score: overlapOchiai(qset, d.Text)}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if k > len(out) {
		k = len(out)
	}
	return out[:k]
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

// overlapOchiai computes |A∩B| / sqrt(|A||B|).
func overlapOchiai(qset map[string]struct{}, text string) float64 {
	seen := toTokenSet(text)
	if len(qset) == 0 || len(seen) == 0 {
		return 0
	}
	inter := 0
	for t := range seen {
		if _, ok := qset[t]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(qset))*float64(len(seen)))
}
