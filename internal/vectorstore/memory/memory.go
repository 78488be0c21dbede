package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"ragqa/internal/domain"
	"ragqa/internal/vectorstore"
)

var _ domain.VectorStore = (*Storage)(nil)

// Storage is a simple in-memory vector store using brute-force cosine similarity.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	entries   []domain.Entry
	norms     []float64
}

func NewStorage() *Storage { return &Storage{} }

func (s *Storage) Init(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimension = dimension
	s.entries = nil
	s.norms = nil
	return nil
}

func (s *Storage) Upsert(_ context.Context, entries []domain.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension == 0 {
		return errors.New("storage not initialised")
	}
	for _, e := range entries {
		if len(e.Embedding) != s.dimension {
			return &domain.DimensionError{Want: s.dimension, Got: len(e.Embedding)}
		}
	}
	for _, e := range entries {
		s.entries = append(s.entries, e)
		s.norms = append(s.norms, vectorstore.Norm(e.Embedding))
	}
	return nil
}

// Search returns the topK entries by descending cosine similarity. Equal
// scores keep insertion order.
func (s *Storage) Search(_ context.Context, vector []float64, topK int) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(vector) != s.dimension {
		return nil, &domain.DimensionError{Want: s.dimension, Got: len(vector)}
	}
	if topK <= 0 {
		return nil, vectorstore.ErrInvalidTopK
	}
	qnorm := vectorstore.Norm(vector)
	results := make([]domain.SearchResult, len(s.entries))
	for i, e := range s.entries {
		results[i] = domain.SearchResult{
			Document: e.Document,
			Score:    vectorstore.Cosine(vector, e.Embedding, qnorm, s.norms[i]),
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > len(results) {
		topK = len(results)
	}
	return results[:topK], nil
}

func (s *Storage) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

func (s *Storage) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.norms = nil
	return nil
}

func (s *Storage) Close() error { return nil }
