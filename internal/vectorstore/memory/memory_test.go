package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragqa/internal/domain"
	"ragqa/internal/vectorstore"
)

func entry(id string, pos int, v ...float64) domain.Entry {
	return domain.Entry{Document: domain.Document{ID: id, Text: id}, Embedding: v, Position: pos}
}

func newStore(t *testing.T, entries ...domain.Entry) *Storage {
	t.Helper()
	s := NewStorage()
	require.NoError(t, s.Init(context.Background(), 2))
	require.NoError(t, s.Upsert(context.Background(), entries))
	return s
}

func TestSearch_OrdersByCosine(t *testing.T) {
	s := newStore(t, entry("a", 0, 1, 0), entry("b", 1, 0, 1), entry("c", 2, 1, 1))

	res, err := s.Search(context.Background(), []float64{0.9, 0.1}, 3)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, "a", res[0].Document.ID)
	assert.Equal(t, "c", res[1].Document.ID)
	assert.Equal(t, "b", res[2].Document.ID)
	for i := 1; i < len(res); i++ {
		assert.GreaterOrEqual(t, res[i-1].Score, res[i].Score)
	}
}

func TestSearch_TiesKeepInsertionOrder(t *testing.T) {
	s := newStore(t, entry("first", 0, 2, 0), entry("second", 1, 1, 0), entry("third", 2, 3, 0))

	res, err := s.Search(context.Background(), []float64{1, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, []string{res[0].Document.ID, res[1].Document.ID, res[2].Document.ID})
}

func TestSearch_TopKLargerThanStore(t *testing.T) {
	s := newStore(t, entry("a", 0, 1, 0), entry("b", 1, 0, 1))

	res, err := s.Search(context.Background(), []float64{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, res, 2)
}

func TestSearch_Errors(t *testing.T) {
	s := newStore(t, entry("a", 0, 1, 0))

	_, err := s.Search(context.Background(), []float64{1, 0, 0}, 1)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	_, err = s.Search(context.Background(), []float64{1, 0}, 0)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidTopK)
}

func TestUpsert_RejectsWrongDimension(t *testing.T) {
	s := NewStorage()
	require.NoError(t, s.Init(context.Background(), 2))

	err := s.Upsert(context.Background(), []domain.Entry{entry("a", 0, 1, 0), entry("b", 1, 1)})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	n, _ := s.Count(context.Background())
	assert.Zero(t, n, "a rejected batch leaves the store untouched")
}

func TestInit_Validates(t *testing.T) {
	assert.Error(t, NewStorage().Init(context.Background(), 0))
	assert.Error(t, NewStorage().Upsert(context.Background(), []domain.Entry{entry("a", 0, 1)}))
}

func TestClear(t *testing.T) {
	s := newStore(t, entry("a", 0, 1, 0))
	require.NoError(t, s.Clear(context.Background()))

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, s.Close())
}
