package retriever

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragqa/internal/domain"
	"ragqa/internal/embedding/tfidf"
	"ragqa/internal/index"
	"ragqa/internal/vectorstore/memory"
)

var corpus = []domain.Document{
	{ID: "row-0", Text: "Paris is the capital of France."},
	{ID: "row-1", Text: "Tokyo is the capital of Japan."},
	{ID: "row-2", Text: "Cats are small domesticated mammals."},
}

func build(t *testing.T, emb domain.Embedder) *index.Index {
	t.Helper()
	stores := func(string) (domain.VectorStore, error) { return memory.NewStorage(), nil }
	ix, err := index.NewBuilder(emb, stores, index.Options{}).Build(context.Background(), corpus)
	require.NoError(t, err)
	return ix
}

func TestRetrieve_RanksRelevantFirst(t *testing.T) {
	ix := build(t, tfidf.NewEmbedder())
	r := New(ix.Embedder(), ix, Options{})

	docs, err := r.Retrieve(context.Background(), "What is the capital of France?", 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "row-0", docs[0].ID)
	assert.Equal(t, "row-1", docs[1].ID)
}

func TestSearch_KLargerThanCorpus(t *testing.T) {
	ix := build(t, tfidf.NewEmbedder())
	r := New(ix.Embedder(), ix, Options{})

	res, err := r.Search(context.Background(), "cats", 10)
	require.NoError(t, err)
	assert.Len(t, res, 3)
	assert.Equal(t, "row-2", res[0].Document.ID)
}

func TestSearch_WrapsFailures(t *testing.T) {
	ix := build(t, tfidf.NewEmbedder())

	_, err := New(ix.Embedder(), ix, Options{}).Search(context.Background(), "  ", 1)
	assert.ErrorIs(t, err, domain.ErrRetrievalFailure)

	_, err = New(ix.Embedder(), ix, Options{}).Search(context.Background(), "cats", 0)
	assert.ErrorIs(t, err, domain.ErrRetrievalFailure)
	assert.ErrorIs(t, err, index.ErrInvalidK)

	_, err = New(fixedEmbedder{vec: []float64{1, 2}}, ix, Options{}).Search(context.Background(), "cats", 1)
	assert.ErrorIs(t, err, domain.ErrRetrievalFailure)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	boom := errors.New("boom")
	_, err = New(fixedEmbedder{err: boom}, ix, Options{}).Search(context.Background(), "cats", 1)
	assert.ErrorIs(t, err, domain.ErrRetrievalFailure)
	assert.ErrorIs(t, err, boom)
}

func TestSearch_Timeout(t *testing.T) {
	ix := build(t, tfidf.NewEmbedder())
	r := New(fixedEmbedder{delay: time.Second}, ix, Options{CallTimeout: 10 * time.Millisecond})

	_, err := r.Search(context.Background(), "cats", 1)
	assert.ErrorIs(t, err, domain.ErrRetrievalFailure)
	assert.ErrorIs(t, err, domain.ErrServiceTimeout)
}

func TestSearch_LexicalFallback(t *testing.T) {
	ix := build(t, tfidf.NewEmbedder())
	zero := fixedEmbedder{vec: make([]float64, ix.Dimension())}

	res, err := New(zero, ix, Options{LexicalFallback: true}).Search(context.Background(), "tokyo japan", 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "row-1", res[0].Document.ID)

	res, err = New(zero, ix, Options{}).Search(context.Background(), "tokyo japan", 1)
	require.NoError(t, err)
	assert.Equal(t, "row-0", res[0].Document.ID, "without fallback zero scores keep corpus order")
}

type fixedEmbedder struct {
	vec   []float64
	err   error
	delay time.Duration
}

func (f fixedEmbedder) Name() string   { return "fixed" }
func (f fixedEmbedder) Dimension() int { return len(f.vec) }

func (f fixedEmbedder) Embed(ctx context.Context, _ string) ([]float64, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.vec, f.err
}
