package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragqa/internal/domain"
	"ragqa/internal/vectorstore"
	"ragqa/internal/vectorstore/qdrant/qdranttest"
)

type recorded struct {
	method string
	path   string
	body   map[string]any
}

func fakeQdrant(t *testing.T, handle func(r recorded, w http.ResponseWriter)) (*httptest.Server, *[]recorded) {
	t.Helper()
	var mu sync.Mutex
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		mu.Lock()
		calls = append(calls, rec)
		mu.Unlock()
		handle(rec, w)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestInit_CreatesWithoutDeleting(t *testing.T) {
	srv, calls := fakeQdrant(t, func(_ recorded, w http.ResponseWriter) {
		_, _ = w.Write([]byte(`{"result":true}`))
	})
	s := NewStorage(Config{URL: srv.URL, APIKey: "secret", Collection: "docs"})

	require.NoError(t, s.Init(context.Background(), 3))
	require.Len(t, *calls, 1)
	assert.Equal(t, http.MethodPut, (*calls)[0].method)
	assert.Equal(t, "/collections/docs", (*calls)[0].path)
	vectors := (*calls)[0].body["vectors"].(map[string]any)
	assert.EqualValues(t, 3, vectors["size"])
	assert.Equal(t, "Cosine", vectors["distance"])

	assert.Error(t, s.Init(context.Background(), 3), "a store initialises once")
}

func TestInit_ExistingCollectionIsLeftAlone(t *testing.T) {
	srv := qdranttest.New(t)
	served := NewStorage(Config{URL: srv.URL, Collection: "docs"})
	require.NoError(t, served.Init(context.Background(), 2))

	other := NewStorage(Config{URL: srv.URL, Collection: "docs"})
	require.Error(t, other.Init(context.Background(), 2))
	require.NoError(t, other.Clear(context.Background()))
	require.NoError(t, other.Close())

	assert.Equal(t, []string{"docs"}, srv.Collections())
	assert.Empty(t, srv.Deleted())
}

func TestClose_DropsOnlyOwnCollection(t *testing.T) {
	srv := qdranttest.New(t)
	a := NewStorage(Config{URL: srv.URL, Collection: "docs_a"})
	b := NewStorage(Config{URL: srv.URL, Collection: "docs_b"})
	require.NoError(t, a.Init(context.Background(), 2))
	require.NoError(t, b.Init(context.Background(), 2))

	require.NoError(t, a.Close())
	assert.Equal(t, []string{"docs_b"}, srv.Collections())
	require.NoError(t, a.Close(), "closing twice deletes nothing more")
	assert.Equal(t, []string{"docs_a"}, srv.Deleted())

	require.NoError(t, b.Upsert(context.Background(), []domain.Entry{{
		Document:  domain.Document{ID: "row-0", Text: "hello"},
		Embedding: []float64{1, 0},
	}}))
	n, err := b.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestClear_ToleratesMissingCollection(t *testing.T) {
	srv := qdranttest.New(t)
	s := NewStorage(Config{URL: srv.URL, Collection: "docs"})
	require.NoError(t, s.Init(context.Background(), 2))

	other := NewStorage(Config{URL: srv.URL, Collection: "docs"})
	other.created = true
	require.NoError(t, other.Clear(context.Background()))
	require.NoError(t, s.Clear(context.Background()))
	assert.Empty(t, srv.Collections())
}

func TestStagingName(t *testing.T) {
	a := StagingName("ragqa", "0123456789abcdef")
	b := StagingName("ragqa", "0123456789abcdef")
	assert.True(t, strings.HasPrefix(a, "ragqa_0123456789ab_"), a)
	assert.Len(t, a, len("ragqa_0123456789ab_")+12)
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(StagingName("ragqa", "abc"), "ragqa_abc_"))
}

func TestUpsert_SendsPointsWithStableIDs(t *testing.T) {
	srv, calls := fakeQdrant(t, func(_ recorded, w http.ResponseWriter) {
		_, _ = w.Write([]byte(`{}`))
	})
	s := NewStorage(Config{URL: srv.URL, APIKey: "secret", Collection: "docs"})
	s.dimension = 2

	err := s.Upsert(context.Background(), []domain.Entry{{
		Document:  domain.Document{ID: "row-0", Text: "hello", Metadata: map[string]any{"row": 0}},
		Embedding: []float64{1, 0},
		Position:  0,
	}})
	require.NoError(t, err)

	require.Len(t, *calls, 1)
	assert.Equal(t, "/collections/docs/points", (*calls)[0].path)
	points := (*calls)[0].body["points"].([]any)
	point := points[0].(map[string]any)
	assert.Equal(t, PointID("row-0"), point["id"])
	assert.Equal(t, PointID("row-0"), PointID("row-0"))
	assert.NotEqual(t, PointID("row-0"), PointID("row-1"))
	payload := point["payload"].(map[string]any)
	assert.Equal(t, "hello", payload["text"])
}

func TestUpsert_RejectsWrongDimension(t *testing.T) {
	s := NewStorage(Config{URL: "http://unused", Collection: "docs"})
	s.dimension = 2

	err := s.Upsert(context.Background(), []domain.Entry{{Embedding: []float64{1}}})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestSearch_ResortsTiesByPosition(t *testing.T) {
	srv, _ := fakeQdrant(t, func(_ recorded, w http.ResponseWriter) {
		_, _ = w.Write([]byte(`{"result":[
			{"score":0.5,"payload":{"document_id":"late","text":"b","position":4}},
			{"score":0.9,"payload":{"document_id":"top","text":"a","position":7,"metadata":{"row":7}}},
			{"score":0.5,"payload":{"document_id":"early","text":"c","position":1}}
		]}`))
	})
	s := NewStorage(Config{URL: srv.URL, APIKey: "secret", Collection: "docs"})
	s.dimension = 2

	res, err := s.Search(context.Background(), []float64{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, "top", res[0].Document.ID)
	assert.EqualValues(t, 7, res[0].Document.Metadata["row"])
	assert.Equal(t, "early", res[1].Document.ID)
	assert.Equal(t, "late", res[2].Document.ID)
}

func TestSearch_Validates(t *testing.T) {
	s := NewStorage(Config{URL: "http://unused", Collection: "docs"})
	s.dimension = 2

	_, err := s.Search(context.Background(), []float64{1}, 1)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	_, err = s.Search(context.Background(), []float64{1, 0}, 0)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidTopK)
}

func TestCount_AndErrors(t *testing.T) {
	srv, _ := fakeQdrant(t, func(r recorded, w http.ResponseWriter) {
		if r.path == "/collections/docs/points/count" {
			_, _ = w.Write([]byte(`{"result":{"count":42}}`))
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	s := NewStorage(Config{URL: srv.URL, APIKey: "secret", Collection: "docs"})

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	s.created = true
	err = s.Clear(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.ErrorContains(t, s.Close(), "drop collection docs")
}
