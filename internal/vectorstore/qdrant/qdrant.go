package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ragqa/internal/domain"
	"ragqa/internal/vectorstore"
)

var _ domain.VectorStore = (*Storage)(nil)

// pointNamespace derives stable point ids from document ids.
var pointNamespace = uuid.MustParse("6f1d5a0e-8d4b-4c1e-9a57-2b3c7e0f4a91")

// Storage is a minimal REST client to Qdrant using cosine distance.
// Init creates the collection and only a collection created by Init is ever
// deleted, by Clear or Close. Collections another store serves from are never
// touched, so each build should use its own name (see StagingName).
type Storage struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client

	mu      sync.Mutex
	created bool
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Storage{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

// Collection returns the collection name this storage writes to.
func (s *Storage) Collection() string { return s.collection }

// PointID maps a document id to the UUID used as Qdrant point id.
func PointID(documentID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(documentID)).String()
}

// StagingName returns a collection name unique to one build of the corpus
// with the given fingerprint: base, 12 fingerprint characters and a random
// suffix.
func StagingName(base, fingerprint string) string {
	if len(fingerprint) > 12 {
		fingerprint = fingerprint[:12]
	}
	return base + "_" + fingerprint + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Init creates the collection. It fails if the collection already exists.
func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.created {
		return fmt.Errorf("collection %s already initialised", s.collection)
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	if err := s.do(ctx, http.MethodPut, s.collectionURL(""), body, nil); err != nil {
		return err
	}
	s.dimension = dimension
	s.created = true
	return nil
}

func (s *Storage) Upsert(ctx context.Context, entries []domain.Entry) error {
	if s.dimension == 0 {
		return errors.New("storage not initialised")
	}
	points := make([]map[string]any, len(entries))
	for i, e := range entries {
		if len(e.Embedding) != s.dimension {
			return &domain.DimensionError{Want: s.dimension, Got: len(e.Embedding)}
		}
		points[i] = map[string]any{
			"id":     PointID(e.Document.ID),
			"vector": e.Embedding,
			"payload": map[string]any{
				"document_id": e.Document.ID,
				"text":        e.Document.Text,
				"metadata":    e.Document.Metadata,
				"position":    e.Position,
			},
		}
	}
	body := map[string]any{"points": points}
	return s.do(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), body, nil)
}

// Search queries Qdrant and re-sorts the hits so equal scores keep insertion order.
func (s *Storage) Search(ctx context.Context, vector []float64, topK int) ([]domain.SearchResult, error) {
	if len(vector) != s.dimension {
		return nil, &domain.DimensionError{Want: s.dimension, Got: len(vector)}
	}
	if topK <= 0 {
		return nil, vectorstore.ErrInvalidTopK
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			Score   float64 `json:"score"`
			Payload struct {
				DocumentID string         `json:"document_id"`
				Text       string         `json:"text"`
				Metadata   map[string]any `json:"metadata"`
				Position   int            `json:"position"`
			} `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, err
	}
	sort.SliceStable(resp.Result, func(i, j int) bool {
		a, b := resp.Result[i], resp.Result[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Payload.Position < b.Payload.Position
	})
	results := make([]domain.SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, domain.SearchResult{
			Document: domain.Document{ID: r.Payload.DocumentID, Text: r.Payload.Text, Metadata: r.Payload.Metadata},
			Score:    r.Score,
		})
	}
	return results, nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL("/points/count"), map[string]any{"exact": true}, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// Clear drops the collection if Init created it. A collection that is already
// gone is not an error.
func (s *Storage) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drop(ctx)
}

func (s *Storage) drop(ctx context.Context) error {
	if !s.created {
		return nil
	}
	err := s.do(ctx, http.MethodDelete, s.collectionURL(""), nil, nil)
	var se *statusError
	if err != nil && !(errors.As(err, &se) && se.code == http.StatusNotFound) {
		return err
	}
	s.created = false
	return nil
}

// Close drops the collection created by Init and releases idle connections.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), s.client.Timeout)
	defer cancel()
	err := s.drop(ctx)
	s.client.CloseIdleConnections()
	if err != nil {
		return fmt.Errorf("drop collection %s: %w", s.collection, err)
	}
	return nil
}

func (s *Storage) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

type statusError struct {
	method string
	url    string
	code   int
	status string
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant %s %s failed: %s: %s", e.method, e.url, e.status, e.body)
}

func (s *Storage) do(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal qdrant request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create qdrant request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return &statusError{method: method, url: url, code: resp.StatusCode, status: resp.Status, body: string(bytes.TrimSpace(raw))}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
