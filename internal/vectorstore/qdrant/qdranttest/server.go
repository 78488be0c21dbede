// Package qdranttest provides an in-memory Qdrant REST server for tests.
package qdranttest

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
)

type point struct {
	vector  []float64
	payload map[string]any
}

type collection struct {
	size   int
	points map[string]point
}

// Server keeps collections and points in memory and answers the subset of the
// Qdrant API the qdrant store uses.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	collections map[string]*collection
	failUpserts bool
	deleted     []string
}

// New starts a server that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{collections: make(map[string]*collection)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// FailUpserts makes every points upsert answer 500 while fail is set.
func (s *Server) FailUpserts(fail bool) {
	s.mu.Lock()
	s.failUpserts = fail
	s.mu.Unlock()
}

// Collections lists the existing collections by name.
func (s *Server) Collections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Deleted lists the collections removed so far, in order.
func (s *Server) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	name, rest, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/collections/"), "/")

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collections[name]

	switch {
	case rest == "" && r.Method == http.MethodPut:
		if c != nil {
			http.Error(w, "collection exists", http.StatusConflict)
			return
		}
		var req struct {
			Vectors struct {
				Size int `json:"size"`
			} `json:"vectors"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.collections[name] = &collection{size: req.Vectors.Size, points: make(map[string]point)}
		reply(w, true)
	case c == nil:
		http.Error(w, "collection not found", http.StatusNotFound)
	case rest == "" && r.Method == http.MethodDelete:
		delete(s.collections, name)
		s.deleted = append(s.deleted, name)
		reply(w, true)
	case rest == "points" && r.Method == http.MethodPut:
		if s.failUpserts {
			http.Error(w, "upsert failed", http.StatusInternalServerError)
			return
		}
		var req struct {
			Points []struct {
				ID      string         `json:"id"`
				Vector  []float64      `json:"vector"`
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, p := range req.Points {
			if len(p.Vector) != c.size {
				http.Error(w, "wrong vector size", http.StatusBadRequest)
				return
			}
			c.points[p.ID] = point{vector: p.Vector, payload: p.Payload}
		}
		reply(w, map[string]any{"status": "completed"})
	case rest == "points/search" && r.Method == http.MethodPost:
		var req struct {
			Vector []float64 `json:"vector"`
			Limit  int       `json:"limit"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		type hit struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		}
		hits := make([]hit, 0, len(c.points))
		for _, p := range c.points {
			hits = append(hits, hit{Score: cosine(req.Vector, p.vector), Payload: p.payload})
		}
		sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
		if req.Limit < len(hits) {
			hits = hits[:req.Limit]
		}
		reply(w, hits)
	case rest == "points/count" && r.Method == http.MethodPost:
		reply(w, map[string]any{"count": len(c.points)})
	default:
		http.Error(w, "unsupported", http.StatusNotImplemented)
	}
}

func reply(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok"})
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
