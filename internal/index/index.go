// Package index builds an immutable vector index over a document corpus.
package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"ragqa/internal/domain"
	"ragqa/internal/logger"
)

// ErrInvalidK is returned by Search when k is not positive.
var ErrInvalidK = errors.New("k must be a positive integer")

// StoreFactory returns an empty store for the corpus with the given fingerprint.
type StoreFactory func(fingerprint string) (domain.VectorStore, error)

// Options tune a Builder.
type Options struct {
	// Concurrency bounds in-flight embedding calls. Values below 1 mean 1.
	Concurrency int
	// CallTimeout bounds each embedding call. Zero disables the per-call bound.
	CallTimeout time.Duration
	// Cache is optional.
	Cache domain.SnapshotCache
}

// Builder turns documents into an Index.
type Builder struct {
	embedder domain.Embedder
	newStore StoreFactory
	opts     Options
}

func NewBuilder(embedder domain.Embedder, newStore StoreFactory, opts Options) *Builder {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Builder{embedder: embedder, newStore: newStore, opts: opts}
}

// Index is a built, read-only vector index.
type Index struct {
	store       domain.VectorStore
	embedder    domain.Embedder
	documents   []domain.Document
	dimension   int
	fingerprint string
	fromCache   bool
}

// Build embeds every document exactly once, unless a snapshot with the same
// fingerprint is cached, and loads the vectors into a fresh store. On error
// no store is left behind.
func (b *Builder) Build(ctx context.Context, docs []domain.Document) (*Index, error) {
	const op = "build index"
	if len(docs) == 0 {
		return nil, domain.NewError(domain.ErrLoader, op, errors.New("corpus is empty"))
	}
	seen := make(map[string]int, len(docs))
	texts := make([]string, len(docs))
	for i, d := range docs {
		if prev, ok := seen[d.ID]; ok {
			return nil, domain.NewError(domain.ErrLoader, op, fmt.Errorf("document id %q used at positions %d and %d", d.ID, prev, i))
		}
		seen[d.ID] = i
		texts[i] = d.Text
	}

	emb := b.embedder
	if f, ok := emb.(domain.Fitter); ok {
		fitted, err := f.Fit(texts)
		if err != nil {
			return nil, domain.NewError(domain.ErrEmbeddingFailure, op, fmt.Errorf("fit embedder: %w", err))
		}
		emb = fitted
	}

	fp := Fingerprint(docs)
	name := emb.Name()

	entries, fromCache := b.cached(ctx, emb, fp, docs)
	if entries == nil {
		var err error
		entries, err = b.embedAll(ctx, emb, docs)
		if err != nil {
			return nil, domain.NewError(domain.ErrEmbeddingFailure, op, err)
		}
	}
	dim := len(entries[0].Embedding)

	store, err := b.newStore(fp)
	if err != nil {
		return nil, domain.NewError(domain.ErrIndexStore, op, fmt.Errorf("create store: %w", err))
	}
	if err := store.Init(ctx, dim); err != nil {
		closeStore(store)
		return nil, domain.NewError(domain.ErrIndexStore, op, fmt.Errorf("init store: %w", err))
	}
	if err := store.Upsert(ctx, entries); err != nil {
		if cerr := store.Clear(ctx); cerr != nil {
			logger.Warn("failed to clear partially loaded store", "error", cerr)
		}
		closeStore(store)
		return nil, domain.NewError(domain.ErrIndexStore, op, fmt.Errorf("load store: %w", err))
	}

	if b.opts.Cache != nil && !fromCache {
		snap := &domain.Snapshot{Fingerprint: fp, Embedder: name, Dimension: dim, Entries: entries}
		if err := b.opts.Cache.Save(ctx, snap); err != nil {
			logger.Warn("failed to save index snapshot", "error", err)
		}
	}

	logger.Info("index built", "documents", len(docs), "dimension", dim, "cached", fromCache, "fingerprint", fp[:12])
	return &Index{
		store:       store,
		embedder:    emb,
		documents:   docs,
		dimension:   dim,
		fingerprint: fp,
		fromCache:   fromCache,
	}, nil
}

func closeStore(store domain.VectorStore) {
	if err := store.Close(); err != nil {
		logger.Warn("failed to close store", "error", err)
	}
}

func (b *Builder) cached(ctx context.Context, emb domain.Embedder, fp string, docs []domain.Document) ([]domain.Entry, bool) {
	if b.opts.Cache == nil {
		return nil, false
	}
	snap, err := b.opts.Cache.Load(ctx, fp, emb.Name())
	if err != nil {
		if !errors.Is(err, domain.ErrCacheMiss) {
			logger.Warn("ignoring unreadable index snapshot", "error", err)
		}
		return nil, false
	}
	if len(snap.Entries) != len(docs) || snap.Dimension <= 0 {
		logger.Warn("ignoring inconsistent index snapshot", "entries", len(snap.Entries), "documents", len(docs))
		return nil, false
	}
	if d := emb.Dimension(); d > 0 && d != snap.Dimension {
		logger.Warn("ignoring index snapshot with foreign dimension", "snapshot", snap.Dimension, "embedder", d)
		return nil, false
	}
	// The snapshot carries the vectors; documents come from the current load.
	entries := make([]domain.Entry, len(docs))
	for i, d := range docs {
		e := snap.Entries[i]
		if e.Document.ID != d.ID || len(e.Embedding) != snap.Dimension {
			logger.Warn("ignoring index snapshot out of order", "position", i)
			return nil, false
		}
		entries[i] = domain.Entry{Document: d, Embedding: e.Embedding, Position: i}
	}
	logger.Debug("index snapshot hit", "fingerprint", fp[:12])
	return entries, true
}

func (b *Builder) embedAll(ctx context.Context, emb domain.Embedder, docs []domain.Document) ([]domain.Entry, error) {
	entries := make([]domain.Entry, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Concurrency)
	for i, d := range docs {
		g.Go(func() error {
			vec, err := domain.CallService(gctx, "embed document", b.opts.CallTimeout, func(ctx context.Context) ([]float64, error) {
				return emb.Embed(ctx, d.Text)
			})
			if err != nil {
				return fmt.Errorf("document %s: %w", d.ID, err)
			}
			entries[i] = domain.Entry{Document: d, Embedding: vec, Position: i}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dim := emb.Dimension()
	if dim <= 0 {
		dim = len(entries[0].Embedding)
	}
	for _, e := range entries {
		if err := checkVector(e.Embedding, dim); err != nil {
			return nil, fmt.Errorf("document %s: %w", e.Document.ID, err)
		}
	}
	return entries, nil
}

func checkVector(v []float64, dim int) error {
	if len(v) == 0 {
		return errors.New("empty vector")
	}
	if len(v) != dim {
		return fmt.Errorf("vector has %d components, want %d", len(v), dim)
	}
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return errors.New("vector has non-finite components")
		}
	}
	return nil
}

// Search returns at most k results by descending cosine similarity.
func (ix *Index) Search(ctx context.Context, vector []float64, k int) ([]domain.SearchResult, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if len(vector) != ix.dimension {
		return nil, &domain.DimensionError{Want: ix.dimension, Got: len(vector)}
	}
	if k > len(ix.documents) {
		k = len(ix.documents)
	}
	return ix.store.Search(ctx, vector, k)
}

// Documents returns the indexed documents in insertion order. The slice must
// not be modified.
func (ix *Index) Documents() []domain.Document { return ix.documents }

func (ix *Index) Size() int { return len(ix.documents) }

func (ix *Index) Dimension() int { return ix.dimension }

func (ix *Index) Fingerprint() string { return ix.fingerprint }

// Embedder returns the embedder the vectors came from. Queries must be
// embedded with it.
func (ix *Index) Embedder() domain.Embedder { return ix.embedder }

// FromCache reports whether the vectors were read from a snapshot.
func (ix *Index) FromCache() bool { return ix.fromCache }

// Close releases the backing store.
func (ix *Index) Close() error { return ix.store.Close() }
