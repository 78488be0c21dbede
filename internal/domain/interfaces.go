package domain

import "context"

// Document is one retrievable unit of the corpus. It is created once when the
// corpus is loaded and never mutated afterwards.
type Document struct {
	ID       string
	Text     string
	Metadata map[string]any
}

// Entry is a document stored in a vector index together with its embedding.
// Position is the insertion order and breaks similarity ties.
type Entry struct {
	Document  Document
	Embedding []float64
	Position  int
}

// SearchResult represents a matching document with a relevance score.
type SearchResult struct {
	Document Document
	Score    float64
}

// Snapshot is the persisted form of a built index.
type Snapshot struct {
	Fingerprint string
	Embedder    string
	Dimension   int
	Entries     []Entry
}

// Answer is the outcome of one question put to the pipeline.
type Answer struct {
	Question string
	Text     string
	// Retrieved holds every result returned by the retriever, in rank order.
	Retrieved []SearchResult
	// Used holds the documents that fit into the prompt.
	Used   []Document
	Prompt string
}

// ContextEmpty reports whether the answer was produced without any context.
func (a *Answer) ContextEmpty() bool { return len(a.Used) == 0 }

// Embedder converts free text into a numeric vector representation.
type Embedder interface {
	Name() string
	// Dimension returns the vector size, or 0 while it is not yet known.
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Fitter is implemented by embedders that must see the corpus before
// embedding (TF-IDF builds its vocabulary this way). Fit returns an embedder
// bound to corpus and leaves the receiver untouched, so an index keeps
// answering queries with the vocabulary it was built with.
type Fitter interface {
	Fit(corpus []string) (Embedder, error)
}

// Generator produces a text completion for a prompt.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Loader turns a corpus locator into documents, in source order.
type Loader interface {
	Load(ctx context.Context, path string) ([]Document, error)
}

// Chunker splits documents into smaller documents suitable for retrieval.
type Chunker interface {
	Chunk(document Document) ([]Document, error)
}

// VectorStore persists vectors and supports similarity search.
type VectorStore interface {
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, entries []Entry) error
	Search(ctx context.Context, vector []float64, topK int) ([]SearchResult, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
	Close() error
}

// SnapshotCache stores built indexes keyed by corpus fingerprint and embedder.
type SnapshotCache interface {
	Load(ctx context.Context, fingerprint, embedder string) (*Snapshot, error)
	Save(ctx context.Context, snapshot *Snapshot) error
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}
