// Package service wires loading, indexing, retrieval, prompting and
// generation into a question answering pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ragqa/internal/domain"
	"ragqa/internal/index"
	"ragqa/internal/logger"
	"ragqa/internal/prompt"
	"ragqa/internal/retriever"
	"ragqa/internal/summarizer"
)

// ErrEmptyQuestion is returned by Answer for a blank question.
var ErrEmptyQuestion = errors.New("question is empty")

// Deps are the collaborators of a Pipeline. Summarizer may be nil.
type Deps struct {
	Loader     domain.Loader
	Builder    *index.Builder
	Assembler  *prompt.Assembler
	Generator  domain.Generator
	Summarizer domain.Summarizer
}

// Options tune a Pipeline.
type Options struct {
	// TopK is the number of documents retrieved per question.
	TopK int
	// RequestTimeout bounds a whole Answer call.
	RequestTimeout time.Duration
	// CallTimeout bounds each embedding and generation call.
	CallTimeout time.Duration
	// LexicalFallback enables word overlap ranking for questions that share
	// no features with the corpus.
	LexicalFallback bool
	// SummarySentences sizes the corpus summary.
	SummarySentences int
}

// Info describes the index a pipeline currently serves.
type Info struct {
	Documents   int
	Dimension   int
	Fingerprint string
	Embedder    string
	Generator   string
	FromCache   bool
}

type state struct {
	index     *index.Index
	retriever *retriever.Retriever
	summary   string

	// mu is read-held by every Answer using the state. close takes it for
	// writing, so the index is released only once those answers are done.
	mu     sync.RWMutex
	closed bool
}

func (s *state) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.index.Close()
}

// acquire returns the served state read-locked, or nil before the first
// build and after Close. A state closed between Load and RLock has already
// been replaced, so the load is retried.
func (p *Pipeline) acquire() *state {
	for {
		st := p.current.Load()
		if st == nil {
			return nil
		}
		st.mu.RLock()
		if !st.closed {
			return st
		}
		st.mu.RUnlock()
	}
}

// Pipeline answers questions over an index it builds from a corpus. Answer is
// safe for concurrent use, including while BuildIndex swaps in a new index.
type Pipeline struct {
	deps    Deps
	opts    Options
	buildMu sync.Mutex
	current atomic.Pointer[state]
}

func New(deps Deps, opts Options) (*Pipeline, error) {
	switch {
	case deps.Loader == nil:
		return nil, errors.New("pipeline needs a loader")
	case deps.Builder == nil:
		return nil, errors.New("pipeline needs an index builder")
	case deps.Assembler == nil:
		return nil, errors.New("pipeline needs a prompt assembler")
	case deps.Generator == nil:
		return nil, errors.New("pipeline needs a generator")
	}
	if opts.TopK <= 0 {
		return nil, fmt.Errorf("top k must be positive, got %d", opts.TopK)
	}
	return &Pipeline{deps: deps, opts: opts}, nil
}

// BuildIndex loads the corpus at path and replaces the served index. On
// failure the previous index, if any, keeps serving. A replaced index is
// closed once the answers already using it complete.
func (p *Pipeline) BuildIndex(ctx context.Context, path string) error {
	p.buildMu.Lock()
	defer p.buildMu.Unlock()

	start := time.Now()
	docs, err := p.deps.Loader.Load(ctx, path)
	if err != nil {
		return err
	}
	ix, err := p.deps.Builder.Build(ctx, docs)
	if err != nil {
		return err
	}

	var summary string
	if p.deps.Summarizer != nil {
		summary, err = summarizer.Corpus(p.deps.Summarizer, docs, p.opts.SummarySentences)
		if err != nil {
			logger.Warn("corpus summary failed", "error", err)
		}
	}

	next := &state{
		index: ix,
		retriever: retriever.New(ix.Embedder(), ix, retriever.Options{
			CallTimeout:     p.opts.CallTimeout,
			LexicalFallback: p.opts.LexicalFallback,
		}),
		summary: summary,
	}
	if prev := p.current.Swap(next); prev != nil {
		if err := prev.close(); err != nil {
			logger.Warn("closing previous index", "error", err)
		}
	}
	logger.Info("corpus ready", "path", path, "documents", ix.Size(), "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// Answer retrieves context for question once and generates an answer from it.
// The same retrieval is reported in the returned Answer.
func (p *Pipeline) Answer(ctx context.Context, question string) (*domain.Answer, error) {
	const op = "answer"
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	st := p.acquire()
	if st == nil {
		return nil, domain.NewError(domain.ErrNotInitialized, op, nil)
	}
	defer st.mu.RUnlock()
	if p.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.RequestTimeout)
		defer cancel()
	}

	results, err := st.retriever.Search(ctx, question, p.opts.TopK)
	if err != nil {
		return nil, err
	}
	docs := make([]domain.Document, len(results))
	for i, r := range results {
		docs[i] = r.Document
	}

	pr, err := p.deps.Assembler.Assemble(docs, question)
	if err != nil {
		return nil, domain.NewError(domain.ErrGenerationFailure, op, err)
	}
	if len(pr.Used) < len(docs) {
		logger.Debug("prompt budget dropped documents", "retrieved", len(docs), "used", len(pr.Used))
	}

	text, err := domain.CallService(ctx, "generate", p.opts.CallTimeout, func(ctx context.Context) (string, error) {
		return p.deps.Generator.Generate(ctx, pr.Text)
	})
	if err != nil {
		return nil, domain.NewError(domain.ErrGenerationFailure, op, err)
	}

	return &domain.Answer{
		Question:  question,
		Text:      text,
		Retrieved: results,
		Used:      pr.Used,
		Prompt:    pr.Text,
	}, nil
}

// Ready reports whether an index is being served.
func (p *Pipeline) Ready() bool { return p.current.Load() != nil }

// Summary returns the corpus summary of the served index.
func (p *Pipeline) Summary() string {
	if st := p.current.Load(); st != nil {
		return st.summary
	}
	return ""
}

// Info describes the served index. Before a build only Generator is set.
func (p *Pipeline) Info() Info {
	st := p.current.Load()
	if st == nil {
		return Info{Generator: p.deps.Generator.Name()}
	}
	return Info{
		Documents:   st.index.Size(),
		Dimension:   st.index.Dimension(),
		Fingerprint: st.index.Fingerprint(),
		Embedder:    st.index.Embedder().Name(),
		Generator:   p.deps.Generator.Name(),
		FromCache:   st.index.FromCache(),
	}
}

// Close stops serving and releases the index and generator. Answer fails with
// domain.ErrNotInitialized afterwards.
func (p *Pipeline) Close() error {
	p.buildMu.Lock()
	defer p.buildMu.Unlock()
	var errs []error
	if st := p.current.Swap(nil); st != nil {
		errs = append(errs, st.close())
	}
	if c, ok := p.deps.Generator.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
