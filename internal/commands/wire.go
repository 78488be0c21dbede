package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"ragqa/internal/chunker"
	"ragqa/internal/config"
	"ragqa/internal/domain"
	embedopenai "ragqa/internal/embedding/openai"
	"ragqa/internal/embedding/tfidf"
	"ragqa/internal/generation/extractive"
	"ragqa/internal/generation/gemini"
	genopenai "ragqa/internal/generation/openai"
	"ragqa/internal/generation/resilient"
	"ragqa/internal/index"
	"ragqa/internal/loader"
	"ragqa/internal/prompt"
	"ragqa/internal/service"
	"ragqa/internal/summarizer"
	"ragqa/internal/vectorstore/memory"
	"ragqa/internal/vectorstore/qdrant"
	"ragqa/internal/vectorstore/sqlite"
)

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// newPipeline assembles a pipeline from configuration. It does not build the index.
func newPipeline(ctx context.Context, cfg *config.AppConfig) (*service.Pipeline, error) {
	emb, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	gen, err := newGenerator(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var cache domain.SnapshotCache
	if cfg.Index.CacheDir != "" {
		c, err := sqlite.NewCache(cfg.Index.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("index cache: %w", err)
		}
		cache = c
	}

	asm, err := prompt.NewAssembler(prompt.Config{
		Template:  cfg.Prompt.Template,
		Separator: cfg.Prompt.Separator,
		MaxChars:  cfg.Prompt.MaxChars,
		MaxTokens: cfg.Prompt.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	var sum domain.Summarizer
	if cfg.Summarizer.Type == "frequency" {
		sum = summarizer.NewFrequencySummarizer()
	}

	callTimeout := seconds(cfg.Retrieval.CallTimeoutSecs)
	return service.New(service.Deps{
		Loader: newLoader(cfg),
		Builder: index.NewBuilder(emb, newStoreFactory(cfg), index.Options{
			Concurrency: cfg.Index.Concurrency,
			CallTimeout: callTimeout,
			Cache:       cache,
		}),
		Assembler:  asm,
		Generator:  gen,
		Summarizer: sum,
	}, service.Options{
		TopK:             cfg.Retrieval.TopK,
		RequestTimeout:   seconds(cfg.Retrieval.RequestTimeout),
		CallTimeout:      callTimeout,
		LexicalFallback:  cfg.Retrieval.LexicalFallback,
		SummarySentences: cfg.Summarizer.MaxSentences,
	})
}

func newLoader(cfg *config.AppConfig) *loader.CSVLoader {
	var ch domain.Chunker
	if cfg.Chunker.Type == "sentence" {
		ch = chunker.NewSentenceChunker(cfg.Chunker.SentencesPerChunk, cfg.Chunker.OverlapSentences)
	}
	delim := ','
	if r := []rune(cfg.Corpus.Delimiter); len(r) == 1 {
		delim = r[0]
	}
	return loader.NewCSVLoader(loader.Config{
		Delimiter:     delim,
		IDColumn:      cfg.Corpus.IDColumn,
		TextColumns:   cfg.Corpus.TextColumns,
		SkipMalformed: cfg.Corpus.SkipMalformed,
	}, ch)
}

func newEmbedder(cfg *config.AppConfig) (domain.Embedder, error) {
	switch cfg.Embedder.Type {
	case "tfidf":
		return tfidf.NewEmbedder(), nil
	case "openai":
		oc := cfg.Embedder.OpenAI
		if oc == nil {
			return nil, fmt.Errorf("openai embedder config missing")
		}
		client, err := embedopenai.NewClient(embedopenai.Config{
			BaseURL:    oc.BaseURL,
			APIKeyEnv:  oc.APIKeyEnv,
			Model:      oc.Model,
			MaxRetries: oc.MaxRetries,
			HTTPClient: &http.Client{Timeout: seconds(oc.TimeoutSecs)},
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Embedder.Type)
	}
}

func newGenerator(ctx context.Context, cfg *config.AppConfig) (domain.Generator, error) {
	gc := cfg.Generator
	var gen domain.Generator
	switch gc.Type {
	case "extractive":
		return extractive.New(extractive.Config{}), nil
	case "openai":
		g, err := genopenai.New(genopenai.Config{
			BaseURL:     gc.BaseURL,
			APIKeyEnv:   gc.APIKeyEnv,
			Model:       gc.Model,
			Temperature: gc.Temperature,
			MaxTokens:   gc.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("openai generator init failed: %w", err)
		}
		gen = g
	case "gemini":
		g, err := gemini.New(ctx, gemini.Config{
			APIKeyEnv:   gc.APIKeyEnv,
			Model:       gc.Model,
			Temperature: gc.Temperature,
			MaxTokens:   gc.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini generator init failed: %w", err)
		}
		gen = g
	default:
		return nil, fmt.Errorf("unknown generator: %s", gc.Type)
	}
	return resilient.Wrap(gen, resilient.Config{
		RequestsPerMinute: gc.RequestsPerMinute,
		MaxRetries:        gc.MaxRetries,
		Backoff:           time.Duration(gc.BackoffMillis) * time.Millisecond,
		FailureThreshold:  gc.BreakerFailures,
		OpenTimeout:       seconds(gc.BreakerOpenSecs),
	}), nil
}

// newStoreFactory returns a factory giving each build its own store. Every
// Qdrant build writes to a fresh staging collection, so a rebuild, failed or
// not, in this process or another, never touches a collection being served.
// The collection is dropped when its index is closed.
func newStoreFactory(cfg *config.AppConfig) index.StoreFactory {
	if cfg.VectorStore.Type != "qdrant" || cfg.VectorStore.Qdrant == nil {
		return func(string) (domain.VectorStore, error) { return memory.NewStorage(), nil }
	}
	qc := *cfg.VectorStore.Qdrant
	return func(fingerprint string) (domain.VectorStore, error) {
		return qdrant.NewStorage(qdrant.Config{
			URL:        qc.URL,
			APIKey:     os.Getenv(qc.APIKeyEnv),
			Collection: qdrant.StagingName(qc.Collection, fingerprint),
			Timeout:    seconds(qc.TimeoutSecs),
		}), nil
	}
}
