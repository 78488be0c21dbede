package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// CorpusConfig describes the tabular corpus.
type CorpusConfig struct {
	Path          string   `yaml:"path"`
	Delimiter     string   `yaml:"delimiter"`
	IDColumn      string   `yaml:"id_column"`
	TextColumns   []string `yaml:"text_columns"`
	SkipMalformed bool     `yaml:"skip_malformed"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Type              string `yaml:"type"`
	SentencesPerChunk int    `yaml:"sentences_per_chunk"`
	OverlapSentences  int    `yaml:"overlap_sentences"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type   string                `yaml:"type"`
	OpenAI *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// GeneratorConfig selects the answer generator.
type GeneratorConfig struct {
	Type        string  `yaml:"type"`
	Model       string  `yaml:"model"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	// Resilience settings wrap any generator.
	MaxRetries        int `yaml:"max_retries"`
	BackoffMillis     int `yaml:"backoff_ms"`
	RequestsPerMinute int `yaml:"requests_per_minute"`
	BreakerFailures   int `yaml:"breaker_failures"`
	BreakerOpenSecs   int `yaml:"breaker_open_secs"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type   string        `yaml:"type"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// IndexConfig controls index builds.
type IndexConfig struct {
	Concurrency int `yaml:"concurrency"`
	// CacheDir enables the persisted snapshot cache when set.
	CacheDir string `yaml:"cache_dir"`
}

// RetrievalConfig controls query time behaviour.
type RetrievalConfig struct {
	TopK            int  `yaml:"top_k"`
	CallTimeoutSecs int  `yaml:"call_timeout_secs"`
	RequestTimeout  int  `yaml:"request_timeout_secs"`
	LexicalFallback bool `yaml:"lexical_fallback"`
}

// PromptConfig controls prompt rendering.
type PromptConfig struct {
	Template  string `yaml:"template"`
	Separator string `yaml:"separator"`
	MaxChars  int    `yaml:"max_chars"`
	MaxTokens int    `yaml:"max_tokens"`
}

// ServerConfig configures the web front end.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	Mode string `yaml:"mode"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SummarizerConfig selects and configures the summarizer.
type SummarizerConfig struct {
	Type         string `yaml:"type"`
	MaxSentences int    `yaml:"max_sentences"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Corpus      CorpusConfig      `yaml:"corpus"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Generator   GeneratorConfig   `yaml:"generator"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Index       IndexConfig       `yaml:"index"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Prompt      PromptConfig      `yaml:"prompt"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Environment overrides are applied in both cases.
func Load(path string) (*AppConfig, error) {
	_ = godotenv.Load()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			if err := applyEnvOverrides(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(cfg)
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/ragqa/config.yaml.
// If neither exists, it writes defaults to ~/.config/ragqa/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	if err := Save(userPath, defaultConfig()); err != nil {
		return nil, "", err
	}
	cfg, err := Load(userPath)
	return cfg, userPath, err
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports settings no component can work with.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Corpus.Path == "" {
		errs = append(errs, errors.New("corpus.path is required"))
	}
	if len([]rune(c.Corpus.Delimiter)) != 1 {
		errs = append(errs, fmt.Errorf("corpus.delimiter must be a single character, got %q", c.Corpus.Delimiter))
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK))
	}
	if c.Prompt.MaxChars < 0 || c.Prompt.MaxTokens < 0 {
		errs = append(errs, errors.New("prompt budgets must not be negative"))
	}
	switch c.Embedder.Type {
	case "tfidf":
	case "openai":
		if c.Embedder.OpenAI == nil {
			errs = append(errs, errors.New("embedder.openai section is required for the openai embedder"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown embedder: %s", c.Embedder.Type))
	}
	switch c.Generator.Type {
	case "extractive", "openai", "gemini":
	default:
		errs = append(errs, fmt.Errorf("unknown generator: %s", c.Generator.Type))
	}
	switch c.VectorStore.Type {
	case "memory":
	case "qdrant":
		if c.VectorStore.Qdrant == nil || c.VectorStore.Qdrant.URL == "" {
			errs = append(errs, errors.New("vector_store.qdrant.url is required for the qdrant store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown vector store: %s", c.VectorStore.Type))
	}
	switch c.Chunker.Type {
	case "none", "sentence":
	default:
		errs = append(errs, fmt.Errorf("unknown chunker: %s", c.Chunker.Type))
	}
	switch c.Summarizer.Type {
	case "none", "frequency":
	default:
		errs = append(errs, fmt.Errorf("unknown summarizer: %s", c.Summarizer.Type))
	}
	return errors.Join(errs...)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ragqa", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Corpus:      CorpusConfig{Path: "oscar_text.csv", Delimiter: ","},
		Chunker:     ChunkerConfig{Type: "none", SentencesPerChunk: 5, OverlapSentences: 1},
		Embedder:    EmbedderConfig{Type: "tfidf"},
		Generator:   GeneratorConfig{Type: "extractive"},
		VectorStore: VectorStoreConfig{Type: "memory"},
		Index:       IndexConfig{Concurrency: 4},
		Retrieval:   RetrievalConfig{TopK: 3, CallTimeoutSecs: 30, RequestTimeout: 60},
		Server:      ServerConfig{Addr: "0.0.0.0:5000", Mode: "release"},
		Log:         LogConfig{Level: "info", Format: "text"},
		Summarizer:  SummarizerConfig{Type: "frequency", MaxSentences: 3},
	}
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Corpus.Delimiter == "" {
		cfg.Corpus.Delimiter = ","
	}
	if cfg.Chunker.SentencesPerChunk == 0 {
		cfg.Chunker.SentencesPerChunk = 5
	}
	if cfg.Index.Concurrency == 0 {
		cfg.Index.Concurrency = 4
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 3
	}
	if cfg.Embedder.Type == "openai" && cfg.Embedder.OpenAI != nil {
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
	}
	switch cfg.Generator.Type {
	case "openai":
		if cfg.Generator.Model == "" {
			cfg.Generator.Model = "gpt-3.5-turbo"
		}
		if cfg.Generator.APIKeyEnv == "" {
			cfg.Generator.APIKeyEnv = "OPENAI_API_KEY"
		}
	case "gemini":
		if cfg.Generator.Model == "" {
			cfg.Generator.Model = "gemini-2.0-flash"
		}
		if cfg.Generator.APIKeyEnv == "" {
			cfg.Generator.APIKeyEnv = "GEMINI_API_KEY"
		}
	}
	if cfg.VectorStore.Type == "qdrant" && cfg.VectorStore.Qdrant != nil {
		if cfg.VectorStore.Qdrant.Collection == "" {
			cfg.VectorStore.Qdrant.Collection = "ragqa"
		}
		if cfg.VectorStore.Qdrant.TimeoutSecs == 0 {
			cfg.VectorStore.Qdrant.TimeoutSecs = 15
		}
	}
}

// applyEnvOverrides lets RAGQA_* variables override file settings.
func applyEnvOverrides(cfg *AppConfig) error {
	if v := os.Getenv("RAGQA_CORPUS"); v != "" {
		cfg.Corpus.Path = v
	}
	if v := os.Getenv("RAGQA_TOP_K"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RAGQA_TOP_K: %w", err)
		}
		cfg.Retrieval.TopK = k
	}
	if v := os.Getenv("RAGQA_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("RAGQA_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("RAGQA_GENERATOR"); v != "" {
		cfg.Generator.Type = v
		applyConfigDefaults(cfg)
	}
	return nil
}
