// Package prompt renders retrieved documents and a question into a bounded
// generation prompt.
package prompt

import (
	"errors"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"ragqa/internal/domain"
)

// DefaultTemplate is the instruction used when none is configured.
const DefaultTemplate = "You are a helpful AI assistant and your goal is to answer questions as accurately as possible based on the context provided. Be concise and just include the response:\n\ncontext: {{.Context}}\n\nQuestion: {{.Question}}\n"

// DefaultSeparator joins document texts in the context block.
const DefaultSeparator = "\n\n"

// Config controls rendering. Zero budgets are unlimited.
type Config struct {
	Template  string
	Separator string
	// MaxChars bounds the rendered prompt in runes.
	MaxChars int
	// MaxTokens bounds the rendered prompt in whitespace-separated words.
	MaxTokens int
}

// Prompt is a rendered prompt and the documents that made it in.
type Prompt struct {
	Text string
	Used []domain.Document
}

type Assembler struct {
	tmpl      *template.Template
	separator string
	maxChars  int
	maxTokens int
}

func NewAssembler(cfg Config) (*Assembler, error) {
	text := cfg.Template
	if text == "" {
		text = DefaultTemplate
	}
	if !strings.Contains(text, ".Context") || !strings.Contains(text, ".Question") {
		return nil, errors.New("prompt template must reference .Context and .Question")
	}
	if cfg.MaxChars < 0 || cfg.MaxTokens < 0 {
		return nil, errors.New("prompt budget must not be negative")
	}
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	sep := cfg.Separator
	if sep == "" {
		sep = DefaultSeparator
	}
	return &Assembler{tmpl: tmpl, separator: sep, maxChars: cfg.MaxChars, maxTokens: cfg.MaxTokens}, nil
}

// Assemble renders docs (in rank order) and question. When the budget is
// exceeded the lowest-ranked documents are dropped whole. If even the prompt
// without context is over budget it is returned as is.
func (a *Assembler) Assemble(docs []domain.Document, question string) (Prompt, error) {
	// Longest prefix of docs that fits. Rendering is monotone in n, so a
	// binary search finds it.
	lo, hi := 0, len(docs)
	best, err := a.render(docs[:hi], question)
	if err != nil {
		return Prompt{}, err
	}
	if a.fits(best) {
		return Prompt{Text: best, Used: docs}, nil
	}
	for lo < hi-1 {
		mid := (lo + hi) / 2
		text, err := a.render(docs[:mid], question)
		if err != nil {
			return Prompt{}, err
		}
		if a.fits(text) {
			lo = mid
		} else {
			hi = mid
		}
	}
	text, err := a.render(docs[:lo], question)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{Text: text, Used: docs[:lo:lo]}, nil
}

func (a *Assembler) render(docs []domain.Document, question string) (string, error) {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	var b strings.Builder
	err := a.tmpl.Execute(&b, struct {
		Context  string
		Question string
	}{
		Context:  strings.Join(texts, a.separator),
		Question: question,
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return b.String(), nil
}

func (a *Assembler) fits(text string) bool {
	if a.maxChars > 0 && utf8.RuneCountInString(text) > a.maxChars {
		return false
	}
	if a.maxTokens > 0 && len(strings.Fields(text)) > a.maxTokens {
		return false
	}
	return true
}
