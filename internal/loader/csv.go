// Package loader reads a tabular corpus into documents.
package loader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"ragqa/internal/domain"
	"ragqa/internal/logger"
)

var (
	errEmptyText    = errors.New("record has no text")
	errInvalidUTF8  = errors.New("record is not valid UTF-8")
	errMissingID    = errors.New("id column is empty")
	errDuplicateID  = errors.New("duplicate document id")
	errNoHeader     = errors.New("corpus has no header row")
	errUnknownField = errors.New("unknown column")
)

// Config configures the CSV loader.
type Config struct {
	// Delimiter separates fields; defaults to ','.
	Delimiter rune
	// IDColumn names the column holding a stable document id. When empty the
	// id is "row-<n>" with n the zero-based data row.
	IDColumn string
	// TextColumns selects the columns rendered into the document text.
	// All columns are used when empty.
	TextColumns []string
	// SkipMalformed logs and drops malformed records instead of failing.
	SkipMalformed bool
}

// CSVLoader maps each CSV record to one document, in source order.
type CSVLoader struct {
	cfg     Config
	chunker domain.Chunker
}

// NewCSVLoader creates a loader. chunker may be nil.
func NewCSVLoader(cfg Config, chunker domain.Chunker) *CSVLoader {
	if cfg.Delimiter == 0 {
		cfg.Delimiter = ','
	}
	return &CSVLoader{cfg: cfg, chunker: chunker}
}

// Load reads the file at path. Malformed records are reported together in a
// single error unless the loader is configured to skip them.
func (l *CSVLoader) Load(ctx context.Context, path string) ([]domain.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.NewError(domain.ErrLoader, "load", err)
	}
	defer f.Close()
	return l.Read(ctx, f, path)
}

// Read parses a CSV stream. source is recorded in each document's metadata.
func (l *CSVLoader) Read(ctx context.Context, r io.Reader, source string) ([]domain.Document, error) {
	reader := csv.NewReader(r)
	reader.Comma = l.cfg.Delimiter
	reader.FieldsPerRecord = 0
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = errNoHeader
		}
		return nil, domain.NewError(domain.ErrLoader, "load", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	textIdx, idIdx, err := l.columns(header)
	if err != nil {
		return nil, domain.NewError(domain.ErrLoader, "load", err)
	}

	var (
		docs    []domain.Document
		rowErrs []error
		seen    = make(map[string]int)
	)
	reject := func(row int, err error) {
		if l.cfg.SkipMalformed {
			logger.Warn("skipping malformed record", "source", source, "row", row, "error", err)
			return
		}
		rowErrs = append(rowErrs, &domain.RowError{Row: row, Err: err})
	}

	for row := 0; ; row++ {
		if err := ctx.Err(); err != nil {
			return nil, domain.NewError(domain.ErrLoader, "load", err)
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return nil, domain.NewError(domain.ErrLoader, "load", err)
			}
			reject(row, err)
			continue
		}

		doc, err := l.toDocument(record, header, textIdx, idIdx, row, source)
		if err != nil {
			reject(row, err)
			continue
		}
		if prev, dup := seen[doc.ID]; dup {
			reject(row, fmt.Errorf("%w %q (first seen at row %d)", errDuplicateID, doc.ID, prev))
			continue
		}
		seen[doc.ID] = row

		if l.chunker == nil {
			docs = append(docs, doc)
			continue
		}
		chunks, err := l.chunker.Chunk(doc)
		if err != nil {
			reject(row, err)
			continue
		}
		docs = append(docs, chunks...)
	}

	if len(rowErrs) > 0 {
		return nil, domain.NewError(domain.ErrLoader, "load", errors.Join(rowErrs...))
	}
	logger.Debug("corpus loaded", "source", source, "documents", len(docs))
	return docs, nil
}

func (l *CSVLoader) columns(header []string) ([]int, int, error) {
	pos := make(map[string]int, len(header))
	for i, name := range header {
		pos[name] = i
	}
	idIdx := -1
	if l.cfg.IDColumn != "" {
		i, ok := pos[l.cfg.IDColumn]
		if !ok {
			return nil, 0, fmt.Errorf("%w %q", errUnknownField, l.cfg.IDColumn)
		}
		idIdx = i
	}
	if len(l.cfg.TextColumns) == 0 {
		idx := make([]int, len(header))
		for i := range header {
			idx[i] = i
		}
		return idx, idIdx, nil
	}
	idx := make([]int, 0, len(l.cfg.TextColumns))
	for _, name := range l.cfg.TextColumns {
		i, ok := pos[name]
		if !ok {
			return nil, 0, fmt.Errorf("%w %q", errUnknownField, name)
		}
		idx = append(idx, i)
	}
	return idx, idIdx, nil
}

func (l *CSVLoader) toDocument(record, header []string, textIdx []int, idIdx, row int, source string) (domain.Document, error) {
	if len(record) != len(header) {
		return domain.Document{}, fmt.Errorf("expected %d fields, got %d", len(header), len(record))
	}
	for _, field := range record {
		if !utf8.ValidString(field) {
			return domain.Document{}, errInvalidUTF8
		}
	}

	lines := make([]string, 0, len(textIdx))
	hasText := false
	for _, i := range textIdx {
		value := strings.TrimSpace(record[i])
		if value != "" {
			hasText = true
		}
		lines = append(lines, header[i]+": "+value)
	}
	if !hasText {
		return domain.Document{}, errEmptyText
	}

	id := "row-" + strconv.Itoa(row)
	if idIdx >= 0 {
		id = strings.TrimSpace(record[idIdx])
		if id == "" {
			return domain.Document{}, errMissingID
		}
	}
	return domain.Document{
		ID:   id,
		Text: strings.Join(lines, "\n"),
		Metadata: map[string]any{
			"source": source,
			"row":    row,
		},
	}, nil
}
