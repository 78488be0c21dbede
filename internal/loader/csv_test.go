package loader

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragqa/internal/chunker"
	"ragqa/internal/domain"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_OneDocumentPerRow(t *testing.T) {
	path := writeCSV(t, "text\nParis is the capital of France.\nTokyo is the capital of Japan.\nCats are mammals.\n")

	docs, err := NewCSVLoader(Config{}, nil).Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Equal(t, "row-0", docs[0].ID)
	assert.Equal(t, "text: Paris is the capital of France.", docs[0].Text)
	assert.Equal(t, path, docs[0].Metadata["source"])
	assert.Equal(t, 0, docs[0].Metadata["row"])
	assert.Equal(t, "row-2", docs[2].ID)
	assert.Equal(t, 2, docs[2].Metadata["row"])
}

func TestLoad_IDAndTextColumns(t *testing.T) {
	path := writeCSV(t, "\ufeffkey,year,film,notes\nk1,1998,Titanic,Best Picture\nk2,2020,Parasite,\n")

	docs, err := NewCSVLoader(Config{IDColumn: "key", TextColumns: []string{"film", "year"}}, nil).
		Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "k1", docs[0].ID)
	assert.Equal(t, "film: Titanic\nyear: 1998", docs[0].Text)
	assert.Equal(t, "k2", docs[1].ID)
}

func TestLoad_AggregatesMalformedRows(t *testing.T) {
	path := writeCSV(t, "a,b\nx,y\n,\nonly-one\nz,w\n")

	docs, err := NewCSVLoader(Config{}, nil).Load(context.Background(), path)
	require.Error(t, err)
	assert.Nil(t, docs)
	assert.ErrorIs(t, err, domain.ErrLoader)
	assert.ErrorIs(t, err, errEmptyText)

	msg := err.Error()
	assert.Contains(t, msg, "row 1")
	assert.Contains(t, msg, "row 2")
	assert.NotContains(t, msg, "row 3")
}

func TestLoad_SkipMalformed(t *testing.T) {
	path := writeCSV(t, "a,b\nx,y\n,\nonly-one\nz,w\n")

	docs, err := NewCSVLoader(Config{SkipMalformed: true}, nil).Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "row-0", docs[0].ID)
	// ids stay tied to the source row, not the output position
	assert.Equal(t, "row-3", docs[1].ID)
}

func TestLoad_DuplicateIDs(t *testing.T) {
	path := writeCSV(t, "id,text\na,first\na,second\n")

	_, err := NewCSVLoader(Config{IDColumn: "id"}, nil).Load(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, errDuplicateID)
}

func TestLoad_UnknownColumn(t *testing.T) {
	path := writeCSV(t, "text\nhello\n")

	_, err := NewCSVLoader(Config{TextColumns: []string{"body"}}, nil).Load(context.Background(), path)
	assert.ErrorIs(t, err, errUnknownField)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := NewCSVLoader(Config{}, nil).Load(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	assert.ErrorIs(t, err, domain.ErrLoader)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRead_EmptyInput(t *testing.T) {
	_, err := NewCSVLoader(Config{}, nil).Read(context.Background(), strings.NewReader(""), "mem")
	assert.ErrorIs(t, err, errNoHeader)
}

func TestRead_TabDelimited(t *testing.T) {
	docs, err := NewCSVLoader(Config{Delimiter: '\t'}, nil).
		Read(context.Background(), strings.NewReader("q\ta\nwho\tme\n"), "mem.tsv")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "q: who\na: me", docs[0].Text)
}

func TestRead_WithChunker(t *testing.T) {
	csv := "text\n\"One. Two. Three. Four.\"\n"
	docs, err := NewCSVLoader(Config{}, chunker.NewSentenceChunker(2, 0)).
		Read(context.Background(), strings.NewReader(csv), "mem")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "row-0#0", docs[0].ID)
	assert.Equal(t, "row-0#1", docs[1].ID)
}

func TestRead_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCSVLoader(Config{}, nil).Read(ctx, strings.NewReader("text\nhello\n"), "mem")
	assert.ErrorIs(t, err, context.Canceled)
}
