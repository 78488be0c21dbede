// Package sqlite persists built indexes as one SQLite file per corpus
// fingerprint and embedder pair.
package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver

	"ragqa/internal/domain"
	"ragqa/internal/logger"
)

var _ domain.SnapshotCache = (*Cache)(nil)

const schema = `
CREATE TABLE meta (
	fingerprint TEXT NOT NULL,
	embedder    TEXT NOT NULL,
	dimension   INTEGER NOT NULL
);
CREATE TABLE entries (
	position  INTEGER PRIMARY KEY,
	id        TEXT NOT NULL UNIQUE,
	text      TEXT NOT NULL,
	metadata  TEXT NOT NULL,
	embedding BLOB NOT NULL
);`

// Cache stores snapshots under dir.
type Cache struct {
	dir string
}

// NewCache creates the cache directory if needed.
func NewCache(dir string) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Key identifies the file holding the snapshot for fingerprint and embedder.
func Key(fingerprint, embedder string) string {
	h := sha256.New()
	h.Write([]byte(fingerprint))
	h.Write([]byte{0})
	h.Write([]byte(embedder))
	return hex.EncodeToString(h.Sum(nil))
}

// Path returns the database file for fingerprint and embedder.
func (c *Cache) Path(fingerprint, embedder string) string {
	return filepath.Join(c.dir, Key(fingerprint, embedder)+".db")
}

// Load returns domain.ErrCacheMiss when no snapshot matches.
func (c *Cache) Load(ctx context.Context, fingerprint, embedder string) (*domain.Snapshot, error) {
	path := c.Path(fingerprint, embedder)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrCacheMiss
		}
		return nil, fmt.Errorf("stat snapshot: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	defer db.Close()

	snap := &domain.Snapshot{}
	row := db.QueryRowContext(ctx, "SELECT fingerprint, embedder, dimension FROM meta LIMIT 1")
	if err := row.Scan(&snap.Fingerprint, &snap.Embedder, &snap.Dimension); err != nil {
		return nil, fmt.Errorf("reading snapshot meta: %w", err)
	}
	if snap.Fingerprint != fingerprint || snap.Embedder != embedder {
		logger.Warn("snapshot key collision", "path", path)
		return nil, domain.ErrCacheMiss
	}

	rows, err := db.QueryContext(ctx, "SELECT position, id, text, metadata, embedding FROM entries ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("reading snapshot entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e        domain.Entry
			metadata string
			blob     []byte
		)
		if err := rows.Scan(&e.Position, &e.Document.ID, &e.Document.Text, &metadata, &blob); err != nil {
			return nil, fmt.Errorf("scanning snapshot entry: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &e.Document.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata of %s: %w", e.Document.ID, err)
		}
		e.Embedding, err = decodeEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding of %s: %w", e.Document.ID, err)
		}
		if len(e.Embedding) != snap.Dimension {
			return nil, &domain.DimensionError{Want: snap.Dimension, Got: len(e.Embedding)}
		}
		snap.Entries = append(snap.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshot entries: %w", err)
	}
	return snap, nil
}

// Save writes the snapshot to a temporary file and renames it into place, so
// readers never observe a half-written snapshot.
func (c *Cache) Save(ctx context.Context, snap *domain.Snapshot) error {
	final := c.Path(snap.Fingerprint, snap.Embedder)
	tmp, err := os.CreateTemp(c.dir, ".snapshot-*.db")
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := write(ctx, tmpPath, snap); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, final); err != nil {
		return fmt.Errorf("renaming snapshot: %w", err)
	}
	logger.Debug("snapshot saved", "path", final, "entries", len(snap.Entries))
	return nil
}

func write(ctx context.Context, path string, snap *domain.Snapshot) (err error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("opening temp snapshot: %w", err)
	}
	defer func() {
		if cerr := db.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("closing temp snapshot: %w", cerr)
		}
	}()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating snapshot schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "INSERT INTO meta (fingerprint, embedder, dimension) VALUES (?, ?, ?)",
		snap.Fingerprint, snap.Embedder, snap.Dimension); err != nil {
		return fmt.Errorf("writing snapshot meta: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO entries (position, id, text, metadata, embedding) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing entry insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range snap.Entries {
		metadata, err := json.Marshal(e.Document.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata of %s: %w", e.Document.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, e.Position, e.Document.ID, e.Document.Text, string(metadata), encodeEmbedding(e.Embedding)); err != nil {
			return fmt.Errorf("writing entry %s: %w", e.Document.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	return nil
}

func encodeEmbedding(v []float64) []byte {
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeEmbedding(data []byte) ([]float64, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 8", len(data))
	}
	v := make([]float64, len(data)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return v, nil
}
