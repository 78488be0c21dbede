package index

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"hash"

	"ragqa/internal/domain"
)

// Fingerprint digests document ids, texts and metadata in order. Two corpora
// with the same fingerprint produce the same index for a given embedder.
func Fingerprint(docs []domain.Document) string {
	h := sha256.New()
	for _, d := range docs {
		writeField(h, []byte(d.ID))
		writeField(h, []byte(d.Text))
		// json.Marshal sorts map keys, so the encoding is deterministic.
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			meta = nil
		}
		writeField(h, meta)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, b []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	h.Write(n[:])
	h.Write(b)
}
