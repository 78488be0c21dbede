// Package vectorstore holds the similarity math shared by the store backends.
package vectorstore

import (
	"errors"
	"math"
)

// ErrInvalidTopK is returned when a search asks for fewer than one result.
var ErrInvalidTopK = errors.New("topK must be a positive integer")

// Norm returns the Euclidean length of v.
func Norm(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Cosine returns the cosine similarity of a and b given their norms.
// A zero vector has similarity 0 with everything.
func Cosine(a, b []float64, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	dot := 0.0
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot / (normA * normB)
}
