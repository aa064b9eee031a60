package embeddings

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is an invariant violation: two vectors of different
// length were compared. It indicates mixed providers or a corrupted index.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// CosineSimilarity returns dot(a,b) / (|a|*|b|), clamped to [-1, 1].
// It is 0 when either vector has zero magnitude.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Max(-1, math.Min(1, sim)), nil
}

// Magnitude returns the L2 norm of v.
func Magnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
