package vecmath

import (
	"math"
	"sort"
)

// Cosine returns the cosine similarity of a and b, or 0 when the vectors
// differ in length or either has zero magnitude.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

type Scored[T any] struct {
	Item  T
	Score float64
}

// TopK sorts by descending score and keeps the first k. Ties keep input order.
func TopK[T any](items []Scored[T], k int) []Scored[T] {
	if k <= 0 || len(items) == 0 {
		return nil
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	if k > len(items) {
		k = len(items)
	}
	return items[:k]
}
