// Package similarity provides the vector math primitives used by the
// vector store and the search service. All operations are pure and
// deterministic; inputs are never mutated except by Normalize.
package similarity

import (
	"math"
	"sort"

	"github.com/pagesage/pagesage/internal/apperrors"
)

// Match pairs a candidate index with its similarity score.
type Match struct {
	Index int
	Score float64
}

func checkPair(a, b []float32) error {
	if len(a) == 0 || len(b) == 0 {
		return apperrors.New(apperrors.CodeShape, "empty vector")
	}
	if len(a) != len(b) {
		return apperrors.Newf(apperrors.CodeShape, "vector length mismatch: %d vs %d", len(a), len(b))
	}
	return nil
}

// Dot returns the dot product of a and b.
func Dot(a, b []float32) (float64, error) {
	if err := checkPair(a, b); err != nil {
		return 0, err
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum, nil
}

// L2 returns the Euclidean distance between a and b.
func L2(a, b []float32) (float64, error) {
	if err := checkPair(a, b); err != nil {
		return 0, err
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Cosine returns the cosine similarity of a and b in [-1, 1].
// A zero vector on either side yields 0, never NaN.
func Cosine(a, b []float32) (float64, error) {
	if err := checkPair(a, b); err != nil {
		return 0, err
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// CosineBatch computes the cosine similarity of q against every row of m.
func CosineBatch(q []float32, m [][]float32) ([]float64, error) {
	if len(q) == 0 {
		return nil, apperrors.New(apperrors.CodeShape, "empty query vector")
	}
	scores := make([]float64, len(m))
	for i, row := range m {
		s, err := Cosine(q, row)
		if err != nil {
			return nil, err
		}
		scores[i] = s
	}
	return scores, nil
}

// TopK returns up to k matches of q against the rows of m with score >=
// threshold, sorted by score descending. Ties break toward the smaller
// row index so results are stable across runs.
func TopK(q []float32, m [][]float32, k int, threshold float64) ([]Match, error) {
	if k <= 0 {
		return nil, apperrors.New(apperrors.CodeShape, "k must be positive")
	}
	scores, err := CosineBatch(q, m)
	if err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(scores))
	for i, s := range scores {
		if s >= threshold {
			matches = append(matches, Match{Index: i, Score: s})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Index < matches[j].Index
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Diversity returns the mean pairwise cosine distance (1 - similarity)
// across the rows of m. A single row has diversity 0.
func Diversity(m [][]float32) (float64, error) {
	if len(m) < 2 {
		return 0, nil
	}
	var total float64
	var pairs int
	for i := 0; i < len(m); i++ {
		for j := i + 1; j < len(m); j++ {
			s, err := Cosine(m[i], m[j])
			if err != nil {
				return 0, err
			}
			total += 1 - s
			pairs++
		}
	}
	return total / float64(pairs), nil
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize scales v in place to unit L2 length and returns it.
// Zero vectors are returned unchanged.
func Normalize(v []float32) []float32 {
	n := Norm(v)
	if n == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / n)
	}
	return v
}

// MeanPool averages the rows of m into a single vector. Used by the
// provider orchestrator to combine chunk embeddings.
func MeanPool(m [][]float32) ([]float32, error) {
	if len(m) == 0 {
		return nil, apperrors.New(apperrors.CodeShape, "no vectors to pool")
	}
	dim := len(m[0])
	out := make([]float64, dim)
	for _, row := range m {
		if len(row) != dim {
			return nil, apperrors.Newf(apperrors.CodeShape, "vector length mismatch: %d vs %d", len(row), dim)
		}
		for i, x := range row {
			out[i] += float64(x)
		}
	}
	pooled := make([]float32, dim)
	for i, x := range out {
		pooled[i] = float32(x / float64(len(m)))
	}
	return pooled, nil
}
