// Package hash provides a deterministic embedding fallback derived from a
// content hash. It exists so the service can run without any real embedding
// provider configured; its vectors must never share an index with real
// provider vectors.
package hash

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/pagesage/pagesage/internal/providers"
	"github.com/pagesage/pagesage/internal/similarity"
)

const (
	providerName     = "hash"
	modelName        = "hash-fallback"
	defaultDimension = 256
)

// Embedder derives a stable pseudo-vector from SHA-256 of the input.
type Embedder struct {
	dimension int
	normalize bool
}

// New creates a hash embedder. dimension <= 0 selects the default.
func New(dimension int, normalize bool) *Embedder {
	if dimension <= 0 {
		dimension = defaultDimension
	}
	return &Embedder{dimension: dimension, normalize: normalize}
}

func (e *Embedder) Name() string   { return providerName }
func (e *Embedder) Model() string  { return modelName }
func (e *Embedder) Dimension() int { return e.dimension }

// Generate returns a deterministic vector for text. Equal inputs always
// produce equal vectors.
func (e *Embedder) Generate(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimension)
	seed := sha256.Sum256([]byte(text))
	counter := uint64(0)
	buf := seed[:]
	for i := 0; i < e.dimension; i++ {
		off := (i * 4) % len(buf)
		if i > 0 && off == 0 {
			// Extend the stream by rehashing with a counter.
			counter++
			var cb [8]byte
			binary.BigEndian.PutUint64(cb[:], counter)
			next := sha256.Sum256(append(seed[:], cb[:]...))
			buf = next[:]
		}
		u := binary.BigEndian.Uint32(buf[off : off+4])
		// Map to [-1, 1).
		vec[i] = float32(float64(u)/float64(math.MaxUint32)*2 - 1)
	}
	if e.normalize {
		similarity.Normalize(vec)
	}
	return vec, nil
}

// GenerateBatch returns deterministic vectors for each text.
func (e *Embedder) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Generate(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Healthcheck always succeeds; there is no remote dependency.
func (e *Embedder) Healthcheck(context.Context) error { return nil }

// EstimateCost is always zero.
func (e *Embedder) EstimateCost([]string) float64 { return 0 }

var _ providers.EmbeddingProvider = (*Embedder)(nil)
