package vector

import (
	"context"
	"hash/fnv"
	"math"
)

// Embedder converts text to vectors. The engine does not prescribe a
// model; production deployments plug in an API-backed implementation,
// while Local gives deterministic offline vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Local is a deterministic, dependency-free embedder. Vectors are
// hash-seeded, so identical text always embeds identically. It carries no
// semantic signal; similarity degrades to near-exact matching, which is
// acceptable for tests and offline development.
type Local struct {
	dimensions int
}

// NewLocal creates a local embedder with conventional small-model dimensions.
func NewLocal() *Local {
	return &Local{dimensions: 384}
}

// Embed produces a unit vector seeded by the FNV hash of text.
func (l *Local) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float32, l.dimensions)
	for i := range embedding {
		// LCG advance per component.
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (l *Local) Dimensions() int { return l.dimensions }

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}
