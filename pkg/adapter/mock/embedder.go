package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
)

// Embedder generates deterministic unit vectors from a text hash. Texts can be
// pinned to fixed vectors with Set, and FailOn can inject errors per text.
type Embedder struct {
	dimension int

	mu     sync.Mutex
	fixed  map[string][]float32
	calls  int
	FailOn func(text string) error
}

func New(dimension int) *Embedder {
	return &Embedder{
		dimension: dimension,
		fixed:     make(map[string][]float32),
	}
}

// Set pins the vector returned for text
func (m *Embedder) Set(text string, vec []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixed[text] = vec
}

// Calls returns the number of Embed calls so far
func (m *Embedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *Embedder) Dimension() int {
	return m.dimension
}

func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls++
	vec, ok := m.fixed[text]
	m.mu.Unlock()

	if m.FailOn != nil {
		if err := m.FailOn(text); err != nil {
			return nil, err
		}
	}
	if ok {
		return vec, nil
	}

	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float32, m.dimension)
	for i := range embedding {
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}

	return normalize(embedding), nil
}

func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}

	norm = math.Sqrt(norm)
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}
	return vec
}
