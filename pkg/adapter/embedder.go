package adapter

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
)

// TagEmbeddingProvider marks failures of an embedding provider. Callers must
// propagate them; a substituted vector would corrupt similarity rankings.
var TagEmbeddingProvider = goerr.NewTag("embedding_provider")

// Embedder maps text to a fixed-dimensional vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the expected vector size, or 0 if unknown
	Dimension() int
}

// LLM generates text for perception and planning prompts
type LLM interface {
	Generate(ctx context.Context, systemPrompt, prompt string) (string, error)
}
