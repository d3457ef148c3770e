package adapter

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ollama/ollama/api"
)

const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "nomic-embed-text"
)

// Ollama calls the /api/embeddings endpoint, which takes {model, prompt} and
// answers {embedding}
type Ollama struct {
	baseURL    *url.URL
	model      string
	dimension  int
	httpClient *http.Client
	client     *api.Client
}

type OllamaOption func(*Ollama)

func WithOllamaModel(model string) OllamaOption {
	return func(o *Ollama) {
		o.model = model
	}
}

// WithOllamaDimension makes Embed reject vectors of another size
func WithOllamaDimension(dim int) OllamaOption {
	return func(o *Ollama) {
		o.dimension = dim
	}
}

func WithOllamaHTTPClient(client *http.Client) OllamaOption {
	return func(o *Ollama) {
		o.httpClient = client
	}
}

func NewOllama(baseURL string, opts ...OllamaOption) (*Ollama, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}

	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, goerr.Wrap(err, "invalid ollama url", goerr.V("url", baseURL))
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, goerr.New("ollama url needs scheme and host", goerr.V("url", baseURL))
	}

	o := &Ollama{
		baseURL: base,
		model:   DefaultOllamaModel,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.client = api.NewClient(o.baseURL, o.httpClient)

	return o, nil
}

func (o *Ollama) Dimension() int {
	return o.dimension
}

// Embed requests the embedding of text. Any failure is returned as an error
// tagged TagEmbeddingProvider.
func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.Embeddings(ctx, &api.EmbeddingRequest{
		Model:  o.model,
		Prompt: text,
	})
	if err != nil {
		var statusErr api.StatusError
		if errors.As(err, &statusErr) {
			return nil, goerr.Wrap(err, "embedding provider returned error",
				goerr.T(TagEmbeddingProvider),
				goerr.V("status", statusErr.StatusCode),
				goerr.V("model", o.model))
		}
		return nil, goerr.Wrap(err, "failed to request embedding",
			goerr.T(TagEmbeddingProvider),
			goerr.V("url", o.baseURL.String()),
			goerr.V("model", o.model))
	}

	if len(resp.Embedding) == 0 {
		return nil, goerr.New("embedding response has no vector",
			goerr.T(TagEmbeddingProvider),
			goerr.V("model", o.model))
	}
	if o.dimension > 0 && len(resp.Embedding) != o.dimension {
		return nil, goerr.New("embedding dimension mismatch",
			goerr.T(TagEmbeddingProvider),
			goerr.V("expected", o.dimension),
			goerr.V("actual", len(resp.Embedding)))
	}

	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
