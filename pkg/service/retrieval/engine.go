package retrieval

import (
	"context"
	"strconv"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/seeker/pkg/adapter"
	"github.com/m-mizutani/seeker/pkg/model"
	"github.com/m-mizutani/seeker/pkg/service/index"
	"github.com/m-mizutani/seeker/pkg/utils/logging"
	"github.com/samber/lo"
)

// Engine answers natural language queries with the nearest chunks of an index
type Engine struct {
	embedder adapter.Embedder
	index    *index.Index
}

// New creates an Engine. The embedder must produce vectors of the index
// dimension unless the index is still empty with dimension 0.
func New(embedder adapter.Embedder, idx *index.Index) (*Engine, error) {
	if embedder.Dimension() > 0 && idx.Dimension() > 0 && embedder.Dimension() != idx.Dimension() {
		return nil, goerr.Wrap(index.ErrDimensionMismatch, "embedder does not match index",
			goerr.V("embedder", embedder.Dimension()),
			goerr.V("index", idx.Dimension()))
	}

	return &Engine{
		embedder: embedder,
		index:    idx,
	}, nil
}

func (e *Engine) Index() *index.Index {
	return e.index
}

// Search embeds query and returns at most k hits in rank order
func (e *Engine) Search(ctx context.Context, query string, k int) ([]*model.SearchHit, error) {
	logger := logging.From(ctx)
	logger.Debug("embedding query", "query", query)

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query", goerr.V("query", query))
	}
	if len(vec) != e.index.Dimension() {
		return nil, goerr.Wrap(index.ErrDimensionMismatch, "query embedding does not match index",
			goerr.V("expected", e.index.Dimension()),
			goerr.V("actual", len(vec)))
	}

	hits, err := e.index.Search(ctx, vec, k)
	if err != nil {
		return nil, err
	}

	logger.Debug("search finished", "query", query, "hits", len(hits))
	return hits, nil
}

// URLs returns the source URL of each hit in rank order
func URLs(hits []*model.SearchHit) []string {
	return lo.Map(hits, func(hit *model.SearchHit, _ int) string {
		return hit.Chunk.URL
	})
}

// Ingest splits text into chunks, embeds each and adds them to the index.
// It returns the number of chunks added.
func (e *Engine) Ingest(ctx context.Context, url, text string, size, overlap int) (int, error) {
	chunks := index.ChunkText(text, size, overlap)
	for i, chunk := range chunks {
		vec, err := e.embedder.Embed(ctx, chunk)
		if err != nil {
			return i, goerr.Wrap(err, "failed to embed chunk",
				goerr.V("url", url),
				goerr.V("chunk_id", i))
		}

		if _, err := e.index.Add(vec, &model.Chunk{
			URL:     url,
			ChunkID: strconv.Itoa(i),
			Text:    chunk,
		}); err != nil {
			return i, goerr.Wrap(err, "failed to add chunk", goerr.V("url", url))
		}
	}

	logging.From(ctx).Info("document ingested", "url", url, "chunks", len(chunks))
	return len(chunks), nil
}
