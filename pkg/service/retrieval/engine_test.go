package retrieval_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/seeker/pkg/adapter"
	"github.com/m-mizutani/seeker/pkg/adapter/mock"
	"github.com/m-mizutani/seeker/pkg/service/index"
	"github.com/m-mizutani/seeker/pkg/service/retrieval"
)

func TestEngineSearch(t *testing.T) {
	ctx := context.Background()
	embedder := mock.New(8)
	engine, err := retrieval.New(embedder, index.New(8))
	gt.NoError(t, err)

	n, err := engine.Ingest(ctx, "https://go.dev/doc", "the go programming language", 256, 40)
	gt.NoError(t, err)
	gt.Equal(t, n, 1)
	n, err = engine.Ingest(ctx, "https://example.com/cats", "cats sleep most of the day", 256, 40)
	gt.NoError(t, err)
	gt.Equal(t, n, 1)

	hits, err := engine.Search(ctx, "cats sleep most of the day", 2)
	gt.NoError(t, err)
	gt.A(t, hits).Length(2)
	gt.Equal(t, hits[0].Chunk.URL, "https://example.com/cats")
	gt.Equal(t, hits[0].Distance, 0.0)

	urls := retrieval.URLs(hits)
	gt.A(t, urls).Length(2)
	gt.Equal(t, urls[0], "https://example.com/cats")
	gt.Equal(t, urls[1], "https://go.dev/doc")
}

func TestEngineIngestChunks(t *testing.T) {
	ctx := context.Background()
	engine, err := retrieval.New(mock.New(4), index.New(4))
	gt.NoError(t, err)

	n, err := engine.Ingest(ctx, "https://example.com/long", "a b c d e f g", 3, 1)
	gt.NoError(t, err)
	gt.Equal(t, n, 3)
	gt.Equal(t, engine.Index().Len(), 3)
}

func TestEngineEmbeddingFailure(t *testing.T) {
	ctx := context.Background()
	embedder := mock.New(4)
	embedder.FailOn = func(text string) error {
		return goerr.New("provider down", goerr.T(adapter.TagEmbeddingProvider))
	}
	engine, err := retrieval.New(embedder, index.New(4))
	gt.NoError(t, err)

	_, err = engine.Search(ctx, "anything", 2)
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, adapter.TagEmbeddingProvider))

	n, err := engine.Ingest(ctx, "https://example.com", "some text", 256, 40)
	gt.Error(t, err)
	gt.Equal(t, n, 0)
	gt.Equal(t, engine.Index().Len(), 0)
}

func TestEngineDimensionMismatch(t *testing.T) {
	_, err := retrieval.New(mock.New(4), index.New(8))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, index.ErrDimensionMismatch))
}

func TestEngineIngestIntoEmptyIndex(t *testing.T) {
	ctx := context.Background()
	engine, err := retrieval.New(mock.New(4), index.New(0))
	gt.NoError(t, err)

	n, err := engine.Ingest(ctx, "https://example.com", "alpha beta gamma", 256, 40)
	gt.NoError(t, err)
	gt.Equal(t, n, 1)
	gt.Equal(t, engine.Index().Dimension(), 4)
}

func TestEngineSearchIndexWithoutVectors(t *testing.T) {
	ctx := context.Background()
	engine, err := retrieval.New(mock.New(4), index.New(0))
	gt.NoError(t, err)

	n, err := engine.Ingest(ctx, "https://example.com/blank", "   ", 256, 40)
	gt.NoError(t, err)
	gt.Equal(t, n, 0)

	hits, err := engine.Search(ctx, "anything", 3)
	gt.NoError(t, err)
	gt.A(t, hits).Length(0)
}
