package index_test

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/seeker/pkg/model"
	"github.com/m-mizutani/seeker/pkg/service/index"
	"github.com/m-mizutani/seeker/pkg/utils/logging"
)

func newChunk(url string, n int) *model.Chunk {
	return &model.Chunk{URL: url, ChunkID: strconv.Itoa(n), Text: url + " text"}
}

func TestSearchOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	idx := index.New(2)

	_, err := idx.Add([]float32{0, 0}, newChunk("https://a.example.com", 0))
	gt.NoError(t, err)
	_, err = idx.Add([]float32{3, 4}, newChunk("https://b.example.com", 0))
	gt.NoError(t, err)
	_, err = idx.Add([]float32{1, 0}, newChunk("https://c.example.com", 0))
	gt.NoError(t, err)

	hits, err := idx.Search(ctx, []float32{0, 0}, 2)
	gt.NoError(t, err)
	gt.A(t, hits).Length(2)
	gt.Equal(t, hits[0].Chunk.URL, "https://a.example.com")
	gt.Equal(t, hits[0].Distance, 0.0)
	gt.Equal(t, hits[1].Chunk.URL, "https://c.example.com")
	gt.Equal(t, hits[1].Distance, 1.0)
}

func TestSearchReturnsAtMostIndexSize(t *testing.T) {
	ctx := context.Background()
	idx := index.New(2)

	_, err := idx.Add([]float32{1, 1}, newChunk("https://a.example.com", 0))
	gt.NoError(t, err)
	_, err = idx.Add([]float32{2, 2}, newChunk("https://b.example.com", 0))
	gt.NoError(t, err)

	hits, err := idx.Search(ctx, []float32{0, 0}, 5)
	gt.NoError(t, err)
	gt.A(t, hits).Length(2)
}

func TestSearchEmptyAndZeroK(t *testing.T) {
	ctx := context.Background()
	idx := index.New(3)

	hits, err := idx.Search(ctx, []float32{1, 2, 3}, 5)
	gt.NoError(t, err)
	gt.A(t, hits).Length(0)

	_, err = idx.Add([]float32{1, 2, 3}, newChunk("https://a.example.com", 0))
	gt.NoError(t, err)

	hits, err = idx.Search(ctx, []float32{1, 2, 3}, 0)
	gt.NoError(t, err)
	gt.A(t, hits).Length(0)
}

func TestSearchIsDeterministic(t *testing.T) {
	ctx := context.Background()
	idx := index.New(2)

	// equidistant from the query; ties resolve by insertion order
	for i, v := range [][]float32{{1, 0}, {0, 1}, {-1, 0}, {0, -1}} {
		_, err := idx.Add(v, newChunk("https://tie.example.com", i))
		gt.NoError(t, err)
	}

	first, err := idx.Search(ctx, []float32{0, 0}, 3)
	gt.NoError(t, err)
	for range 5 {
		again, err := idx.Search(ctx, []float32{0, 0}, 3)
		gt.NoError(t, err)
		gt.A(t, again).Length(len(first))
		for i := range first {
			gt.Equal(t, again[i].Chunk.ChunkID, first[i].Chunk.ChunkID)
		}
	}
	gt.Equal(t, first[0].Chunk.ChunkID, "0")
	gt.Equal(t, first[1].Chunk.ChunkID, "1")
	gt.Equal(t, first[2].Chunk.ChunkID, "2")
}

func TestSearchDropsHitWithoutRecord(t *testing.T) {
	var buf bytes.Buffer
	ctx := logging.With(context.Background(), logging.New("debug", &buf))
	idx := index.New(2)

	id, err := idx.Add([]float32{0, 0}, newChunk("https://gone.example.com", 0))
	gt.NoError(t, err)
	_, err = idx.Add([]float32{1, 1}, newChunk("https://kept.example.com", 0))
	gt.NoError(t, err)
	idx.DropRecord(id)

	hits, err := idx.Search(ctx, []float32{0, 0}, 5)
	gt.NoError(t, err)
	gt.A(t, hits).Length(1)
	gt.Equal(t, hits[0].Chunk.URL, "https://kept.example.com")
	gt.S(t, buf.String()).Contains("dropping search hit")
}

func TestDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx := index.New(3)

	_, err := idx.Add([]float32{1, 2}, newChunk("https://a.example.com", 0))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, index.ErrDimensionMismatch))
	gt.Equal(t, idx.Len(), 0)

	_, err = idx.Add([]float32{1, 2, 3}, newChunk("https://a.example.com", 0))
	gt.NoError(t, err)

	_, err = idx.Search(ctx, []float32{1, 2, 3, 4}, 1)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, index.ErrDimensionMismatch))
}

func TestSearchEmptyIndexWithoutDimension(t *testing.T) {
	ctx := context.Background()
	idx := index.New(0)

	hits, err := idx.Search(ctx, []float32{1, 2, 3}, 2)
	gt.NoError(t, err)
	gt.A(t, hits).Length(0)
}

func TestAddDoesNotAliasRecord(t *testing.T) {
	ctx := context.Background()
	idx := index.New(1)

	chunk := newChunk("https://a.example.com", 0)
	_, err := idx.Add([]float32{1}, chunk)
	gt.NoError(t, err)
	chunk.URL = "https://changed.example.com"

	hits, err := idx.Search(ctx, []float32{1}, 1)
	gt.NoError(t, err)
	gt.Equal(t, hits[0].Chunk.URL, "https://a.example.com")
}

func TestEmptyIndexAdoptsFirstDimension(t *testing.T) {
	ctx := context.Background()
	idx := index.New(0)

	_, err := idx.Add([]float32{1, 0, 0}, newChunk("https://a.example.com", 0))
	gt.NoError(t, err)
	gt.Equal(t, idx.Dimension(), 3)

	_, err = idx.Add([]float32{1, 0}, newChunk("https://b.example.com", 0))
	gt.True(t, errors.Is(err, index.ErrDimensionMismatch))

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 1)
	gt.NoError(t, err)
	gt.A(t, hits).Length(1)
}
