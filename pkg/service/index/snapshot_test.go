package index_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/seeker/pkg/service/index"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := index.Dir(t.TempDir())

	idx := index.New(3)
	_, err := idx.Add([]float32{0.5, 0.25, -1}, newChunk("https://a.example.com", 0))
	gt.NoError(t, err)
	_, err = idx.Add([]float32{1, 1, 1}, newChunk("https://b.example.com", 3))
	gt.NoError(t, err)
	gt.NoError(t, idx.Save(ctx, dir))

	loaded, err := index.Load(ctx, dir)
	gt.NoError(t, err)
	gt.Equal(t, loaded.Dimension(), 3)
	gt.Equal(t, loaded.Len(), 2)

	hits, err := loaded.Search(ctx, []float32{1, 1, 1}, 1)
	gt.NoError(t, err)
	gt.A(t, hits).Length(1)
	gt.Equal(t, hits[0].Chunk.URL, "https://b.example.com")
	gt.Equal(t, hits[0].Chunk.ChunkID, "3")
	gt.Equal(t, hits[0].Chunk.ID, int64(1))

	// vectors are appended after the loaded ones
	id, err := loaded.Add([]float32{0, 0, 0}, newChunk("https://c.example.com", 0))
	gt.NoError(t, err)
	gt.Equal(t, id, int64(2))
}

func TestSaveLeavesNoTemporaryFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	idx := index.New(2)
	_, err := idx.Add([]float32{1, 2}, newChunk("https://a.example.com", 0))
	gt.NoError(t, err)
	gt.NoError(t, idx.Save(ctx, index.Dir(root)))

	entries, err := os.ReadDir(root)
	gt.NoError(t, err)
	gt.A(t, entries).Length(2)
}

func TestLoadMissingFiles(t *testing.T) {
	ctx := context.Background()

	t.Run("empty directory", func(t *testing.T) {
		_, err := index.Load(ctx, index.Dir(t.TempDir()))
		gt.Error(t, err)
	})

	t.Run("metadata missing", func(t *testing.T) {
		root := t.TempDir()
		idx := index.New(2)
		_, err := idx.Add([]float32{1, 2}, newChunk("https://a.example.com", 0))
		gt.NoError(t, err)
		gt.NoError(t, idx.Save(ctx, index.Dir(root)))
		gt.NoError(t, os.Remove(filepath.Join(root, index.MetadataFilename)))

		_, err = index.Load(ctx, index.Dir(root))
		gt.Error(t, err)
	})
}

func TestLoadInconsistentMetadata(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	idx := index.New(2)
	_, err := idx.Add([]float32{1, 2}, newChunk("https://a.example.com", 0))
	gt.NoError(t, err)
	gt.NoError(t, idx.Save(ctx, index.Dir(root)))

	meta := `[{"url":"https://a.example.com","chunk_id":"0","chunk":"a"},{"url":"https://b.example.com","chunk_id":"0","chunk":"b"}]`
	gt.NoError(t, os.WriteFile(filepath.Join(root, index.MetadataFilename), []byte(meta), 0644))

	_, err = index.Load(ctx, index.Dir(root))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, index.ErrInconsistentSnapshot))
}

func TestLoadShorterMetadata(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	idx := index.New(2)
	_, err := idx.Add([]float32{0, 0}, newChunk("https://a.example.com", 0))
	gt.NoError(t, err)
	_, err = idx.Add([]float32{5, 5}, newChunk("https://b.example.com", 0))
	gt.NoError(t, err)
	gt.NoError(t, idx.Save(ctx, index.Dir(root)))

	meta := `[{"url":"https://a.example.com","chunk_id":"0","chunk":"a"}]`
	gt.NoError(t, os.WriteFile(filepath.Join(root, index.MetadataFilename), []byte(meta), 0644))

	loaded, err := index.Load(ctx, index.Dir(root))
	gt.NoError(t, err)
	gt.Equal(t, loaded.Len(), 2)

	hits, err := loaded.Search(ctx, []float32{5, 5}, 2)
	gt.NoError(t, err)
	gt.A(t, hits).Length(1)
	gt.Equal(t, hits[0].Chunk.URL, "https://a.example.com")
}

func TestLoadRejectsForeignFile(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(root, index.IndexFilename), []byte("not an index at all, just text"), 0644))
	gt.NoError(t, os.WriteFile(filepath.Join(root, index.MetadataFilename), []byte("[]"), 0644))

	_, err := index.Load(ctx, index.Dir(root))
	gt.Error(t, err)
}

func TestSaveRefusesIndexWithoutDimension(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	err := index.New(0).Save(ctx, index.Dir(root))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, index.ErrNoDimension))

	entries, err := os.ReadDir(root)
	gt.NoError(t, err)
	gt.A(t, entries).Length(0)
}

func TestSaveLoadEmptyIndexWithDimension(t *testing.T) {
	ctx := context.Background()
	dir := index.Dir(t.TempDir())

	gt.NoError(t, index.New(4).Save(ctx, dir))

	loaded, err := index.Load(ctx, dir)
	gt.NoError(t, err)
	gt.Equal(t, loaded.Dimension(), 4)
	gt.Equal(t, loaded.Len(), 0)
}

func TestLoadRejectsOversizedDimension(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	var buf bytes.Buffer
	header := struct {
		Magic   [4]byte
		Version uint32
		Dim     uint32
		Count   uint64
	}{Magic: [4]byte{'S', 'K', 'I', 'X'}, Version: 1, Dim: 1 << 30, Count: 1}
	gt.NoError(t, binary.Write(&buf, binary.LittleEndian, header))
	gt.NoError(t, os.WriteFile(filepath.Join(root, index.IndexFilename), buf.Bytes(), 0644))
	gt.NoError(t, os.WriteFile(filepath.Join(root, index.MetadataFilename), []byte("[]"), 0644))

	_, err := index.Load(ctx, index.Dir(root))
	gt.Error(t, err)
	gt.S(t, err.Error()).Contains("too large")
}

// failingSink passes writes through to Dir except for the named artifact
type failingSink struct {
	index.Dir
	name string
}

func (x failingSink) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	if name == x.name {
		return nil, errors.New("disk full")
	}
	return x.Dir.Create(ctx, name)
}

func TestSaveKeepsPreviousSnapshotOnFailure(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	idx := index.New(2)
	_, err := idx.Add([]float32{1, 2}, newChunk("https://a.example.com", 0))
	gt.NoError(t, err)
	gt.NoError(t, idx.Save(ctx, index.Dir(root)))

	_, err = idx.Add([]float32{3, 4}, newChunk("https://b.example.com", 0))
	gt.NoError(t, err)
	gt.Error(t, idx.Save(ctx, failingSink{Dir: index.Dir(root), name: index.MetadataFilename}))

	loaded, err := index.Load(ctx, index.Dir(root))
	gt.NoError(t, err)
	gt.Equal(t, loaded.Len(), 1)

	entries, err := os.ReadDir(root)
	gt.NoError(t, err)
	gt.A(t, entries).Length(2)
}
