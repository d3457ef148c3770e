package index

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/seeker/pkg/model"
	"github.com/m-mizutani/seeker/pkg/utils/logging"
)

const (
	IndexFilename    = "index.bin"
	MetadataFilename = "metadata.json"

	formatVersion uint32 = 1
	maxVectors           = 1 << 32
	maxDimension         = 1 << 16
)

var fileMagic = [4]byte{'S', 'K', 'I', 'X'}

type fileHeader struct {
	Magic   [4]byte
	Version uint32
	Dim     uint32
	Count   uint64
}

// Source opens the artifacts of an index snapshot
type Source interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// Sink creates the artifacts of an index snapshot. Written content becomes
// visible when the writer is closed.
type Sink interface {
	Create(ctx context.Context, name string) (io.WriteCloser, error)
}

// Load reads the vector file and the metadata file of one snapshot. Both must
// exist. Element i of the metadata array describes vector i; a metadata array
// longer than the vector file is rejected.
func Load(ctx context.Context, src Source) (*Index, error) {
	indexReader, err := src.Open(ctx, IndexFilename)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open index file")
	}
	defer indexReader.Close()

	metaReader, err := src.Open(ctx, MetadataFilename)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open metadata file")
	}
	defer metaReader.Close()

	idx, err := readVectors(indexReader)
	if err != nil {
		return nil, err
	}

	var records []*model.Chunk
	if err := json.NewDecoder(metaReader).Decode(&records); err != nil {
		return nil, goerr.Wrap(err, "failed to decode metadata file")
	}

	if len(records) > len(idx.entries) {
		return nil, goerr.Wrap(ErrInconsistentSnapshot, "metadata has more records than index",
			goerr.V("vectors", len(idx.entries)),
			goerr.V("records", len(records)))
	}

	for i, record := range records {
		if record == nil {
			continue
		}
		record.ID = int64(i)
		idx.records[record.ID] = record
	}

	if len(records) < len(idx.entries) {
		logging.From(ctx).Warn("metadata is shorter than index",
			"vectors", len(idx.entries),
			"records", len(records))
	}

	return idx, nil
}

func readVectors(r io.Reader) (*Index, error) {
	br := bufio.NewReader(r)

	var h fileHeader
	if err := binary.Read(br, binary.LittleEndian, &h); err != nil {
		return nil, goerr.Wrap(err, "failed to read index header")
	}
	if h.Magic != fileMagic {
		return nil, goerr.New("not an index file", goerr.V("magic", string(h.Magic[:])))
	}
	if h.Version != formatVersion {
		return nil, goerr.New("unsupported index version", goerr.V("version", h.Version))
	}
	if h.Dim == 0 {
		return nil, goerr.New("index dimension is zero")
	}
	if h.Dim > maxDimension {
		return nil, goerr.New("index dimension is too large", goerr.V("dim", h.Dim))
	}
	if h.Count > maxVectors {
		return nil, goerr.New("index vector count is too large", goerr.V("count", h.Count))
	}

	idx := New(int(h.Dim))
	vec := make([]float32, h.Dim)
	for i := uint64(0); i < h.Count; i++ {
		if err := binary.Read(br, binary.LittleEndian, vec); err != nil {
			return nil, goerr.Wrap(err, "index file is truncated",
				goerr.V("expected", h.Count),
				goerr.V("read", i))
		}
		idx.entries = append(idx.entries, entry{id: int64(i), vec: toFloat64(vec)})
	}
	idx.nextID = int64(h.Count)

	return idx, nil
}

// Save writes the vector file and the metadata file to sink. Neither is
// committed until both are written. An index that never received a vector
// has no dimension and cannot be saved.
func (x *Index) Save(ctx context.Context, sink Sink) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.dim == 0 {
		return goerr.Wrap(ErrNoDimension, "cannot save index")
	}

	records := make([]*model.Chunk, 0, len(x.entries))
	for _, e := range x.entries {
		record, ok := x.records[e.id]
		if !ok {
			break
		}
		records = append(records, record)
	}
	for _, e := range x.entries[len(records):] {
		if _, ok := x.records[e.id]; ok {
			return goerr.Wrap(ErrInconsistentSnapshot, "metadata records are not contiguous", goerr.V("id", e.id))
		}
	}

	return writeArtifacts(ctx, sink,
		artifact{name: IndexFilename, write: x.writeVectors},
		artifact{name: MetadataFilename, write: func(w io.Writer) error {
			return json.NewEncoder(w).Encode(records)
		}},
	)
}

func (x *Index) writeVectors(w io.Writer) error {
	bw := bufio.NewWriter(w)

	h := fileHeader{
		Magic:   fileMagic,
		Version: formatVersion,
		Dim:     uint32(x.dim),
		Count:   uint64(len(x.entries)),
	}
	if err := binary.Write(bw, binary.LittleEndian, h); err != nil {
		return goerr.Wrap(err, "failed to write index header")
	}

	vec := make([]float32, x.dim)
	for _, e := range x.entries {
		for i, v := range e.vec {
			vec[i] = float32(v)
		}
		if err := binary.Write(bw, binary.LittleEndian, vec); err != nil {
			return goerr.Wrap(err, "failed to write vector", goerr.V("id", e.id))
		}
	}

	if err := bw.Flush(); err != nil {
		return goerr.Wrap(err, "failed to flush index file")
	}
	return nil
}

// aborter is implemented by writers that can discard uncommitted content
type aborter interface {
	Abort() error
}

type artifact struct {
	name  string
	write func(io.Writer) error
}

// writeArtifacts writes every artifact before closing any of them, so a
// failed write leaves the previous snapshot untouched
func writeArtifacts(ctx context.Context, sink Sink, artifacts ...artifact) error {
	writers := make([]io.WriteCloser, 0, len(artifacts))
	abort := func(ws []io.WriteCloser) {
		for _, w := range ws {
			if a, ok := w.(aborter); ok {
				_ = a.Abort()
			}
		}
	}

	for _, a := range artifacts {
		w, err := sink.Create(ctx, a.name)
		if err != nil {
			abort(writers)
			return goerr.Wrap(err, "failed to create artifact", goerr.V("name", a.name))
		}
		writers = append(writers, w)

		if err := a.write(w); err != nil {
			abort(writers)
			return goerr.Wrap(err, "failed to write artifact", goerr.V("name", a.name))
		}
	}

	for i, w := range writers {
		if err := w.Close(); err != nil {
			abort(writers[i+1:])
			return goerr.Wrap(err, "failed to commit artifact", goerr.V("name", artifacts[i].name))
		}
	}
	return nil
}
