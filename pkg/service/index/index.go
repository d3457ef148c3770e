package index

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/seeker/pkg/model"
	"github.com/m-mizutani/seeker/pkg/utils/logging"
	"gonum.org/v1/gonum/floats"
)

var (
	// TagIndexOutOfRange marks a search hit whose id has no metadata record.
	// Such hits are dropped and logged, never returned to the caller.
	TagIndexOutOfRange = goerr.NewTag("index_out_of_range")

	ErrDimensionMismatch    = goerr.New("vector dimension mismatch")
	ErrInconsistentSnapshot = goerr.New("index and metadata are inconsistent")
	ErrNoDimension          = goerr.New("index has no dimension yet")
)

type entry struct {
	id  int64
	vec []float64
}

// Index is an exact nearest-neighbor index. Vectors and their metadata records
// share an explicit integer id instead of relying on array positions.
type Index struct {
	mu      sync.RWMutex
	dim     int
	entries []entry
	records map[int64]*model.Chunk
	nextID  int64
}

// New creates an empty index for vectors of the given dimension
func New(dim int) *Index {
	return &Index{
		dim:     dim,
		records: make(map[int64]*model.Chunk),
	}
}

func (x *Index) Dimension() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.dim
}

// Len returns the number of vectors in the index
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Add appends a vector and its metadata record as one unit and returns the
// assigned id. An empty index created with dimension 0 takes the dimension
// of its first vector.
func (x *Index) Add(vec []float32, chunk *model.Chunk) (int64, error) {
	if chunk == nil {
		return 0, goerr.New("metadata record is required")
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.dim == 0 && len(x.entries) == 0 && len(vec) > 0 {
		x.dim = len(vec)
	}
	if len(vec) != x.dim {
		return 0, goerr.Wrap(ErrDimensionMismatch, "cannot add vector",
			goerr.V("expected", x.dim),
			goerr.V("actual", len(vec)))
	}

	id := x.nextID
	x.nextID++

	record := *chunk
	record.ID = id
	x.entries = append(x.entries, entry{id: id, vec: toFloat64(vec)})
	x.records[id] = &record

	return id, nil
}

type candidate struct {
	id   int64
	dist float64
}

// Search returns at most k hits ordered by ascending Euclidean distance. Ties
// are ordered by id so results are stable for a fixed snapshot. Hits without a
// metadata record are dropped with a warning.
func (x *Index) Search(ctx context.Context, query []float32, k int) ([]*model.SearchHit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	hits := []*model.SearchHit{}
	if k <= 0 || len(x.entries) == 0 {
		return hits, nil
	}
	if len(query) != x.dim {
		return nil, goerr.Wrap(ErrDimensionMismatch, "cannot search index",
			goerr.V("expected", x.dim),
			goerr.V("actual", len(query)))
	}

	q := toFloat64(query)
	candidates := make([]candidate, len(x.entries))
	for i, e := range x.entries {
		candidates[i] = candidate{id: e.id, dist: floats.Distance(q, e.vec, 2)}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].id < candidates[j].id
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}

	logger := logging.From(ctx)
	for _, c := range candidates {
		record, ok := x.records[c.id]
		if !ok {
			err := goerr.New("search hit has no metadata record",
				goerr.T(TagIndexOutOfRange),
				goerr.V("id", c.id),
				goerr.V("metadata_size", len(x.records)))
			logger.Warn("dropping search hit", "error", err)
			continue
		}

		chunk := *record
		hits = append(hits, &model.SearchHit{
			Chunk:    &chunk,
			Distance: c.dist,
		})
	}

	return hits, nil
}

func toFloat64(vec []float32) []float64 {
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}
