package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/seeker/pkg/adapter"
	"github.com/m-mizutani/seeker/pkg/model"
	"github.com/m-mizutani/seeker/pkg/utils/logging"
	chromem "github.com/philippgille/chromem-go"
)

const collectionPrefix = "session_"

const (
	metaType      = "type"
	metaToolName  = "tool_name"
	metaUserQuery = "user_query"
	metaTags      = "tags"
	metaSessionID = "session_id"
	metaCreatedAt = "created_at"
	metaSeq       = "seq"
)

// Store keeps memory items of agent sessions in a chromem database. Each
// session has its own collection so retrieval never crosses sessions.
type Store struct {
	embedder adapter.Embedder
	db       *chromem.DB

	mu          sync.RWMutex
	collections map[model.SessionID]*chromem.Collection
	seq         map[model.SessionID]int64
	total       int
}

// New creates an in-process memory store
func New(embedder adapter.Embedder) *Store {
	return &Store{
		embedder:    embedder,
		db:          chromem.NewDB(),
		collections: make(map[model.SessionID]*chromem.Collection),
		seq:         make(map[model.SessionID]int64),
	}
}

// NewPersistent creates a memory store that is written to dir and restores
// sessions found there
func NewPersistent(dir string, embedder adapter.Embedder) (*Store, error) {
	db, err := chromem.NewPersistentDB(dir, true)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open memory database", goerr.V("dir", dir))
	}

	s := &Store{
		embedder:    embedder,
		db:          db,
		collections: make(map[model.SessionID]*chromem.Collection),
		seq:         make(map[model.SessionID]int64),
	}

	for name := range db.ListCollections() {
		id, ok := strings.CutPrefix(name, collectionPrefix)
		if !ok {
			continue
		}
		col := db.GetCollection(name, embedder.Embed)
		if col == nil {
			continue
		}

		sessionID := model.SessionID(id)
		s.collections[sessionID] = col
		s.seq[sessionID] = int64(col.Count())
		s.total += col.Count()
	}

	return s, nil
}

func (s *Store) collection(sessionID model.SessionID) (*chromem.Collection, error) {
	if col, ok := s.collections[sessionID]; ok {
		return col, nil
	}

	col, err := s.db.GetOrCreateCollection(collectionPrefix+string(sessionID), map[string]string{
		metaSessionID: string(sessionID),
	}, s.embedder.Embed)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create memory collection", goerr.V("session_id", sessionID))
	}

	s.collections[sessionID] = col
	return col, nil
}

// Add stores a copy of item and returns it with ID, Seq and CreatedAt
// assigned. Items are appended; nothing is overwritten or deduplicated. If
// embedding fails nothing is stored.
func (s *Store) Add(ctx context.Context, item *model.MemoryItem) (*model.MemoryItem, error) {
	if item.SessionID == "" {
		return nil, goerr.New("memory item has no session id")
	}

	vec, err := s.embedder.Embed(ctx, item.Text)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed memory item", goerr.V("session_id", item.SessionID))
	}

	stored := *item
	stored.ID = model.NewMemoryID()
	stored.Tags = append([]string(nil), item.Tags...)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.collection(stored.SessionID)
	if err != nil {
		return nil, err
	}
	stored.Seq = s.seq[stored.SessionID] + 1

	metadata, err := encodeMetadata(&stored)
	if err != nil {
		return nil, err
	}

	if err := col.AddDocument(ctx, chromem.Document{
		ID:        string(stored.ID),
		Content:   stored.Text,
		Embedding: vec,
		Metadata:  metadata,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to add memory item",
			goerr.V("session_id", stored.SessionID),
			goerr.V("id", stored.ID))
	}

	s.seq[stored.SessionID] = stored.Seq
	s.total++

	logging.From(ctx).Debug("memory item added",
		"session_id", stored.SessionID,
		"id", stored.ID,
		"seq", stored.Seq)

	result := stored
	return &result, nil
}

// Retrieve returns at most topK items of the session, most similar to query
// first. Equal similarity is ordered newest first. An unknown session yields
// an empty result.
func (s *Store) Retrieve(ctx context.Context, query string, topK int, sessionID model.SessionID) ([]*model.MemoryItem, error) {
	items := []*model.MemoryItem{}
	if topK <= 0 {
		return items, nil
	}

	s.mu.RLock()
	col, ok := s.collections[sessionID]
	s.mu.RUnlock()
	if !ok || col.Count() == 0 {
		return items, nil
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed memory query", goerr.V("session_id", sessionID))
	}

	results, err := col.QueryEmbedding(ctx, vec, col.Count(), nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query memory", goerr.V("session_id", sessionID))
	}

	type ranked struct {
		item       *model.MemoryItem
		similarity float32
	}
	candidates := make([]ranked, 0, len(results))
	logger := logging.From(ctx)
	for _, r := range results {
		item, err := decodeItem(r)
		if err != nil {
			logger.Warn("skipping broken memory item", "error", err, "id", r.ID)
			continue
		}
		if item.SessionID != sessionID {
			continue
		}
		candidates = append(candidates, ranked{item: item, similarity: r.Similarity})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].similarity != candidates[j].similarity {
			return candidates[i].similarity > candidates[j].similarity
		}
		return candidates[i].item.Seq > candidates[j].item.Seq
	})

	for _, c := range candidates {
		if len(items) == topK {
			break
		}
		items = append(items, c.item)
	}

	return items, nil
}

// Len returns the number of items in all sessions
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// Count returns the number of items of one session
func (s *Store) Count(sessionID model.SessionID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if col, ok := s.collections[sessionID]; ok {
		return col.Count()
	}
	return 0
}

func encodeMetadata(item *model.MemoryItem) (map[string]string, error) {
	tags, err := json.Marshal(item.Tags)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode tags")
	}

	return map[string]string{
		metaType:      string(item.Type),
		metaToolName:  item.ToolName,
		metaUserQuery: item.UserQuery,
		metaTags:      string(tags),
		metaSessionID: string(item.SessionID),
		metaCreatedAt: item.CreatedAt.Format(time.RFC3339Nano),
		metaSeq:       strconv.FormatInt(item.Seq, 10),
	}, nil
}

func decodeItem(r chromem.Result) (*model.MemoryItem, error) {
	seq, err := strconv.ParseInt(r.Metadata[metaSeq], 10, 64)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid seq", goerr.V("seq", r.Metadata[metaSeq]))
	}
	createdAt, err := time.Parse(time.RFC3339Nano, r.Metadata[metaCreatedAt])
	if err != nil {
		return nil, goerr.Wrap(err, "invalid created_at", goerr.V("created_at", r.Metadata[metaCreatedAt]))
	}

	var tags []string
	if raw := r.Metadata[metaTags]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &tags); err != nil {
			return nil, goerr.Wrap(err, "invalid tags", goerr.V("tags", raw))
		}
	}

	return &model.MemoryItem{
		ID:        model.MemoryID(r.ID),
		Text:      r.Content,
		Type:      model.MemoryType(r.Metadata[metaType]),
		ToolName:  r.Metadata[metaToolName],
		UserQuery: r.Metadata[metaUserQuery],
		Tags:      tags,
		SessionID: model.SessionID(r.Metadata[metaSessionID]),
		CreatedAt: createdAt,
		Seq:       seq,
	}, nil
}
