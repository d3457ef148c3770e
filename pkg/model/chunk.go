package model

// Chunk is the metadata record of one indexed vector
type Chunk struct {
	ID      int64  `json:"-"`
	URL     string `json:"url"`
	ChunkID string `json:"chunk_id,omitempty"`
	Text    string `json:"chunk,omitempty"`
}

// SearchHit is a resolved nearest-neighbor result. Smaller distance is closer.
type SearchHit struct {
	Chunk    *Chunk  `json:"chunk"`
	Distance float64 `json:"distance"`
}
