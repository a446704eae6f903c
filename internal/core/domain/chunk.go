package domain

// ChunkPayload is the retrieval metadata persisted with every chunk. Raw
// bodies (full HTML, DOM handles) never enter a payload.
type ChunkPayload struct {
	ChunkID      string         `json:"chunk_id"`
	ChunkIndex   int            `json:"chunk_index"`
	TotalChunks  int            `json:"total_chunks"`
	DocID        string         `json:"doc_id"`
	HeadingPath  []string       `json:"heading_path,omitempty"`
	TokenCount   int            `json:"token_count"`
	Strategy     string         `json:"chunk_strategy,omitempty"`
	Source       string         `json:"source"`
	Title        string         `json:"title,omitempty"`
	CanonicalURL string         `json:"canonical_url,omitempty"`
	Category     string         `json:"category,omitempty"`
	Platform     string         `json:"platform,omitempty"`
	Role         string         `json:"role,omitempty"`
	PageType     string         `json:"page_type,omitempty"`
	ContentType  string         `json:"content_type,omitempty"`
	Language     string         `json:"language,omitempty"`
	IndexedAt    string         `json:"indexed_at,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// Chunk is the atomic unit written to the vector index.
type Chunk struct {
	Text    string       `json:"text"`
	Payload ChunkPayload `json:"payload"`
}

// EmbeddingBatch is the result of one embedding call. Sparse is nil when the
// capability was asked for dense vectors only; individual sparse maps may be
// empty for texts with no lexical signal.
type EmbeddingBatch struct {
	Dense  [][]float32
	Sparse []map[uint32]float32
}

// Point is one store-agnostic index record: deterministic ID, vectors and a
// flat payload. The vector store adapter owns the wire encoding.
type Point struct {
	ID      string
	Dense   []float32
	Sparse  map[uint32]float32
	Payload map[string]any
}
