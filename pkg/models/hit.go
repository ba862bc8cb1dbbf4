package models

// Hit is one ranked result of a similarity query, enriched from the metadata
// store. Degraded hits carry ids and score only; they are never dropped.
type Hit struct {
	ChunkID    string         `json:"chunk_id"`
	DocumentID string         `json:"doc_id"`
	KBID       string         `json:"kb_id"`
	Kind       ChunkKind      `json:"kind,omitempty"`
	Ordinal    int            `json:"ordinal,omitempty"`
	Text       string         `json:"text,omitempty"`
	Filename   string         `json:"filename,omitempty"`
	ImageURL   string         `json:"image_url,omitempty"`
	Distance   float32        `json:"distance"`
	Score      float64        `json:"score"`
	Degraded   bool           `json:"degraded,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
