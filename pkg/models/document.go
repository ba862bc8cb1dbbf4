package models

import (
	"time"
)

// SourceType represents the kind of file a document was ingested from
type SourceType string

const (
	SourceTypeText  SourceType = "text"
	SourceTypePDF   SourceType = "pdf"
	SourceTypeImage SourceType = "image"
)

// ChunkKind represents the retrievable unit a chunk holds
type ChunkKind string

const (
	ChunkKindText    ChunkKind = "text"
	ChunkKindPDFPage ChunkKind = "pdf_page"
	ChunkKindImage   ChunkKind = "image"
)

// DocumentStatus represents the lifecycle state of an ingested document
type DocumentStatus string

const (
	StatusReceived       DocumentStatus = "received"
	StatusProcessing     DocumentStatus = "processing"
	StatusDone           DocumentStatus = "done"
	StatusPartialFailure DocumentStatus = "partial_failure"
)

// Document represents one ingested file. Created once at ingest; only its
// status and metadata are mutated afterwards.
type Document struct {
	ID         string         `json:"id" bson:"_id"`
	KBID       string         `json:"kb_id" bson:"kb_id"`
	Filename   string         `json:"filename" bson:"filename"`
	SourceType SourceType     `json:"source_type" bson:"source_type"`
	ObjectKey  string         `json:"object_key" bson:"object_key"`
	Status     DocumentStatus `json:"status" bson:"status"`
	Metadata   map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" bson:"updated_at"`
}

// Chunk is the smallest retrievable unit: a text window or a page image.
// A chunk id exists in the vector index and the metadata store together, or
// in neither.
type Chunk struct {
	ID         string         `json:"id" bson:"_id"`
	DocumentID string         `json:"doc_id" bson:"doc_id"`
	KBID       string         `json:"kb_id" bson:"kb_id"`
	Kind       ChunkKind      `json:"kind" bson:"kind"`
	Ordinal    int            `json:"ordinal" bson:"ordinal"`
	Text       string         `json:"text,omitempty" bson:"text,omitempty"`
	ImageKey   string         `json:"image_key,omitempty" bson:"image_key,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at" bson:"created_at"`
}

// ChunkOutcome records what happened to a single chunk during ingestion.
// A chunk that was skipped (degraded embedding, index error) is present in
// neither store and carries the reason here instead.
type ChunkOutcome struct {
	ChunkID string    `json:"chunk_id"`
	Ordinal int       `json:"ordinal"`
	Kind    ChunkKind `json:"kind"`
	Indexed bool      `json:"indexed"`
	Error   string    `json:"error,omitempty"`
}

// Receipt is the result of one ingestion. DocumentID is always set once the
// raw object landed in the object store, even when every chunk failed.
type Receipt struct {
	DocumentID string         `json:"document_id"`
	Status     DocumentStatus `json:"status"`
	Chunks     []ChunkOutcome `json:"chunks"`
}

// Indexed returns how many chunks of the receipt made it into the index.
func (r *Receipt) Indexed() int {
	n := 0
	for _, c := range r.Chunks {
		if c.Indexed {
			n++
		}
	}
	return n
}
