package models

import "time"

// DocumentEventType classifies document lifecycle events
type DocumentEventType string

const (
	EventDocumentIngested DocumentEventType = "document.ingested"
	EventDocumentFailed   DocumentEventType = "document.failed"
	EventDocumentPurged   DocumentEventType = "document.purged"
)

// DocumentEvent is published after an ingestion or purge finishes
type DocumentEvent struct {
	Type       DocumentEventType `json:"type"`
	DocumentID string            `json:"document_id"`
	KBID       string            `json:"kb_id"`
	Filename   string            `json:"filename,omitempty"`
	Chunks     int               `json:"chunks"`
	Status     DocumentStatus    `json:"status,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}
